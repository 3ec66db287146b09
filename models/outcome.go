package models

// OutcomeKind はレコード単位のインポート結果の種類です
type OutcomeKind string

const (
	OutcomeCreated                OutcomeKind = "created"
	OutcomeSkippedMissingParent   OutcomeKind = "skipped_missing_parent"
	OutcomeSkippedUnmappableState OutcomeKind = "skipped_unmappable_state"
	OutcomeFailed                 OutcomeKind = "failed"
)

// Outcome は1レコードのインポート結果です
type Outcome struct {
	LocalID  string
	Title    string
	Kind     OutcomeKind
	RemoteID string // Created のときのみ
	Reason   string // エラー種別 (Failed / Skipped のとき)
	Err      error
}

// Skipped はスキップ扱いの結果かどうかを返します
func (o Outcome) Skipped() bool {
	return o.Kind == OutcomeSkippedMissingParent || o.Kind == OutcomeSkippedUnmappableState
}

// CreatedIssue はサマリーに載せる作成済みイシューです
type CreatedIssue struct {
	LocalID  string
	Title    string
	RemoteID string
}

// ImportSummary は1回のインポート実行のまとめです
type ImportSummary struct {
	Total    int
	Created  []CreatedIssue
	Skipped  int
	Failed   int
	Outcomes []Outcome // 処理順 (ルート → 子)
	Degraded bool      // ステートカタログなしで実行した場合true
}

// CreatedCount は作成に成功した件数です
func (s *ImportSummary) CreatedCount() int {
	return len(s.Created)
}

// Failures は失敗・スキップした結果のみを返します
func (s *ImportSummary) Failures() []Outcome {
	var result []Outcome
	for _, o := range s.Outcomes {
		if o.Kind != OutcomeCreated {
			result = append(result, o)
		}
	}
	return result
}

// Add は結果を追加し、カウンタを更新します
func (s *ImportSummary) Add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch {
	case o.Kind == OutcomeCreated:
		s.Created = append(s.Created, CreatedIssue{LocalID: o.LocalID, Title: o.Title, RemoteID: o.RemoteID})
	case o.Skipped():
		s.Skipped++
	default:
		s.Failed++
	}
}
