package models

import "strings"

// TaskRecord はCSVの1行から読み込んだタスクを表します
type TaskRecord struct {
	LocalID       string
	Title         string
	StatusLabel   string
	DueDate       string // 空文字は「なし」
	StartDate     string // 空文字は「なし」
	ParentLocalID string // 空文字はルートタスク
	AssigneeNames []string
	PriorityCode  string
	Estimate      string // 空文字は「なし」
	Line          int    // 入力ファイル上の行番号 (ログ用)
}

// IsRoot は親タスクを持たない場合にtrueを返します
func (t TaskRecord) IsRoot() bool {
	return t.ParentLocalID == ""
}

// Priority はPlaneの優先度を表します
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// Valid はPlaneが受け付ける優先度かどうかを返します
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow, PriorityNone:
		return true
	}
	return false
}

// StateGroup はPlaneのステートグループです
const (
	GroupBacklog   = "backlog"
	GroupUnstarted = "unstarted"
	GroupStarted   = "started"
	GroupCompleted = "completed"
	GroupCancelled = "cancelled"
)

// IssuePayload は変換後のイシュー (作成リクエストの内容) です
type IssuePayload struct {
	Title          string
	Description    string
	Priority       Priority
	StateID        string
	AssigneeIDs    []string
	ParentRemoteID string
	StartDate      string // YYYY-MM-DD、変換できない場合は空
	TargetDate     string // YYYY-MM-DD、変換できない場合は空
}

// State はPlaneのステートを表します
type State struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Group string `json:"group"`
}

// Issue はPlaneのイシューを表します
type Issue struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	State      string   `json:"state"`
	Priority   string   `json:"priority"`
	Parent     string   `json:"parent"`
	Assignees  []string `json:"assignees"`
	SequenceID int      `json:"sequence_id"`
}

// Project はPlaneのプロジェクトを表します
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// StateCatalog はステートキー (小文字) → ステートIDのマッピングです
type StateCatalog map[string]string

// NewStateCatalog はリモートのステート一覧からカタログを作成します。
// グループ名と、正規化したステート名 ("To Do" → "to_do") の両方で引けるようにします。
// 同じグループに複数のステートがある場合は先に現れたものを使います。
// ステート名のキーはグループのキーを上書きしません。
func NewStateCatalog(states []State) StateCatalog {
	catalog := make(StateCatalog)
	for _, s := range states {
		if g := NormalizeKey(s.Group); s.ID != "" && g != "" {
			if _, ok := catalog[g]; !ok {
				catalog[g] = s.ID
			}
		}
	}
	for _, s := range states {
		if n := NormalizeKey(s.Name); s.ID != "" && n != "" {
			if _, ok := catalog[n]; !ok {
				catalog[n] = s.ID
			}
		}
	}
	return catalog
}

// Lookup はキーを大文字小文字を区別せずに検索します
func (c StateCatalog) Lookup(key string) (string, bool) {
	if len(c) == 0 {
		return "", false
	}
	id, ok := c[NormalizeKey(key)]
	return id, ok
}

// NormalizeKey はキーを小文字化し、空白をアンダースコアにします
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

// IssueMapping はローカルID → PlaneイシューIDのマッピングです
type IssueMapping map[string]string
