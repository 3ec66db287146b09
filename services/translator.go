package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"csvtoplane/config"
	"csvtoplane/models"
	"csvtoplane/utils"
)

// Translator はタスクの語彙をPlaneの語彙に変換します
type Translator struct {
	vocab        *config.Vocabulary
	catalog      models.StateCatalog
	onUnresolved string
}

// NewTranslator は変換表、ステートカタログ、未解決ステートの扱いを指定して変換器を作成します
func NewTranslator(vocab *config.Vocabulary, catalog models.StateCatalog, onUnresolved string) *Translator {
	if vocab == nil {
		vocab = config.DefaultVocabulary()
	}
	if onUnresolved == "" {
		onUnresolved = config.UnresolvedStateFallback
	}
	return &Translator{
		vocab:        vocab,
		catalog:      catalog,
		onUnresolved: onUnresolved,
	}
}

// Priority は優先度コードをPlaneの優先度に変換します。
// 未指定・"null"・未知のコードは none になります。
func (t *Translator) Priority(code string) models.Priority {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, "null") {
		return models.PriorityNone
	}
	if p, ok := t.vocab.Priorities[code]; ok {
		return p
	}
	for k, p := range t.vocab.Priorities {
		if strings.EqualFold(k, code) {
			return p
		}
	}
	utils.LogWarn("未知の優先度コード %q は none として扱います", code)
	return models.PriorityNone
}

// StateKey はステータスラベルをステートキーに変換します
func (t *Translator) StateKey(label string) (string, error) {
	if key, ok := t.vocab.StatusKey(label); ok {
		return key, nil
	}
	if t.vocab.DefaultStateKey != "" {
		utils.LogWarn("未知のステータス %q は %q として扱います", label, t.vocab.DefaultStateKey)
		return t.vocab.DefaultStateKey, nil
	}
	return "", fmt.Errorf("%w: ステータス %q に対応するステートがありません", models.ErrUnmappableState, label)
}

// ResolveState はステートキーをステートIDに変換します。
// カタログにキーが無い場合は別名 (グループ) でも探し、それでも無い場合は
// ポリシーに従ってキーをそのまま使うかUnmappableStateを返します。
func (t *Translator) ResolveState(key string) (string, error) {
	if id, ok := t.catalog.Lookup(key); ok {
		return id, nil
	}
	if alias, ok := t.vocab.Alias(key); ok {
		if id, ok := t.catalog.Lookup(alias); ok {
			return id, nil
		}
	}

	if t.onUnresolved == config.UnresolvedStateSkip {
		return "", fmt.Errorf("%w: ステートキー %q がカタログにありません", models.ErrUnmappableState, key)
	}
	return key, nil
}

// Assignees は表示名をユーザーIDに変換します。変換表に無い名前は除外します。
func (t *Translator) Assignees(names []string) []string {
	ids := []string{}
	seen := make(map[string]bool)
	for _, name := range names {
		id, ok := t.vocab.AssigneeID(name)
		if !ok {
			utils.LogDebug("担当者 %q は変換表に無いため除外します", name)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Translate はタスクをイシュー作成内容に変換します
func (t *Translator) Translate(record models.TaskRecord, parentRemoteID string) (models.IssuePayload, error) {
	key, err := t.StateKey(record.StatusLabel)
	if err != nil {
		return models.IssuePayload{}, err
	}
	stateID, err := t.ResolveState(key)
	if err != nil {
		return models.IssuePayload{}, err
	}

	title := record.Title
	if title == "" {
		title = "No Title"
	}

	return models.IssuePayload{
		Title:          title,
		Description:    describe(record),
		Priority:       t.Priority(record.PriorityCode),
		StateID:        stateID,
		AssigneeIDs:    t.Assignees(record.AssigneeNames),
		ParentRemoteID: parentRemoteID,
		StartDate:      normalizeDate(record.StartDate),
		TargetDate:     normalizeDate(record.DueDate),
	}, nil
}

// describe はイシューの説明文を組み立てます
func describe(record models.TaskRecord) string {
	lines := []string{"Source ID: " + record.LocalID}
	if record.StatusLabel != "" {
		lines = append(lines, "Status: "+record.StatusLabel)
	}
	if record.StartDate != "" {
		lines = append(lines, "Start date: "+displayDate(record.StartDate))
	}
	if record.DueDate != "" {
		lines = append(lines, "Due date: "+displayDate(record.DueDate))
	}
	if record.Estimate != "" {
		lines = append(lines, "Estimate: "+displayEstimate(record.Estimate))
	}
	if len(record.AssigneeNames) > 0 {
		lines = append(lines, "Assignees: "+strings.Join(record.AssigneeNames, ", "))
	}
	return strings.Join(lines, "\n")
}

// normalizeDate はUnixミリ秒・Unix秒・YYYY-MM-DD・RFC3339をYYYY-MM-DDに変換します。
// 解釈できない場合は空文字を返します。
func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n <= 0 {
			return ""
		}
		// 12桁以上はミリ秒とみなす
		if len(value) >= 12 {
			return time.UnixMilli(n).UTC().Format(time.DateOnly)
		}
		return time.Unix(n, 0).UTC().Format(time.DateOnly)
	}

	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.Format(time.DateOnly)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format(time.DateOnly)
	}
	return ""
}

func displayDate(value string) string {
	if d := normalizeDate(value); d != "" {
		return d
	}
	return value
}

// displayEstimate はミリ秒の見積もりを "1h30m0s" 形式にします
func displayEstimate(value string) string {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms < 0 {
		return value
	}
	return (time.Duration(ms) * time.Millisecond).String()
}
