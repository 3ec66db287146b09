package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"csvtoplane/models"
)

// Vocabulary はCSV側の語彙からPlane側の語彙への変換表です
type Vocabulary struct {
	// ステータスラベル → ステートキー
	Statuses map[string]string `yaml:"statuses"`
	// ステートキー → Planeのステートグループ (カタログに直接キーが無い場合に使う)
	StateAliases map[string]string `yaml:"state_aliases"`
	// 優先度コード → Planeの優先度
	Priorities map[string]models.Priority `yaml:"priorities"`
	// 担当者の表示名 → PlaneのユーザーID
	Assignees map[string]string `yaml:"assignees"`
	// ステータスラベルが変換表に無い場合のステートキー (空ならUnmappableState)
	DefaultStateKey string `yaml:"default_state_key"`
}

// DefaultVocabulary は組み込みの変換表を返します
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Statuses: map[string]string{
			"taches en planning": "backlog",
			"taches à completer": "to_do",
			"taches terminées":   "done",
			"taches annulées":    "cancelled",
		},
		StateAliases: map[string]string{
			"to_do":    models.GroupUnstarted,
			"done":     models.GroupCompleted,
			"canceled": models.GroupCancelled,
		},
		Priorities: map[string]models.Priority{
			"1": models.PriorityUrgent,
			"2": models.PriorityHigh,
			"3": models.PriorityMedium,
			"4": models.PriorityLow,
		},
		Assignees:       map[string]string{},
		DefaultStateKey: "backlog",
	}
}

// LoadVocabulary はYAMLファイルから変換表を読み込みます。
// パスが空の場合は組み込みの変換表を返します。
// ファイルに書かれていない項目は組み込みの値が使われます。
func LoadVocabulary(path string) (*Vocabulary, error) {
	vocab := DefaultVocabulary()
	if path == "" {
		return vocab, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("語彙ファイル読み込みエラー: %w", err)
	}

	var fileVocab Vocabulary
	if err := yaml.Unmarshal(data, &fileVocab); err != nil {
		return nil, fmt.Errorf("語彙ファイル解析エラー: %w", err)
	}

	if fileVocab.Statuses != nil {
		vocab.Statuses = fileVocab.Statuses
	}
	if fileVocab.StateAliases != nil {
		vocab.StateAliases = fileVocab.StateAliases
	}
	if fileVocab.Priorities != nil {
		vocab.Priorities = fileVocab.Priorities
	}
	if fileVocab.Assignees != nil {
		vocab.Assignees = fileVocab.Assignees
	}
	if fileVocab.DefaultStateKey != "" {
		vocab.DefaultStateKey = fileVocab.DefaultStateKey
	}

	if err := vocab.Validate(); err != nil {
		return nil, err
	}
	return vocab, nil
}

// Validate は優先度の値がPlaneの優先度かどうかを確認します
func (v *Vocabulary) Validate() error {
	for code, p := range v.Priorities {
		if !p.Valid() {
			return fmt.Errorf("優先度コード %q の値が不正です: %q", code, p)
		}
	}
	return nil
}

// StatusKey はステータスラベルに対応するステートキーを返します (大文字小文字・前後空白は無視)
func (v *Vocabulary) StatusKey(label string) (string, bool) {
	return lookupFold(v.Statuses, label)
}

// AssigneeID は表示名に対応するユーザーIDを返します (大文字小文字・前後空白は無視)
func (v *Vocabulary) AssigneeID(name string) (string, bool) {
	return lookupFold(v.Assignees, name)
}

// Alias はステートキーの別名 (グループ) を返します
func (v *Vocabulary) Alias(key string) (string, bool) {
	return lookupFold(v.StateAliases, key)
}

func lookupFold(m map[string]string, key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	if value, ok := m[key]; ok {
		return value, true
	}
	for k, value := range m {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return value, true
		}
	}
	return "", false
}
