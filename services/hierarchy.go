package services

import "csvtoplane/models"

// Hierarchy はタスクをルートと子に分けたものです
type Hierarchy struct {
	Roots    []models.TaskRecord
	Children []models.TaskRecord
}

// GroupByHierarchy は親の有無でタスクを分けます。各グループ内の順序は入力順のままです。
// 入力は変更しません。
func GroupByHierarchy(records []models.TaskRecord) Hierarchy {
	h := Hierarchy{
		Roots:    []models.TaskRecord{},
		Children: []models.TaskRecord{},
	}
	for _, record := range records {
		if record.IsRoot() {
			h.Roots = append(h.Roots, record)
		} else {
			h.Children = append(h.Children, record)
		}
	}
	return h
}

// DanglingParents はバッチ内に存在しない親を参照している子タスクを返します
func DanglingParents(records []models.TaskRecord) []models.TaskRecord {
	ids := make(map[string]bool, len(records))
	for _, record := range records {
		ids[record.LocalID] = true
	}

	var dangling []models.TaskRecord
	for _, record := range records {
		if !record.IsRoot() && (!ids[record.ParentLocalID] || record.ParentLocalID == record.LocalID) {
			dangling = append(dangling, record)
		}
	}
	return dangling
}

// DuplicateIDs はバッチ内で重複しているローカルIDを出現順に返します
func DuplicateIDs(records []models.TaskRecord) []string {
	counts := make(map[string]int, len(records))
	var duplicates []string
	for _, record := range records {
		counts[record.LocalID]++
		if counts[record.LocalID] == 2 {
			duplicates = append(duplicates, record.LocalID)
		}
	}
	return duplicates
}
