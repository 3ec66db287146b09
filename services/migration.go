package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"csvtoplane/config"
	"csvtoplane/models"
	"csvtoplane/utils"
)

// PlaneAPI はサービスが利用するPlane APIの操作です
type PlaneAPI interface {
	IssueMutator
	StateLister
	CheckAuth(ctx context.Context) error
	ResolveProject(ctx context.Context, name string) (*models.Project, error)
	ListAllIssues(ctx context.Context, perPage int) ([]models.Issue, error)
}

// MigrationService はCSVからPlaneへのタスク移行を処理します
type MigrationService struct {
	config  *config.Config
	client  PlaneAPI
	csvProc *CSVProcessor
	vocab   *config.Vocabulary
	mutator *Mutator
}

// NewMigrationService は新しい移行サービスを作成します
func NewMigrationService(cfg *config.Config, client PlaneAPI, csvProc *CSVProcessor, vocab *config.Vocabulary) *MigrationService {
	if vocab == nil {
		vocab = config.DefaultVocabulary()
	}
	return &MigrationService{
		config:  cfg,
		client:  client,
		csvProc: csvProc,
		vocab:   vocab,
		mutator: NewMutator(client, RetryPolicyFromConfig(cfg)),
	}
}

// Mutator はサービスが使うMutatorを返します
func (m *MigrationService) Mutator() *Mutator {
	return m.mutator
}

// Connect は認証を確認し、対象プロジェクトを名前から解決します
func (m *MigrationService) Connect(ctx context.Context) (*models.Project, error) {
	if err := m.client.CheckAuth(ctx); err != nil {
		return nil, fmt.Errorf("Plane認証エラー: %w", err)
	}
	utils.LogInfo("Plane認証成功")

	project, err := m.client.ResolveProject(ctx, m.config.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト解決エラー: %w", err)
	}
	utils.LogInfo("対象プロジェクト: %s (%s)", project.Name, project.ID)
	return project, nil
}

// ImportIssues はタスクCSVを読み込み、Planeにイシューを作成して結果CSVを書き込みます
func (m *MigrationService) ImportIssues(ctx context.Context) (*models.ImportSummary, error) {
	parsed, err := m.csvProc.ReadTasksCSV()
	if err != nil {
		return nil, fmt.Errorf("タスクCSV読み込みエラー: %w", err)
	}

	if _, err := m.Connect(ctx); err != nil {
		return nil, err
	}

	importer := NewImporter(m.client, m.mutator, m.vocab, ImportOptionsFromConfig(m.config))
	summary, err := importer.Run(ctx, parsed.Records)
	if err != nil {
		return nil, err
	}

	if err := m.csvProc.WriteImportResult(summary); err != nil {
		// イシューは作成済みなので結果は返す
		utils.LogError("結果CSVの書き込みに失敗しました: %v", err)
	}

	LogSummary(summary)
	return summary, nil
}

// LogSummary はインポート結果のまとめをログに出力します
func LogSummary(summary *models.ImportSummary) {
	utils.LogInfo("==== インポート結果 ====")
	utils.LogInfo("合計: %d, 作成: %d, スキップ: %d, 失敗: %d",
		summary.Total, summary.CreatedCount(), summary.Skipped, summary.Failed)
	if summary.Degraded {
		utils.LogWarn("ステート一覧なしで実行しました (ステートキーをそのまま使用)")
	}
	for _, c := range summary.Created {
		utils.LogInfo("作成: [%s] %s → %s", c.LocalID, c.Title, c.RemoteID)
	}
	for _, o := range summary.Failures() {
		utils.LogWarn("%s: [%s] %s (%v)", o.Kind, o.LocalID, o.Title, o.Err)
	}
}

// PurgeSummary は一括削除の結果です
type PurgeSummary struct {
	Total   int
	Deleted int
	Failed  int
	Errors  []string
}

// PurgeIssues はプロジェクトのイシューをすべて削除します
func (m *MigrationService) PurgeIssues(ctx context.Context) (*PurgeSummary, error) {
	startTime := time.Now()
	defer utils.TrackTime(startTime, "イシュー削除")

	if _, err := m.Connect(ctx); err != nil {
		return nil, err
	}

	issues, err := m.client.ListAllIssues(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("イシュー一覧取得エラー: %w", err)
	}

	utils.LogInfo("イシューの削除を開始します: %d 件", len(issues))

	summary := &PurgeSummary{Total: len(issues)}
	for _, issue := range issues {
		result := m.mutator.Delete(ctx, issue.ID)
		if !result.Succeeded() {
			utils.LogError("イシュー %s の削除に失敗: %v", issue.ID, result.Err)
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", issue.ID, result.Err))
			continue
		}
		utils.LogInfo("イシュー %s (%s) を削除しました", issue.ID, issue.Name)
		summary.Deleted++
	}

	utils.LogInfo("イシューの削除が完了しました: 合計=%d, 成功=%d, 失敗=%d", summary.Total, summary.Deleted, summary.Failed)
	return summary, nil
}

// ListStates はプロジェクトのステート一覧を取得します
func (m *MigrationService) ListStates(ctx context.Context) ([]models.State, error) {
	if _, err := m.Connect(ctx); err != nil {
		return nil, err
	}
	return m.client.ListStates(ctx)
}

// UpdateRequest はイシュー更新の指定です。空の項目は変更しません
type UpdateRequest struct {
	Ref          string // ローカルID (結果CSVにあるもの) またはPlaneイシューID
	Title        string
	StatusLabel  string
	PriorityCode string
}

// UpdateIssue はローカルIDまたはPlaneイシューIDで指定したイシューを更新します
func (m *MigrationService) UpdateIssue(ctx context.Context, req UpdateRequest) (*models.Issue, error) {
	issueID := req.Ref
	if mapping, err := m.csvProc.LoadIssueMapping(); err == nil {
		if remoteID, ok := mapping[req.Ref]; ok {
			issueID = remoteID
		}
	} else {
		utils.LogDebug("結果CSVを読み込めないため、%s をPlaneイシューIDとして扱います: %v", req.Ref, err)
	}

	if _, err := m.Connect(ctx); err != nil {
		return nil, err
	}

	patch := map[string]interface{}{}
	if req.Title != "" {
		patch["name"] = req.Title
	}
	if req.PriorityCode != "" {
		patch["priority"] = string(NewTranslator(m.vocab, nil, m.config.OnUnresolvedState).Priority(req.PriorityCode))
	}
	if req.StatusLabel != "" {
		importer := NewImporter(m.client, m.mutator, m.vocab, ImportOptionsFromConfig(m.config))
		catalog, _, err := importer.LoadStateCatalog(ctx)
		if err != nil {
			return nil, err
		}
		translator := NewTranslator(m.vocab, catalog, m.config.OnUnresolvedState)
		key, err := translator.StateKey(req.StatusLabel)
		if err != nil {
			return nil, err
		}
		stateID, err := translator.ResolveState(key)
		if err != nil {
			return nil, err
		}
		patch["state"] = stateID
	}

	if len(patch) == 0 {
		return nil, fmt.Errorf("更新する項目が指定されていません")
	}

	result := m.mutator.Update(ctx, issueID, patch)
	if !result.Succeeded() {
		return nil, fmt.Errorf("イシュー %s の更新に失敗: %w", issueID, result.Err)
	}

	utils.LogInfo("イシュー %s を更新しました", issueID)
	return result.Issue, nil
}

// ValidationReport はネットワークを使わないCSVチェックの結果です
type ValidationReport struct {
	Records           int
	Roots             int
	Children          int
	Malformed         []*models.ParseError
	DanglingParents   []models.TaskRecord
	DuplicateIDs      []string
	UnknownStatuses   []string
	UnknownAssignees  []string
	UnknownPriorities []string
}

// OK は問題が見つからなかった場合にtrueを返します
func (r *ValidationReport) OK() bool {
	return len(r.Malformed) == 0 && len(r.DanglingParents) == 0 && len(r.DuplicateIDs) == 0 &&
		len(r.UnknownStatuses) == 0 && len(r.UnknownAssignees) == 0 && len(r.UnknownPriorities) == 0
}

// ValidateCSV はタスクCSVを読み込み、インポート前に問題を洗い出します
func (m *MigrationService) ValidateCSV() (*ValidationReport, error) {
	parsed, err := m.csvProc.ReadTasksCSV()
	if err != nil {
		return nil, err
	}
	return BuildValidationReport(parsed, m.vocab), nil
}

// BuildValidationReport は読み込み結果と変換表からレポートを作成します
func BuildValidationReport(parsed *ParseResult, vocab *config.Vocabulary) *ValidationReport {
	hierarchy := GroupByHierarchy(parsed.Records)
	report := &ValidationReport{
		Records:         len(parsed.Records),
		Roots:           len(hierarchy.Roots),
		Children:        len(hierarchy.Children),
		Malformed:       parsed.Malformed,
		DanglingParents: DanglingParents(parsed.Records),
		DuplicateIDs:    DuplicateIDs(parsed.Records),
	}

	statuses := map[string]bool{}
	assignees := map[string]bool{}
	priorities := map[string]bool{}
	for _, record := range parsed.Records {
		if _, ok := vocab.StatusKey(record.StatusLabel); !ok {
			statuses[record.StatusLabel] = true
		}
		for _, name := range record.AssigneeNames {
			if _, ok := vocab.AssigneeID(name); !ok {
				assignees[name] = true
			}
		}
		if code := record.PriorityCode; code != "" {
			if _, ok := vocab.Priorities[code]; !ok {
				priorities[code] = true
			}
		}
	}

	report.UnknownStatuses = sortedKeys(statuses)
	report.UnknownAssignees = sortedKeys(assignees)
	report.UnknownPriorities = sortedKeys(priorities)
	return report
}

// LogValidationReport はチェック結果をログに出力します
func LogValidationReport(report *ValidationReport) {
	utils.LogInfo("レコード: %d (ルート %d, 子 %d)", report.Records, report.Roots, report.Children)
	for _, e := range report.Malformed {
		utils.LogWarn("不正な行: %v", e)
	}
	for _, r := range report.DanglingParents {
		utils.LogWarn("存在しない親を参照: %s → %s", r.LocalID, r.ParentLocalID)
	}
	if len(report.DuplicateIDs) > 0 {
		utils.LogWarn("重複したID: %s", strings.Join(report.DuplicateIDs, ", "))
	}
	if len(report.UnknownStatuses) > 0 {
		utils.LogWarn("変換表に無いステータス: %s", strings.Join(report.UnknownStatuses, ", "))
	}
	if len(report.UnknownAssignees) > 0 {
		utils.LogWarn("変換表に無い担当者 (除外されます): %s", strings.Join(report.UnknownAssignees, ", "))
	}
	if len(report.UnknownPriorities) > 0 {
		utils.LogWarn("未知の優先度コード (none になります): %s", strings.Join(report.UnknownPriorities, ", "))
	}
	if report.OK() {
		utils.LogInfo("問題は見つかりませんでした")
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RunMigration は移行処理全体を実行します。purgeFirst の場合は先に既存イシューを削除します
func (m *MigrationService) RunMigration(ctx context.Context, purgeFirst bool) (*models.ImportSummary, error) {
	startTime := time.Now()
	defer utils.TrackTime(startTime, "移行処理全体")

	if purgeFirst {
		utils.LogInfo("既存イシューの削除を開始します")
		purge, err := m.PurgeIssues(ctx)
		if err != nil {
			return nil, err
		}
		if purge.Failed > 0 {
			return nil, fmt.Errorf("既存イシューの削除に %d 件失敗しました", purge.Failed)
		}
	}

	utils.LogInfo("Planeイシューのインポートを開始します")
	summary, err := m.ImportIssues(ctx)
	if err != nil {
		return nil, err
	}

	utils.LogInfo("移行処理が完了しました")
	return summary, nil
}
