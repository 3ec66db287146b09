package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"csvtoplane/config"
	"csvtoplane/models"
	"csvtoplane/utils"
)

// StateLister はステート一覧を取得するAPIです
type StateLister interface {
	ListStates(ctx context.Context) ([]models.State, error)
}

// ImportOptions はインポートのポリシーです
type ImportOptions struct {
	OnUnresolvedState   string // config.UnresolvedStateFallback / config.UnresolvedStateSkip
	OnStateCatalogError string // config.CatalogErrorAbort / config.CatalogErrorDegrade
}

// ImportOptionsFromConfig は設定からポリシーを取り出します
func ImportOptionsFromConfig(cfg *config.Config) ImportOptions {
	return ImportOptions{
		OnUnresolvedState:   cfg.OnUnresolvedState,
		OnStateCatalogError: cfg.OnStateCatalogError,
	}
}

// Importer はタスクをルート → 子の順にPlaneへ作成します
type Importer struct {
	states  StateLister
	mutator *Mutator
	vocab   *config.Vocabulary
	options ImportOptions
}

// NewImporter は新しいImporterを作成します
func NewImporter(states StateLister, mutator *Mutator, vocab *config.Vocabulary, options ImportOptions) *Importer {
	if vocab == nil {
		vocab = config.DefaultVocabulary()
	}
	return &Importer{
		states:  states,
		mutator: mutator,
		vocab:   vocab,
		options: options,
	}
}

// LoadStateCatalog はステート一覧を取得してカタログを作成します。
// 取得に失敗した場合、degradeポリシーなら空のカタログとdegraded=trueを返します。
func (i *Importer) LoadStateCatalog(ctx context.Context) (models.StateCatalog, bool, error) {
	states, err := i.states.ListStates(ctx)
	if err != nil {
		if i.options.OnStateCatalogError == config.CatalogErrorDegrade {
			utils.LogWarn("ステート一覧を取得できませんでした。ステートキーをそのまま使って続行します: %v", err)
			return models.StateCatalog{}, true, nil
		}
		return nil, false, fmt.Errorf("ステート一覧取得エラー: %w", err)
	}

	catalog := models.NewStateCatalog(states)
	utils.LogInfo("ステート一覧を取得しました: %d 件", len(states))
	return catalog, false, nil
}

// Run はタスクをインポートします。
// レコード単位のエラーは結果に記録して処理を続け、ステート一覧の取得失敗
// (abortポリシー) のみエラーとして返します。
func (i *Importer) Run(ctx context.Context, records []models.TaskRecord) (*models.ImportSummary, error) {
	startTime := time.Now()
	defer utils.TrackTime(startTime, "イシューインポート")

	catalog, degraded, err := i.LoadStateCatalog(ctx)
	if err != nil {
		return nil, err
	}

	translator := NewTranslator(i.vocab, catalog, i.options.OnUnresolvedState)
	hierarchy := GroupByHierarchy(records)

	summary := &models.ImportSummary{Total: len(records), Degraded: degraded}
	idMap := make(models.IssueMapping)
	seen := make(map[string]bool, len(records))

	utils.LogInfo("イシューのインポートを開始します: ルート %d 件, 子 %d 件", len(hierarchy.Roots), len(hierarchy.Children))

	// 1. ルートタスク
	for _, record := range hierarchy.Roots {
		summary.Add(i.importRecord(ctx, translator, record, "", idMap, seen))
	}

	// 2. 子タスク (親が作成済みのもののみ)
	for _, record := range hierarchy.Children {
		parentRemoteID, ok := idMap[record.ParentLocalID]
		if !ok {
			seen[record.LocalID] = true
			err := fmt.Errorf("%w: 親タスク %s が作成されていません", models.ErrMissingParent, record.ParentLocalID)
			utils.LogWarn("タスク %s をスキップします: %v", record.LocalID, err)
			summary.Add(newOutcome(record, models.OutcomeSkippedMissingParent, err))
			continue
		}
		summary.Add(i.importRecord(ctx, translator, record, parentRemoteID, idMap, seen))
	}

	utils.LogInfo("イシューのインポートが完了しました: 合計=%d, 成功=%d, スキップ=%d, 失敗=%d",
		summary.Total, summary.CreatedCount(), summary.Skipped, summary.Failed)
	return summary, nil
}

// importRecord は1件のタスクを変換して作成します
func (i *Importer) importRecord(ctx context.Context, translator *Translator, record models.TaskRecord, parentRemoteID string, idMap models.IssueMapping, seen map[string]bool) models.Outcome {
	if seen[record.LocalID] {
		err := fmt.Errorf("%w: ローカルID %s が重複しています", models.ErrDuplicateID, record.LocalID)
		utils.LogError("タスク %s の処理に失敗: %v", record.LocalID, err)
		return newOutcome(record, models.OutcomeFailed, err)
	}
	seen[record.LocalID] = true

	payload, err := translator.Translate(record, parentRemoteID)
	if err != nil {
		kind := models.OutcomeFailed
		if errors.Is(err, models.ErrUnmappableState) {
			kind = models.OutcomeSkippedUnmappableState
		}
		utils.LogWarn("タスク %s をスキップします: %v", record.LocalID, err)
		return newOutcome(record, kind, err)
	}

	result := i.mutator.Create(ctx, payload)
	if !result.Succeeded() {
		utils.LogError("タスク %s の処理に失敗: %v", record.LocalID, result.Err)
		return newOutcome(record, models.OutcomeFailed, result.Err)
	}

	idMap[record.LocalID] = result.Issue.ID
	utils.LogInfo("タスク %s の処理が完了: %s", record.LocalID, result.Issue.ID)

	outcome := newOutcome(record, models.OutcomeCreated, nil)
	outcome.RemoteID = result.Issue.ID
	return outcome
}

func newOutcome(record models.TaskRecord, kind models.OutcomeKind, err error) models.Outcome {
	return models.Outcome{
		LocalID: record.LocalID,
		Title:   record.Title,
		Kind:    kind,
		Reason:  models.KindOf(err),
		Err:     err,
	}
}
