package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"csvtoplane/config"
	"csvtoplane/models"
	"csvtoplane/utils"
)

// タスクCSVの列 (固定9列)
const (
	colID = iota
	colName
	colStatus
	colDueDate
	colStartDate
	colParentID
	colAssignees
	colPriority
	colTimeEstimated
	taskColumnCount
)

// 結果CSVのヘッダー
var resultHeaders = []string{"local_id", "title", "remote_id", "outcome", "reason"}

// CSVProcessor はCSVファイルの読み書きを担当します
type CSVProcessor struct {
	config *config.Config
}

// NewCSVProcessor は新しいCSVプロセッサーを作成します
func NewCSVProcessor(cfg *config.Config) *CSVProcessor {
	return &CSVProcessor{
		config: cfg,
	}
}

// ParseResult はタスクCSVの読み込み結果です
type ParseResult struct {
	Records   []models.TaskRecord
	Malformed []*models.ParseError // スキップした行
}

// ReadTasksCSV は設定されたタスクCSVを読み込みます
func (p *CSVProcessor) ReadTasksCSV() (*ParseResult, error) {
	utils.LogInfo("タスクCSVファイル '%s' を読み込みます", p.config.TasksCSV)

	file, err := os.Open(p.config.TasksCSV)
	if err != nil {
		return nil, fmt.Errorf("CSVオープンエラー: %w", err)
	}
	defer file.Close()

	result, err := p.ParseTasks(file)
	if err != nil {
		return nil, err
	}

	utils.LogInfo("タスクCSVを読み込みました: %d 件 (スキップ %d 行)", len(result.Records), len(result.Malformed))
	return result, nil
}

// ParseTasks はセミコロン区切りのタスク表を読み込みます。
// 先頭行が "id;name;status" で始まる場合はヘッダーとして読み飛ばします。
// 列数が合わない行はON_MALFORMED_ROWに従ってスキップまたは中断します。
func (p *CSVProcessor) ParseTasks(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	result := &ParseResult{}
	first := true

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}

		var parseErr *models.ParseError
		var csvErr *csv.ParseError
		switch {
		case errors.As(err, &csvErr):
			parseErr = &models.ParseError{Line: csvErr.Line, Reason: csvErr.Err.Error()}
		case err != nil:
			return nil, fmt.Errorf("CSV読み込みエラー: %w", err)
		}

		if parseErr == nil {
			isFirst := first
			first = false
			if isFirst && isHeaderRow(row) {
				utils.LogDebug("ヘッダー行を読み飛ばします: %v", row)
				continue
			}
			line, _ := reader.FieldPos(0)
			var record models.TaskRecord
			record, parseErr = parseTaskRow(row, line)
			if parseErr == nil {
				result.Records = append(result.Records, record)
				continue
			}
		}
		first = false

		if p.config.OnMalformedRow == config.MalformedRowAbort {
			return nil, fmt.Errorf("不正な行のため中断します: %w", parseErr)
		}
		utils.LogWarn("不正な行をスキップします: %v", parseErr)
		result.Malformed = append(result.Malformed, parseErr)
	}

	return result, nil
}

// isHeaderRow は先頭行が "id;name;status..." のヘッダーかどうかを判定します。
// idが "id" のタスクを誤って読み飛ばさないよう、name と status の列も確認します。
func isHeaderRow(row []string) bool {
	if len(row) <= colStatus {
		return false
	}
	id := strings.TrimPrefix(strings.TrimSpace(row[colID]), "\ufeff")
	return strings.EqualFold(id, "id") &&
		strings.EqualFold(strings.TrimSpace(row[colName]), "name") &&
		strings.EqualFold(strings.TrimSpace(row[colStatus]), "status")
}

// parseTaskRow は1行をTaskRecordに変換します
func parseTaskRow(row []string, line int) (models.TaskRecord, *models.ParseError) {
	if len(row) != taskColumnCount {
		return models.TaskRecord{}, &models.ParseError{
			Line:   line,
			Reason: fmt.Sprintf("列数が不一致 (期待: %d, 行: %d)", taskColumnCount, len(row)),
		}
	}

	id := strings.TrimPrefix(strings.TrimSpace(row[colID]), "\ufeff")
	if id == "" {
		return models.TaskRecord{}, &models.ParseError{Line: line, Reason: "id が空です"}
	}

	return models.TaskRecord{
		LocalID:       id,
		Title:         strings.TrimSpace(row[colName]),
		StatusLabel:   strings.TrimSpace(row[colStatus]),
		DueDate:       optionalField(row[colDueDate]),
		StartDate:     optionalField(row[colStartDate]),
		ParentLocalID: optionalField(row[colParentID]),
		AssigneeNames: parseAssignees(row[colAssignees]),
		PriorityCode:  optionalField(row[colPriority]),
		Estimate:      optionalField(row[colTimeEstimated]),
		Line:          line,
	}, nil
}

// optionalField は空文字と "null" を「なし」(空文字) として扱います
func optionalField(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "null") {
		return ""
	}
	return value
}

// parseAssignees は "[Alice,Bob]" 形式の担当者リストを分解します。
// 括弧が無い・閉じていない場合は空リストです。
func parseAssignees(value string) []string {
	value = strings.TrimSpace(value)
	if len(value) < 2 || value[0] != '[' || value[len(value)-1] != ']' {
		return []string{}
	}

	names := []string{}
	for _, name := range strings.Split(value[1:len(value)-1], ",") {
		name = strings.Trim(strings.TrimSpace(name), `"'`)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// WriteImportResult はインポート結果 (ローカルID → PlaneイシューID) をCSVに書き込みます
func (p *CSVProcessor) WriteImportResult(summary *models.ImportSummary) error {
	utils.LogInfo("結果CSVファイル '%s' を作成します", p.config.ResultCSV)

	file, err := os.Create(p.config.ResultCSV)
	if err != nil {
		return fmt.Errorf("CSVファイル作成エラー: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(resultHeaders); err != nil {
		return fmt.Errorf("ヘッダー書き込みエラー: %w", err)
	}

	for _, o := range summary.Outcomes {
		row := []string{o.LocalID, o.Title, o.RemoteID, string(o.Kind), o.Reason}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("行書き込みエラー: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV書き込み完了エラー: %w", err)
	}

	utils.LogInfo("CSV書き込み完了: %d 行", len(summary.Outcomes))
	return nil
}

// LoadIssueMapping は結果CSVからローカルID → PlaneイシューIDのマッピングを読み込みます
func (p *CSVProcessor) LoadIssueMapping() (models.IssueMapping, error) {
	utils.LogInfo("イシューマッピングを読み込んでいます...")

	file, err := os.Open(p.config.ResultCSV)
	if err != nil {
		return nil, fmt.Errorf("マッピングCSVオープンエラー: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("マッピングCSV読み込みエラー: %w", err)
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("マッピングデータが不足しています")
	}

	headers := records[0]
	idIndex, keyIndex, outcomeIndex := -1, -1, -1
	for i, header := range headers {
		switch header {
		case "local_id":
			idIndex = i
		case "remote_id":
			keyIndex = i
		case "outcome":
			outcomeIndex = i
		}
	}

	if idIndex == -1 || keyIndex == -1 {
		return nil, fmt.Errorf("マッピングに必要なカラムが見つかりません")
	}

	mapping := make(models.IssueMapping)
	for _, record := range records[1:] {
		if len(record) <= max(idIndex, keyIndex, outcomeIndex) {
			continue
		}
		if outcomeIndex >= 0 && record[outcomeIndex] != string(models.OutcomeCreated) {
			continue
		}

		localID := record[idIndex]
		remoteID := record[keyIndex]
		if localID != "" && remoteID != "" {
			mapping[localID] = remoteID
		}
	}

	utils.LogInfo("イシューマッピングをロードしました: %d 件", len(mapping))
	return mapping, nil
}
