package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvtoplane/config"
	"csvtoplane/models"
)

const sampleTasks = `id;name;status;dueDate;startDate;parentId;assignees;priority;timeEstimated
86a1;Préparer le lancement;taches en planning;1718236800000;null;null;[Alice,Bob];1;3600000
86a2;Rédiger la doc;taches à completer;;2024-06-01;86a1;[Alice];null;null
86a3;Sans assignés;taches terminées;null;null;86a1;;4;
`

func newTestProcessor(t *testing.T, policy string) *CSVProcessor {
	t.Helper()
	dir := t.TempDir()
	return NewCSVProcessor(&config.Config{
		TasksCSV:       filepath.Join(dir, "datas.csv"),
		ResultCSV:      filepath.Join(dir, "import_result.csv"),
		OnMalformedRow: policy,
	})
}

func TestParseTasks(t *testing.T) {
	p := newTestProcessor(t, config.MalformedRowSkip)

	result, err := p.ParseTasks(strings.NewReader(sampleTasks))
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Empty(t, result.Malformed)

	first := result.Records[0]
	assert.Equal(t, "86a1", first.LocalID)
	assert.Equal(t, "Préparer le lancement", first.Title)
	assert.Equal(t, "taches en planning", first.StatusLabel)
	assert.Equal(t, "1718236800000", first.DueDate)
	assert.Equal(t, "", first.StartDate)
	assert.True(t, first.IsRoot())
	assert.Equal(t, []string{"Alice", "Bob"}, first.AssigneeNames)
	assert.Equal(t, "1", first.PriorityCode)
	assert.Equal(t, "3600000", first.Estimate)
	assert.Equal(t, 2, first.Line)

	second := result.Records[1]
	assert.Equal(t, "86a1", second.ParentLocalID)
	assert.Equal(t, "", second.DueDate)
	assert.Equal(t, "2024-06-01", second.StartDate)
	assert.Equal(t, "", second.PriorityCode)
	assert.Equal(t, "", second.Estimate)

	third := result.Records[2]
	assert.Equal(t, []string{}, third.AssigneeNames)
	assert.Equal(t, "", third.Estimate)
}

func TestParseTasksWithoutHeader(t *testing.T) {
	p := newTestProcessor(t, config.MalformedRowSkip)

	result, err := p.ParseTasks(strings.NewReader("x1;Task;taches en planning;;;null;[];2;\n"))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "x1", result.Records[0].LocalID)
	assert.Equal(t, 1, result.Records[0].Line)
}

func TestParseTasksKeepsTaskWithIDNamedID(t *testing.T) {
	p := newTestProcessor(t, config.MalformedRowSkip)

	input := "id;Tâche nommée id;taches en planning;;;null;[];2;\n" +
		"x2;Enfant;taches à completer;;;id;[];3;\n"
	result, err := p.ParseTasks(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, "id", result.Records[0].LocalID)
	assert.Equal(t, "Tâche nommée id", result.Records[0].Title)
	assert.Equal(t, 1, result.Records[0].Line)
	assert.Equal(t, "id", result.Records[1].ParentLocalID)
}

func TestIsHeaderRow(t *testing.T) {
	tests := []struct {
		name string
		row  []string
		want bool
	}{
		{name: "header", row: []string{"id", "name", "status", "dueDate"}, want: true},
		{name: "header with bom", row: []string{"\ufeffID", "Name", "Status"}, want: true},
		{name: "task named id", row: []string{"id", "Tâche", "taches en planning"}, want: false},
		{name: "too short", row: []string{"id", "name"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isHeaderRow(tt.row))
		})
	}
}

func TestParseTasksMalformedRows(t *testing.T) {
	input := "id;name;status;dueDate;startDate;parentId;assignees;priority;timeEstimated\n" +
		"a;ok;taches en planning;;;null;[];1;\n" +
		"b;too;few\n" +
		";no id;taches en planning;;;null;[];1;\n" +
		"c;ok too;taches en planning;;;a;[];1;\n"

	t.Run("skip", func(t *testing.T) {
		p := newTestProcessor(t, config.MalformedRowSkip)
		result, err := p.ParseTasks(strings.NewReader(input))
		require.NoError(t, err)

		require.Len(t, result.Records, 2)
		assert.Equal(t, "a", result.Records[0].LocalID)
		assert.Equal(t, "c", result.Records[1].LocalID)

		require.Len(t, result.Malformed, 2)
		assert.Equal(t, 3, result.Malformed[0].Line)
		assert.Equal(t, 4, result.Malformed[1].Line)
		assert.True(t, errors.Is(result.Malformed[0], models.ErrParse))
	})

	t.Run("abort", func(t *testing.T) {
		p := newTestProcessor(t, config.MalformedRowAbort)
		_, err := p.ParseTasks(strings.NewReader(input))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrParse))
		assert.Contains(t, err.Error(), "行 3")
	})
}

func TestParseAssignees(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "[Alice,Bob]", want: []string{"Alice", "Bob"}},
		{in: " [ Alice , 'Bob' ,] ", want: []string{"Alice", "Bob"}},
		{in: "[]", want: []string{}},
		{in: "", want: []string{}},
		{in: "null", want: []string{}},
		{in: "[Alice", want: []string{}},
		{in: "Alice,Bob", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAssignees(tt.in))
		})
	}
}

func TestOptionalField(t *testing.T) {
	assert.Equal(t, "", optionalField("null"))
	assert.Equal(t, "", optionalField(" NULL "))
	assert.Equal(t, "", optionalField(""))
	assert.Equal(t, "42", optionalField(" 42 "))
}

func TestReadTasksCSV(t *testing.T) {
	p := newTestProcessor(t, config.MalformedRowSkip)
	require.NoError(t, os.WriteFile(p.config.TasksCSV, []byte("\ufeff"+sampleTasks), 0o644))

	result, err := p.ReadTasksCSV()
	require.NoError(t, err)
	assert.Len(t, result.Records, 3)

	p.config.TasksCSV = filepath.Join(t.TempDir(), "missing.csv")
	_, err = p.ReadTasksCSV()
	require.Error(t, err)
}

func TestWriteAndLoadIssueMapping(t *testing.T) {
	p := newTestProcessor(t, config.MalformedRowSkip)

	summary := &models.ImportSummary{Total: 3}
	summary.Add(models.Outcome{LocalID: "a", Title: "A, with comma", Kind: models.OutcomeCreated, RemoteID: "r-a"})
	summary.Add(models.Outcome{LocalID: "b", Title: "B", Kind: models.OutcomeSkippedMissingParent, Reason: "missing_parent"})
	summary.Add(models.Outcome{LocalID: "c", Title: "C", Kind: models.OutcomeCreated, RemoteID: "r-c"})

	require.NoError(t, p.WriteImportResult(summary))

	data, err := os.ReadFile(p.config.ResultCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "local_id,title,remote_id,outcome,reason\n"))
	assert.Contains(t, string(data), `"A, with comma"`)

	mapping, err := p.LoadIssueMapping()
	require.NoError(t, err)
	assert.Equal(t, models.IssueMapping{"a": "r-a", "c": "r-c"}, mapping)
}

func TestLoadIssueMappingMissingColumns(t *testing.T) {
	p := newTestProcessor(t, config.MalformedRowSkip)
	require.NoError(t, os.WriteFile(p.config.ResultCSV, []byte("foo,bar\n1,2\n"), 0o644))

	_, err := p.LoadIssueMapping()
	require.Error(t, err)
}
