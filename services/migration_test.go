package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csvtoplane/api"
	"csvtoplane/config"
	"csvtoplane/models"
)

func newTestService(t *testing.T, tracker *fakeTracker, tasks string) (*MigrationService, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ProjectName:         "Roadmap",
		TasksCSV:            filepath.Join(dir, "datas.csv"),
		ResultCSV:           filepath.Join(dir, "import_result.csv"),
		OnUnresolvedState:   config.UnresolvedStateFallback,
		OnMalformedRow:      config.MalformedRowSkip,
		OnStateCatalogError: config.CatalogErrorAbort,
		RetryMaxAttempts:    3,
		RetryDefaultWait:    5 * time.Second,
		RetryBuffer:         time.Second,
	}
	if tasks != "" {
		require.NoError(t, os.WriteFile(cfg.TasksCSV, []byte(tasks), 0o644))
	}

	service := NewMigrationService(cfg, tracker, NewCSVProcessor(cfg), nil)
	service.Mutator().WithTimer(newRecordingTimer())
	return service, cfg
}

func TestImportIssuesWritesResult(t *testing.T) {
	tracker := newFakeTracker()
	service, cfg := newTestService(t, tracker, sampleTasks)

	summary, err := service.ImportIssues(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.CreatedCount())
	require.Len(t, tracker.createCalls, 3)
	assert.Equal(t, "st-backlog", tracker.createCalls[0].StateID)
	assert.Equal(t, models.PriorityUrgent, tracker.createCalls[0].Priority)
	assert.Equal(t, "2024-06-13", tracker.createCalls[0].TargetDate)
	assert.Equal(t, "st-todo", tracker.createCalls[1].StateID)
	assert.Equal(t, tracker.created[0].ID, tracker.createCalls[1].ParentRemoteID)
	assert.Equal(t, "st-done", tracker.createCalls[2].StateID)

	mapping, err := NewCSVProcessor(cfg).LoadIssueMapping()
	require.NoError(t, err)
	assert.Equal(t, tracker.created[0].ID, mapping["86a1"])
	assert.Len(t, mapping, 3)
}

func TestImportIssuesStopsOnConnectFailure(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		tracker := newFakeTracker()
		tracker.authErr = &api.APIError{Op: "認証確認", StatusCode: 401}
		service, _ := newTestService(t, tracker, sampleTasks)

		_, err := service.ImportIssues(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrAuth))
		assert.Empty(t, tracker.createCalls)
	})

	t.Run("unknown project", func(t *testing.T) {
		tracker := newFakeTracker()
		tracker.project.Name = "Other"
		service, _ := newTestService(t, tracker, sampleTasks)

		_, err := service.ImportIssues(context.Background())
		require.Error(t, err)
		assert.Empty(t, tracker.createCalls)
	})

	t.Run("missing csv", func(t *testing.T) {
		tracker := newFakeTracker()
		service, _ := newTestService(t, tracker, "")

		_, err := service.ImportIssues(context.Background())
		require.Error(t, err)
		assert.Empty(t, tracker.createCalls)
	})
}

func TestPurgeIssues(t *testing.T) {
	tracker := newFakeTracker()
	tracker.issues = []models.Issue{{ID: "i-1", Name: "one"}, {ID: "i-2", Name: "two"}, {ID: "i-3", Name: "three"}}
	tracker.deleteErrs["i-2"] = []error{&api.APIError{Op: "イシュー削除", StatusCode: 404}}
	service, _ := newTestService(t, tracker, "")

	summary, err := service.PurgeIssues(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Deleted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"i-1", "i-3"}, tracker.deleted)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "i-2")
}

func TestRunMigrationPurgeFailureStopsImport(t *testing.T) {
	tracker := newFakeTracker()
	tracker.issues = []models.Issue{{ID: "i-1"}}
	tracker.deleteErrs["i-1"] = []error{&api.APIError{Op: "イシュー削除", StatusCode: 500}}
	service, _ := newTestService(t, tracker, sampleTasks)

	_, err := service.RunMigration(context.Background(), true)
	require.Error(t, err)
	assert.Empty(t, tracker.createCalls)
}

func TestRunMigration(t *testing.T) {
	tracker := newFakeTracker()
	tracker.issues = []models.Issue{{ID: "old"}}
	service, _ := newTestService(t, tracker, sampleTasks)

	summary, err := service.RunMigration(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"old"}, tracker.deleted)
	assert.Equal(t, 3, summary.CreatedCount())
}

func TestUpdateIssue(t *testing.T) {
	tracker := newFakeTracker()
	service, cfg := newTestService(t, tracker, "")

	summary := &models.ImportSummary{Total: 1}
	summary.Add(models.Outcome{LocalID: "86a1", Title: "A", Kind: models.OutcomeCreated, RemoteID: "remote-a"})
	require.NoError(t, NewCSVProcessor(cfg).WriteImportResult(summary))

	t.Run("local id via result csv", func(t *testing.T) {
		issue, err := service.UpdateIssue(context.Background(), UpdateRequest{
			Ref:          "86a1",
			Title:        "Renamed",
			StatusLabel:  "taches terminées",
			PriorityCode: "3",
		})
		require.NoError(t, err)
		assert.Equal(t, "remote-a", issue.ID)
		assert.Equal(t, map[string]interface{}{
			"name":     "Renamed",
			"priority": "medium",
			"state":    "st-done",
		}, tracker.updates["remote-a"])
	})

	t.Run("remote id", func(t *testing.T) {
		_, err := service.UpdateIssue(context.Background(), UpdateRequest{Ref: "remote-b", PriorityCode: "9"})
		require.NoError(t, err)
		assert.Equal(t, "none", tracker.updates["remote-b"]["priority"])
	})

	t.Run("nothing to update", func(t *testing.T) {
		_, err := service.UpdateIssue(context.Background(), UpdateRequest{Ref: "86a1"})
		require.Error(t, err)
	})
}

func TestValidateCSV(t *testing.T) {
	tasks := "id;name;status;dueDate;startDate;parentId;assignees;priority;timeEstimated\n" +
		"a;A;taches en planning;;;null;[Alice];1;\n" +
		"b;B;statut inconnu;;;z;[];7;\n" +
		"broken;row\n" +
		"a;A again;taches terminées;;;null;[];2;\n"
	service, _ := newTestService(t, newFakeTracker(), tasks)

	report, err := service.ValidateCSV()
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 2, report.Roots)
	assert.Equal(t, 1, report.Children)
	assert.Len(t, report.Malformed, 1)
	assert.Equal(t, []string{"b"}, ids(report.DanglingParents))
	assert.Equal(t, []string{"a"}, report.DuplicateIDs)
	assert.Equal(t, []string{"statut inconnu"}, report.UnknownStatuses)
	assert.Equal(t, []string{"Alice"}, report.UnknownAssignees)
	assert.Equal(t, []string{"7"}, report.UnknownPriorities)
}

func TestValidateCSVClean(t *testing.T) {
	service, _ := newTestService(t, newFakeTracker(), sampleTasks)

	report, err := service.ValidateCSV()
	require.NoError(t, err)
	// sampleTasks の担当者は変換表に無い
	assert.Equal(t, []string{"Alice", "Bob"}, report.UnknownAssignees)
	assert.Empty(t, report.DanglingParents)
	assert.Empty(t, report.UnknownStatuses)
}
