package services

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"csvtoplane/api"
	"csvtoplane/models"
	"csvtoplane/utils"
)

func TestMain(m *testing.M) {
	utils.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeTracker はメモリ上で動くPlane APIの代わりです
type fakeTracker struct {
	mu sync.Mutex

	states    []models.State
	statesErr error
	project   *models.Project
	authErr   error

	// タイトルごとに、成功する前に返すエラーの列
	createErrs map[string][]error
	deleteErrs map[string][]error

	// 削除1回にかかる時間と、各呼び出しの開始・完了時刻
	deleteDelay time.Duration
	deleteSpans []callSpan

	createCalls []models.IssuePayload
	created     []models.Issue
	deleted     []string
	updates     map[string]map[string]interface{}
	issues      []models.Issue
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		states: []models.State{
			{ID: "st-backlog", Name: "Backlog", Group: "backlog"},
			{ID: "st-todo", Name: "Todo", Group: "unstarted"},
			{ID: "st-progress", Name: "In Progress", Group: "started"},
			{ID: "st-done", Name: "Done", Group: "completed"},
			{ID: "st-cancel", Name: "Cancelled", Group: "cancelled"},
		},
		project:    &models.Project{ID: uuid.NewString(), Name: "Roadmap"},
		createErrs: map[string][]error{},
		deleteErrs: map[string][]error{},
		updates:    map[string]map[string]interface{}{},
	}
}

func (f *fakeTracker) CheckAuth(ctx context.Context) error {
	return f.authErr
}

func (f *fakeTracker) ResolveProject(ctx context.Context, name string) (*models.Project, error) {
	if f.project == nil || f.project.Name != name {
		return nil, &api.APIError{Op: "プロジェクト一覧取得", StatusCode: 404}
	}
	return f.project, nil
}

func (f *fakeTracker) ListStates(ctx context.Context) ([]models.State, error) {
	if f.statesErr != nil {
		return nil, f.statesErr
	}
	return f.states, nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, issue models.IssuePayload) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls = append(f.createCalls, issue)
	if errs := f.createErrs[issue.Title]; len(errs) > 0 {
		f.createErrs[issue.Title] = errs[1:]
		return nil, errs[0]
	}

	created := models.Issue{
		ID:        uuid.NewString(),
		Name:      issue.Title,
		State:     issue.StateID,
		Priority:  string(issue.Priority),
		Parent:    issue.ParentRemoteID,
		Assignees: issue.AssigneeIDs,
	}
	f.created = append(f.created, created)
	f.issues = append(f.issues, created)
	return &created, nil
}

func (f *fakeTracker) UpdateIssue(ctx context.Context, issueID string, patch map[string]interface{}) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates[issueID] = patch
	return &models.Issue{ID: issueID}, nil
}

type callSpan struct {
	start time.Time
	end   time.Time
}

func (f *fakeTracker) DeleteIssue(ctx context.Context, issueID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	span := callSpan{start: time.Now()}
	if f.deleteDelay > 0 {
		time.Sleep(f.deleteDelay)
	}
	span.end = time.Now()
	f.deleteSpans = append(f.deleteSpans, span)

	if errs := f.deleteErrs[issueID]; len(errs) > 0 {
		f.deleteErrs[issueID] = errs[1:]
		return errs[0]
	}
	f.deleted = append(f.deleted, issueID)
	return nil
}

func (f *fakeTracker) ListAllIssues(ctx context.Context, perPage int) ([]models.Issue, error) {
	return f.issues, nil
}

func (f *fakeTracker) createdByTitle(title string) (models.Issue, bool) {
	for _, issue := range f.created {
		if issue.Name == title {
			return issue, true
		}
	}
	return models.Issue{}, false
}

// recordingTimer は待ち時間を記録してすぐに発火する backoff.Timer です
type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.c
}

func rateLimited(seconds int) error {
	d := time.Duration(seconds) * time.Second
	return &api.APIError{Op: "イシュー作成", StatusCode: 429, RetryAfter: &d}
}

func rateLimitedNoHint() error {
	return &api.APIError{Op: "イシュー作成", StatusCode: 429}
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		DefaultWait: 5 * time.Second,
		Buffer:      time.Second,
	}
}
