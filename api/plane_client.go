package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"csvtoplane/config"
	"csvtoplane/models"
)

// DefaultPerPage は一覧取得時の1ページあたりの件数です
const DefaultPerPage = 100

const maxResponseSize = 10 * 1024 * 1024

// PlaneClient はPlane APIとのやり取りを処理します
type PlaneClient struct {
	config    *config.Config
	client    *http.Client
	projectID string
	now       func() time.Time
}

// NewPlaneClient は新しいPlaneクライアントを作成します
func NewPlaneClient(cfg *config.Config) *PlaneClient {
	return &PlaneClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		now:    time.Now,
	}
}

// WithProjectID は指定したプロジェクトを対象とするクライアントを返します
func (p *PlaneClient) WithProjectID(projectID string) *PlaneClient {
	clone := *p
	clone.projectID = projectID
	return &clone
}

// ProjectID は対象プロジェクトのIDを返します
func (p *PlaneClient) ProjectID() string {
	return p.projectID
}

func (p *PlaneClient) workspaceURL(path string) string {
	return fmt.Sprintf("%s/api/v1/workspaces/%s%s", p.config.PlaneURL, url.PathEscape(p.config.WorkspaceSlug), path)
}

func (p *PlaneClient) projectURL(path string) (string, error) {
	if p.projectID == "" {
		return "", fmt.Errorf("プロジェクトが解決されていません")
	}
	return p.workspaceURL(fmt.Sprintf("/projects/%s%s", url.PathEscape(p.projectID), path)), nil
}

// do はリクエストを送信し、2xxの場合はレスポンスボディを返します
func (p *PlaneClient) do(ctx context.Context, op, method, u string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("JSONエンコードエラー: %w", err)
		}
		body = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成エラー: %w", err)
	}

	req.Header.Set("X-API-Key", p.config.PlaneAPIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, networkError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), p.now())
		}
		return nil, apiErr
	}

	return respBody, nil
}

// CheckAuth はAPIキーの認証をチェックします
func (p *PlaneClient) CheckAuth(ctx context.Context) error {
	u := fmt.Sprintf("%s/api/v1/users/me/", p.config.PlaneURL)
	if _, err := p.do(ctx, "認証確認", http.MethodGet, u, nil); err != nil {
		return err
	}
	return nil
}

// ListProjects はワークスペースのプロジェクト一覧を取得します
func (p *PlaneClient) ListProjects(ctx context.Context) ([]models.Project, error) {
	body, err := p.do(ctx, "プロジェクト一覧取得", http.MethodGet, p.workspaceURL("/projects/"), nil)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Project](body)
}

// ResolveProject はプロジェクト名 (大文字小文字は区別しない) からプロジェクトを探し、
// 以降のリクエストの対象に設定します
func (p *PlaneClient) ResolveProject(ctx context.Context, name string) (*models.Project, error) {
	projects, err := p.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	for i := range projects {
		project := projects[i]
		if !strings.EqualFold(strings.TrimSpace(project.Name), name) {
			continue
		}
		if _, err := uuid.Parse(project.ID); err != nil {
			return nil, fmt.Errorf("プロジェクト %q のIDが不正です: %q", name, project.ID)
		}
		p.projectID = project.ID
		return &project, nil
	}

	return nil, fmt.Errorf("プロジェクト %q が見つかりません (%d 件中)", name, len(projects))
}

// ListStates はプロジェクトのステート一覧を取得します
func (p *PlaneClient) ListStates(ctx context.Context) ([]models.State, error) {
	u, err := p.projectURL("/states/")
	if err != nil {
		return nil, err
	}

	body, err := p.do(ctx, "ステート一覧取得", http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[models.State](body)
}

// CreateIssue はPlaneイシューを作成します
func (p *PlaneClient) CreateIssue(ctx context.Context, issue models.IssuePayload) (*models.Issue, error) {
	u, err := p.projectURL("/issues/")
	if err != nil {
		return nil, err
	}

	// 担当者が空でないことを確認
	assignees := issue.AssigneeIDs
	if assignees == nil {
		assignees = []string{}
	}

	payload := map[string]interface{}{
		"name":             issue.Title,
		"description_html": descriptionHTML(issue.Description),
		"priority":         string(issue.Priority),
		"assignees":        assignees,
	}
	if issue.StateID != "" {
		payload["state"] = issue.StateID
	}
	if issue.ParentRemoteID != "" {
		payload["parent"] = issue.ParentRemoteID
	}
	if issue.StartDate != "" {
		payload["start_date"] = issue.StartDate
	}
	if issue.TargetDate != "" {
		payload["target_date"] = issue.TargetDate
	}

	body, err := p.do(ctx, "イシュー作成", http.MethodPost, u, payload)
	if err != nil {
		return nil, err
	}

	var created models.Issue
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("イシューIDが見つかりません")
	}

	return &created, nil
}

// ListIssues はイシュー一覧を1ページ分取得します (pageは1始まり)
func (p *PlaneClient) ListIssues(ctx context.Context, page, perPage int) ([]models.Issue, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	u, err := p.projectURL("/issues/")
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("cursor", fmt.Sprintf("%d:%d:0", perPage, page-1))

	body, err := p.do(ctx, "イシュー一覧取得", http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return decodeList[models.Issue](body)
}

// ListAllIssues はすべてのページのイシューを取得します
func (p *PlaneClient) ListAllIssues(ctx context.Context, perPage int) ([]models.Issue, error) {
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	var all []models.Issue
	seen := make(map[string]bool)
	for page := 1; ; page++ {
		issues, err := p.ListIssues(ctx, page, perPage)
		if err != nil {
			return nil, fmt.Errorf("ページ %d の取得に失敗: %w", page, err)
		}

		added := 0
		for _, issue := range issues {
			if seen[issue.ID] {
				continue
			}
			seen[issue.ID] = true
			all = append(all, issue)
			added++
		}

		// ページ指定を無視して全件を返すサーバーもあるため、新規が無ければ終了
		if len(issues) < perPage || added == 0 {
			break
		}
	}

	return all, nil
}

// UpdateIssue はイシューを部分更新します
func (p *PlaneClient) UpdateIssue(ctx context.Context, issueID string, patch map[string]interface{}) (*models.Issue, error) {
	u, err := p.projectURL(fmt.Sprintf("/issues/%s/", url.PathEscape(issueID)))
	if err != nil {
		return nil, err
	}

	body, err := p.do(ctx, "イシュー更新", http.MethodPatch, u, patch)
	if err != nil {
		return nil, err
	}

	var updated models.Issue
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("レスポンス解析エラー: %w", err)
	}
	return &updated, nil
}

// DeleteIssue はイシューを削除します
func (p *PlaneClient) DeleteIssue(ctx context.Context, issueID string) error {
	u, err := p.projectURL(fmt.Sprintf("/issues/%s/", url.PathEscape(issueID)))
	if err != nil {
		return err
	}

	_, err = p.do(ctx, "イシュー削除", http.MethodDelete, u, nil)
	return err
}

// descriptionHTML はプレーンテキストの説明をPlaneのHTML形式に変換します
func descriptionHTML(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "<p></p>"
	}

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return b.String()
}
