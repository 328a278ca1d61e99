package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GitLabConfig holds connection settings for the GitLab adapter.
type GitLabConfig struct {
	BaseURL       string
	ProjectID     string
	Token         string
	DefaultBranch string
	Timeout       time.Duration
}

// DefaultGitLabConfig returns sensible defaults for a project.
func DefaultGitLabConfig(baseURL, projectID, token string) GitLabConfig {
	return GitLabConfig{
		BaseURL:       baseURL,
		ProjectID:     projectID,
		Token:         token,
		DefaultBranch: "main",
		Timeout:       20 * time.Second,
	}
}

// GitLab implements Store against the GitLab v4 REST API.
type GitLab struct {
	baseURL       string
	projectID     string
	token         string
	defaultBranch string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewGitLab creates a GitLab store adapter.
func NewGitLab(config GitLabConfig, logger *zap.Logger) *GitLab {
	if logger == nil {
		logger = zap.NewNop()
	}
	branch := config.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GitLab{
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		projectID:     config.ProjectID,
		token:         config.Token,
		defaultBranch: branch,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// DefaultBranch implements Store.
func (g *GitLab) DefaultBranch() string { return g.defaultBranch }

// projectURL builds an API URL under the project, e.g.
// <base>/api/v4/projects/<id>/repository/tree.
func (g *GitLab) projectURL(path string) string {
	return fmt.Sprintf("%s/api/v4/projects/%s/%s", g.baseURL, url.PathEscape(g.projectID), path)
}

// safeGet performs a GET and returns status 0 on network failure instead of
// an error. Read paths treat that as "resource absent" so an unreachable
// store never blocks test-case authoring.
func (g *GitLab) safeGet(ctx context.Context, rawURL string, query url.Values) (int, []byte) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		g.logger.Warn("failed to build store request", zap.String("url", rawURL), zap.Error(err))
		return 0, nil
	}
	req.Header.Set("PRIVATE-TOKEN", g.token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("store unreachable, treating as absent", zap.String("url", rawURL), zap.Error(err))
		return 0, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil
	}
	return resp.StatusCode, body
}

// post performs a JSON POST. Network failures on mutations are hard errors.
func (g *GitLab) post(ctx context.Context, rawURL string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal store request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build store request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read store response: %w", err)
	}
	return resp.StatusCode, body, nil
}

type treeItem struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ListCaseFiles implements Store.
func (g *GitLab) ListCaseFiles(ctx context.Context, app, area string) ([]string, error) {
	query := url.Values{}
	query.Set("path", CaseDir(app, area))
	query.Set("per_page", "100")

	status, body := g.safeGet(ctx, g.projectURL("repository/tree"), query)
	if status != http.StatusOK {
		return nil, nil
	}

	var items []treeItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, nil
	}

	var names []string
	for _, item := range items {
		if item.Type == "blob" && strings.HasSuffix(item.Name, ".md") {
			names = append(names, item.Name)
		}
	}
	return names, nil
}

// FileExists implements Store. Anything but a clean 200 is reported as
// absent; publishing would rather risk an extra allocation probe than fail
// on a flaky read.
func (g *GitLab) FileExists(ctx context.Context, path, ref string) (bool, error) {
	query := url.Values{}
	query.Set("ref", ref)

	status, _ := g.safeGet(ctx, g.projectURL("repository/files/"+url.PathEscape(path)), query)
	return status == http.StatusOK, nil
}

// BranchExists implements Store.
func (g *GitLab) BranchExists(ctx context.Context, branch string) (bool, error) {
	status, _ := g.safeGet(ctx, g.projectURL("repository/branches/"+url.PathEscape(branch)), nil)
	return status == http.StatusOK, nil
}

// CreateBranch implements Store.
func (g *GitLab) CreateBranch(ctx context.Context, branch, ref string) error {
	status, body, err := g.post(ctx, g.projectURL("repository/branches"), map[string]string{
		"branch": branch,
		"ref":    ref,
	})
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return nil
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "already exists"):
		g.logger.Debug("branch already exists", zap.String("branch", branch))
		return nil
	default:
		return &APIError{Status: status, Body: string(body)}
	}
}

type commitAction struct {
	Action   string `json:"action"`
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type commitRequest struct {
	Branch        string         `json:"branch"`
	CommitMessage string         `json:"commit_message"`
	Actions       []commitAction `json:"actions"`
}

// CommitFile implements Store. A create that fails because the file is
// already on the branch is retried once as an update.
func (g *GitLab) CommitFile(ctx context.Context, branch, path, content, message string) error {
	do := func(action string) (int, []byte, error) {
		return g.post(ctx, g.projectURL("repository/commits"), commitRequest{
			Branch:        branch,
			CommitMessage: message,
			Actions: []commitAction{{
				Action:   action,
				FilePath: path,
				Content:  content,
				Encoding: "text",
			}},
		})
	}

	status, body, err := do("create")
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusCreated {
		return nil
	}
	if status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "already exists") {
		g.logger.Debug("file already on branch, retrying commit as update",
			zap.String("branch", branch), zap.String("path", path))
		status, body, err = do("update")
		if err != nil {
			return err
		}
		if status == http.StatusOK || status == http.StatusCreated {
			return nil
		}
	}
	return &APIError{Status: status, Body: string(body)}
}

type mergeRequest struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	WebURL       string `json:"web_url"`
}

// OpenMergeRequest implements Store.
func (g *GitLab) OpenMergeRequest(ctx context.Context, sourceBranch, title, description string) (string, error) {
	status, body, err := g.post(ctx, g.projectURL("merge_requests"), map[string]string{
		"source_branch": sourceBranch,
		"target_branch": g.defaultBranch,
		"title":         title,
		"description":   description,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", &APIError{Status: status, Body: string(body)}
	}

	var mr mergeRequest
	if err := json.Unmarshal(body, &mr); err != nil {
		return "", fmt.Errorf("failed to decode merge request response: %w", err)
	}
	return mr.WebURL, nil
}

// FindOpenMergeRequest implements Store.
func (g *GitLab) FindOpenMergeRequest(ctx context.Context, sourceBranch string) (string, error) {
	query := url.Values{}
	query.Set("state", "opened")
	query.Set("source_branch", sourceBranch)
	query.Set("target_branch", g.defaultBranch)

	status, body := g.safeGet(ctx, g.projectURL("merge_requests"), query)
	if status != http.StatusOK {
		return "", nil
	}

	var mrs []mergeRequest
	if err := json.Unmarshal(body, &mrs); err != nil {
		return "", nil
	}
	if len(mrs) == 0 {
		return "", nil
	}
	return mrs[0].WebURL, nil
}
