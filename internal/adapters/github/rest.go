// Package github holds the remote transports: a REST client, a GraphQL
// client, and the hybrid client that routes between them.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

// DefaultRESTBaseURL is the public REST endpoint.
const DefaultRESTBaseURL = "https://api.github.com"

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// RESTClient is a typed JSON client for the REST surface. Reads retry with
// exponential backoff on retryable failures; mutations are sent exactly once.
type RESTClient struct {
	base    string
	token   string
	http    *http.Client
	log     *logging.Logger
	backoff time.Duration
}

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithRESTBaseURL overrides the endpoint, for tests.
func WithRESTBaseURL(base string) RESTOption {
	return func(c *RESTClient) { c.base = base }
}

// WithRESTHTTPClient overrides the underlying HTTP client.
func WithRESTHTTPClient(h *http.Client) RESTOption {
	return func(c *RESTClient) { c.http = h }
}

// WithRESTBackoff overrides the initial retry backoff, for tests.
func WithRESTBackoff(d time.Duration) RESTOption {
	return func(c *RESTClient) { c.backoff = d }
}

// NewRESTClient creates a REST client authenticated with token.
func NewRESTClient(token string, log *logging.Logger, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		base:    DefaultRESTBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
		backoff: initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// restIssue is the wire shape of an issue.
type restIssue struct {
	Number    int    `json:"number"`
	NodeID    string `json:"node_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	User      *struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	Milestone *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	} `json:"milestone"`
}

func (r *restIssue) toIssue() *core.Issue {
	issue := &core.Issue{
		Number: r.Number,
		NodeID: r.NodeID,
		Title:  r.Title,
		Body:   r.Body,
		Open:   r.State == "open",
		URL:    r.HTMLURL,
	}
	if r.User != nil {
		issue.Author = r.User.Login
	}
	for _, l := range r.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	for _, a := range r.Assignees {
		issue.Assignees = append(issue.Assignees, a.Login)
	}
	if r.Milestone != nil {
		issue.Milestone = r.Milestone.Title
	}
	if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
		issue.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		issue.UpdatedAt = t
	}
	return issue
}

// GetIssue fetches an issue by number.
func (c *RESTClient) GetIssue(ctx context.Context, repo core.RepoRef, number int) (*core.Issue, error) {
	var out restIssue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", repo.Owner, repo.Name, number)
	if err := c.get(ctx, path, &out); err != nil {
		if core.CodeOf(err) == codeNotFound {
			return nil, core.ErrIssueNotFound(repo, number)
		}
		return nil, err
	}
	return out.toIssue(), nil
}

// CreateIssueInput is the REST create payload.
type CreateIssueInput struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
	Milestone int      `json:"milestone,omitempty"`
}

// CreateIssue creates an issue and returns it.
func (c *RESTClient) CreateIssue(ctx context.Context, repo core.RepoRef, in CreateIssueInput) (*core.Issue, error) {
	var out restIssue
	path := fmt.Sprintf("/repos/%s/%s/issues", repo.Owner, repo.Name)
	if err := c.mutate(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return out.toIssue(), nil
}

// UpdateIssueBody replaces the body of an issue.
func (c *RESTClient) UpdateIssueBody(ctx context.Context, repo core.RepoRef, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", repo.Owner, repo.Name, number)
	payload := map[string]string{"body": body}
	if err := c.mutate(ctx, http.MethodPatch, path, payload, nil); err != nil {
		if core.CodeOf(err) == codeNotFound {
			return core.ErrIssueNotFound(repo, number)
		}
		return err
	}
	return nil
}

// CloseIssue closes an issue. Closing a closed issue succeeds remotely, so
// the operation is idempotent.
func (c *RESTClient) CloseIssue(ctx context.Context, repo core.RepoRef, number int) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", repo.Owner, repo.Name, number)
	payload := map[string]string{"state": "closed"}
	return c.mutate(ctx, http.MethodPatch, path, payload, nil)
}

// SetLabels replaces the full label set of an issue.
func (c *RESTClient) SetLabels(ctx context.Context, repo core.RepoRef, number int, labels []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", repo.Owner, repo.Name, number)
	payload := map[string][]string{"labels": labels}
	return c.mutate(ctx, http.MethodPut, path, payload, nil)
}

// GetLabel reports whether a repository label exists.
func (c *RESTClient) GetLabel(ctx context.Context, repo core.RepoRef, name string) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s/labels/%s", repo.Owner, repo.Name, name)
	err := c.get(ctx, path, &struct{}{})
	if err == nil {
		return true, nil
	}
	if core.CodeOf(err) == codeNotFound {
		return false, nil
	}
	return false, err
}

// CreateLabel creates a repository label.
func (c *RESTClient) CreateLabel(ctx context.Context, repo core.RepoRef, label core.Label, description string) error {
	path := fmt.Sprintf("/repos/%s/%s/labels", repo.Owner, repo.Name)
	payload := map[string]string{
		"name":        label.Name,
		"color":       label.Color,
		"description": description,
	}
	return c.mutate(ctx, http.MethodPost, path, payload, nil)
}

// CreateComment adds a comment to an issue and returns the comment id.
func (c *RESTClient) CreateComment(ctx context.Context, repo core.RepoRef, number int, body string) (int, error) {
	var out struct {
		ID int `json:"id"`
	}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", repo.Owner, repo.Name, number)
	payload := map[string]string{"body": body}
	if err := c.mutate(ctx, http.MethodPost, path, payload, &out); err != nil {
		if core.CodeOf(err) == codeNotFound {
			return 0, core.ErrIssueNotFound(repo, number)
		}
		return 0, err
	}
	return out.ID, nil
}

// AddAssignees adds users to an issue without disturbing existing assignees.
func (c *RESTClient) AddAssignees(ctx context.Context, repo core.RepoRef, number int, assignees []string) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/assignees", repo.Owner, repo.Name, number)
	payload := map[string][]string{"assignees": assignees}
	return c.mutate(ctx, http.MethodPost, path, payload, nil)
}

// SetMilestone assigns a milestone to an issue by milestone number.
func (c *RESTClient) SetMilestone(ctx context.Context, repo core.RepoRef, number, milestone int) error {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", repo.Owner, repo.Name, number)
	payload := map[string]int{"milestone": milestone}
	return c.mutate(ctx, http.MethodPatch, path, payload, nil)
}

// CreateMilestone creates an open milestone and returns it.
func (c *RESTClient) CreateMilestone(ctx context.Context, repo core.RepoRef, title, description string, dueOn *time.Time) (*core.Milestone, error) {
	payload := map[string]any{"title": title}
	if description != "" {
		payload["description"] = description
	}
	if dueOn != nil {
		payload["due_on"] = dueOn.UTC().Format(time.RFC3339)
	}
	var out struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
	}
	path := fmt.Sprintf("/repos/%s/%s/milestones", repo.Owner, repo.Name)
	if err := c.mutate(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}
	return &core.Milestone{Number: out.Number, Title: out.Title, State: out.State}, nil
}

// CurrentUser returns the login of the authenticated user.
func (c *RESTClient) CurrentUser(ctx context.Context) (string, error) {
	var out struct {
		Login string `json:"login"`
	}
	if err := c.get(ctx, "/user", &out); err != nil {
		return "", err
	}
	return out.Login, nil
}

// ListMilestones returns the open milestones of a repository.
func (c *RESTClient) ListMilestones(ctx context.Context, repo core.RepoRef) ([]core.Milestone, error) {
	var out []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		DueOn  string `json:"due_on"`
	}
	path := fmt.Sprintf("/repos/%s/%s/milestones?state=open&per_page=100", repo.Owner, repo.Name)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	milestones := make([]core.Milestone, 0, len(out))
	for _, m := range out {
		ms := core.Milestone{Number: m.Number, Title: m.Title, State: m.State}
		if t, err := time.Parse(time.RFC3339, m.DueOn); err == nil {
			due := t
			ms.DueOn = &due
		}
		milestones = append(milestones, ms)
	}
	return milestones, nil
}

// GetMilestone fetches one milestone by number.
func (c *RESTClient) GetMilestone(ctx context.Context, repo core.RepoRef, number int) (*core.Milestone, error) {
	var out struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		DueOn  string `json:"due_on"`
	}
	path := fmt.Sprintf("/repos/%s/%s/milestones/%d", repo.Owner, repo.Name, number)
	if err := c.get(ctx, path, &out); err != nil {
		if core.CodeOf(err) == codeNotFound {
			return nil, core.ErrRemote(core.CodeMilestoneNotFound,
				fmt.Sprintf("milestone %d not found in %s", number, repo.String()))
		}
		return nil, err
	}
	ms := &core.Milestone{Number: out.Number, Title: out.Title, State: out.State}
	if t, err := time.Parse(time.RFC3339, out.DueOn); err == nil {
		due := t
		ms.DueOn = &due
	}
	return ms, nil
}

// MilestoneIssues lists the issues attached to a milestone, open and closed.
func (c *RESTClient) MilestoneIssues(ctx context.Context, repo core.RepoRef, milestone int) ([]core.Issue, error) {
	var out []restIssue
	path := fmt.Sprintf("/repos/%s/%s/issues?milestone=%d&state=all&per_page=100",
		repo.Owner, repo.Name, milestone)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	issues := make([]core.Issue, 0, len(out))
	for _, r := range out {
		issues = append(issues, *r.toIssue())
	}
	return issues, nil
}

// get performs a read with retries.
func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying request", "path", path, "attempt", attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return core.ErrTimeout("request cancelled").WithCause(ctx.Err())
			}
			backoff *= 2
		}
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !core.IsRetryable(err) {
			return err
		}
		if d := retryAfterOf(err); d > 0 {
			backoff = d
		}
	}
	return lastErr
}

// mutate performs a write exactly once. Mutations are not idempotent and are
// never retried.
func (c *RESTClient) mutate(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, in, out)
}

func (c *RESTClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return core.ErrInternal("encoding request payload").WithCause(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return core.ErrInternal("building request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ErrNetwork("reading response").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return core.ErrRemote(core.CodeNetworkError,
				"remote service returned malformed JSON").WithCause(err)
		}
	}
	return nil
}

// codeNotFound marks REST 404s before the caller maps them to a resource
// specific error.
const codeNotFound = "NOT_FOUND"

// classifyStatus maps an HTTP error response into the taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	msg := restErrorMessage(body)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return core.ErrAuth(core.CodeInvalidCredential,
			"authentication failed, check your GitHub token")
	case http.StatusForbidden, http.StatusTooManyRequests:
		if isRateLimited(resp) {
			err := core.ErrRateLimited("rate limit exceeded")
			if d := retryAfter(resp); d > 0 {
				err = err.WithDetail("retry_after", d.String())
			}
			return err
		}
		return core.ErrRemote(core.CodeForbidden,
			fmt.Sprintf("access forbidden: %s", msg))
	case http.StatusNotFound:
		return core.ErrRemote(codeNotFound, fmt.Sprintf("resource not found: %s", msg))
	default:
		// Any 5xx is transient as far as the retry loop is concerned;
		// mutations never reach it.
		if resp.StatusCode >= 500 {
			return core.ErrNetwork(fmt.Sprintf("remote service unavailable (HTTP %d)", resp.StatusCode))
		}
		return core.ErrRemote(core.CodeNetworkError,
			fmt.Sprintf("unexpected HTTP %d: %s", resp.StatusCode, msg))
	}
}

func restErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return "no detail"
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// retryAfterOf extracts a server-requested delay from a classified error.
func retryAfterOf(err error) time.Duration {
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		if s, ok := domErr.Detail("retry_after").(string); ok {
			if d, parseErr := time.ParseDuration(s); parseErr == nil {
				return d
			}
		}
	}
	return 0
}

// classifyTransportError maps connection level failures.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout("request timed out").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return core.ErrTimeout("request cancelled").WithCause(err)
	}
	return core.ErrNetwork("cannot reach remote service").WithCause(err)
}
