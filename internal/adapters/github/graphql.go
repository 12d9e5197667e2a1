package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

// DefaultGraphQLEndpoint is the public GraphQL endpoint.
const DefaultGraphQLEndpoint = "https://api.github.com/graphql"

// graphQLFeatures opts every request into the preview schemas this tool
// depends on.
const graphQLFeatures = "sub_issues, issue_types"

const codeGraphQL = "GRAPHQL_ERROR"

// GraphQLClient is a typed client for the graph surface: sub-issue edges,
// native issue types and Projects V2 fields.
type GraphQLClient struct {
	endpoint string
	token    string
	http     *http.Client
	log      *logging.Logger
	backoff  time.Duration
}

// GraphQLOption configures a GraphQLClient.
type GraphQLOption func(*GraphQLClient)

// WithGraphQLEndpoint overrides the endpoint, for tests.
func WithGraphQLEndpoint(url string) GraphQLOption {
	return func(c *GraphQLClient) { c.endpoint = url }
}

// WithGraphQLHTTPClient overrides the underlying HTTP client.
func WithGraphQLHTTPClient(h *http.Client) GraphQLOption {
	return func(c *GraphQLClient) { c.http = h }
}

// WithGraphQLBackoff overrides the initial retry backoff, for tests.
func WithGraphQLBackoff(d time.Duration) GraphQLOption {
	return func(c *GraphQLClient) { c.backoff = d }
}

// NewGraphQLClient creates a graph client authenticated with token.
func NewGraphQLClient(token string, log *logging.Logger, opts ...GraphQLOption) *GraphQLClient {
	c := &GraphQLClient{
		endpoint: DefaultGraphQLEndpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
		backoff:  initialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query runs a read. Retryable failures back off and try again.
func (c *GraphQLClient) Query(ctx context.Context, query string, vars map[string]any, out any) error {
	var lastErr error
	backoff := c.backoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying graph query", "attempt", attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return core.ErrTimeout("request cancelled").WithCause(ctx.Err())
			}
			backoff *= 2
		}
		err := c.execute(ctx, query, vars, out)
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

// Mutate runs a write exactly once, never retried.
func (c *GraphQLClient) Mutate(ctx context.Context, mutation string, vars map[string]any, out any) error {
	return c.execute(ctx, mutation, vars, out)
}

func (c *GraphQLClient) execute(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return core.ErrInternal("encoding graph payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return core.ErrInternal("building graph request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("GraphQL-Features", graphQLFeatures)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ErrNetwork("reading graph response").WithCause(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return core.ErrAuth(core.CodeInvalidCredential,
			"authentication failed, check your GitHub token")
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests:
		if isRateLimited(resp) {
			rlErr := core.ErrRateLimited("graph rate limit exceeded")
			if d := retryAfter(resp); d > 0 {
				rlErr = rlErr.WithDetail("retry_after", d.String())
			}
			return rlErr
		}
		return core.ErrRemote(core.CodeForbidden, "graph access forbidden, check token permissions")
	case resp.StatusCode >= 400:
		return core.ErrRemote(core.CodeNetworkError,
			fmt.Sprintf("graph endpoint returned HTTP %d", resp.StatusCode))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return core.ErrRemote(core.CodeNetworkError,
			"graph endpoint returned malformed JSON").WithCause(err)
	}
	if len(envelope.Errors) > 0 {
		return classifyGraphQLErrors(envelope.Errors)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return core.ErrRemote(core.CodeNetworkError,
				"unexpected graph response shape").WithCause(err)
		}
	}
	return nil
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// classifyGraphQLErrors maps the errors array into the taxonomy. Feature
// shaped messages become FeatureUnavailable so the hybrid client can fall
// back instead of failing.
func classifyGraphQLErrors(errs []graphQLError) error {
	first := errs[0]
	msg := strings.ToLower(first.Message)

	switch {
	case strings.Contains(msg, "sub_issues") || strings.Contains(msg, "subissues") || strings.Contains(msg, "sub-issue"):
		return core.ErrFeatureUnavailable("sub_issues", first.Message)
	case strings.Contains(msg, "issuetype") || strings.Contains(msg, "issue_types") || strings.Contains(msg, "issue type"):
		return core.ErrFeatureUnavailable("issue_types", first.Message)
	case strings.Contains(msg, "projectv2") || strings.Contains(msg, "projectsv2"):
		return core.ErrFeatureUnavailable("projects_v2", first.Message)
	case first.Type == "NOT_FOUND" || strings.Contains(msg, "not found") || strings.Contains(msg, "could not resolve"):
		return core.ErrRemote(codeNotFound, first.Message)
	case first.Type == "FORBIDDEN" || first.Type == "INSUFFICIENT_SCOPES" || strings.Contains(msg, "permission"):
		return core.ErrRemote(core.CodeForbidden, first.Message)
	case strings.Contains(msg, "rate limit"):
		return core.ErrRateLimited(first.Message)
	}

	all := make([]string, len(errs))
	for i, e := range errs {
		all[i] = e.Message
	}
	return core.ErrRemote(codeGraphQL, strings.Join(all, "; "))
}

// NodeID resolves an issue number to its graph node ID.
func (c *GraphQLClient) NodeID(ctx context.Context, repo core.RepoRef, number int) (string, error) {
	const query = `
	query GetNodeId($owner: String!, $repo: String!, $number: Int!) {
		repository(owner: $owner, name: $repo) {
			issue(number: $number) { id }
		}
	}`
	var out struct {
		Repository *struct {
			Issue *struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"repository"`
	}
	vars := map[string]any{"owner": repo.Owner, "repo": repo.Name, "number": number}
	if err := c.Query(ctx, query, vars, &out); err != nil {
		return "", err
	}
	if out.Repository == nil || out.Repository.Issue == nil {
		return "", core.ErrIssueNotFound(repo, number)
	}
	return out.Repository.Issue.ID, nil
}

// RepositoryID resolves a repository to its graph node ID.
func (c *GraphQLClient) RepositoryID(ctx context.Context, repo core.RepoRef) (string, error) {
	const query = `
	query GetRepositoryId($owner: String!, $name: String!) {
		repository(owner: $owner, name: $name) { id }
	}`
	var out struct {
		Repository *struct {
			ID string `json:"id"`
		} `json:"repository"`
	}
	if err := c.Query(ctx, query, map[string]any{"owner": repo.Owner, "name": repo.Name}, &out); err != nil {
		return "", err
	}
	if out.Repository == nil {
		return "", core.ErrRemote(codeNotFound, fmt.Sprintf("repository %s not found", repo))
	}
	return out.Repository.ID, nil
}

// AddSubIssue links child under parent with a native sub-issue edge.
func (c *GraphQLClient) AddSubIssue(ctx context.Context, parentID, childID string) error {
	const mutation = `
	mutation AddSubIssue($parentId: ID!, $childId: ID!) {
		addSubIssue(input: {parentId: $parentId, childId: $childId}) {
			parentIssue { id }
			childIssue { id }
		}
	}`
	return c.Mutate(ctx, mutation, map[string]any{"parentId": parentID, "childId": childID}, nil)
}

// RemoveSubIssue breaks a native sub-issue edge.
func (c *GraphQLClient) RemoveSubIssue(ctx context.Context, parentID, childID string) error {
	const mutation = `
	mutation RemoveSubIssue($parentId: ID!, $childId: ID!) {
		removeSubIssue(input: {parentId: $parentId, childId: $childId}) {
			parentIssue { id }
			childIssue { id }
		}
	}`
	return c.Mutate(ctx, mutation, map[string]any{"parentId": parentID, "childId": childID}, nil)
}

// SubIssues lists the native children of an issue node.
func (c *GraphQLClient) SubIssues(ctx context.Context, nodeID string) ([]core.ChildIssue, error) {
	const query = `
	query GetIssueWithSubIssues($id: ID!) {
		node(id: $id) {
			... on Issue {
				subIssues(first: 100) {
					nodes {
						number
						title
						state
						repository { nameWithOwner }
						issueType { name }
						labels(first: 20) { nodes { name } }
					}
				}
			}
		}
	}`
	var out struct {
		Node *struct {
			SubIssues struct {
				Nodes []struct {
					Number     int    `json:"number"`
					Title      string `json:"title"`
					State      string `json:"state"`
					Repository struct {
						NameWithOwner string `json:"nameWithOwner"`
					} `json:"repository"`
					IssueType *struct {
						Name string `json:"name"`
					} `json:"issueType"`
					Labels struct {
						Nodes []struct {
							Name string `json:"name"`
						} `json:"nodes"`
					} `json:"labels"`
				} `json:"nodes"`
			} `json:"subIssues"`
		} `json:"node"`
	}
	if err := c.Query(ctx, query, map[string]any{"id": nodeID}, &out); err != nil {
		return nil, err
	}
	if out.Node == nil {
		return nil, nil
	}
	children := make([]core.ChildIssue, 0, len(out.Node.SubIssues.Nodes))
	for _, n := range out.Node.SubIssues.Nodes {
		child := core.ChildIssue{
			Number: n.Number,
			Title:  n.Title,
			Closed: n.State == "CLOSED",
			Repo:   n.Repository.NameWithOwner,
		}
		if n.IssueType != nil {
			if k, err := core.ParseIssueType(n.IssueType.Name); err == nil {
				child.Kind = k
			}
		}
		if child.Kind == "" || child.Kind == core.TypeIssue {
			issue := core.Issue{}
			for _, l := range n.Labels.Nodes {
				issue.Labels = append(issue.Labels, l.Name)
			}
			child.Kind = issue.Kind()
		}
		children = append(children, child)
	}
	return children, nil
}

// ParentIssue resolves the native parent of an issue node, or nil.
func (c *GraphQLClient) ParentIssue(ctx context.Context, nodeID string) (*core.ParentIssue, error) {
	const query = `
	query GetParentIssue($id: ID!) {
		node(id: $id) {
			... on Issue {
				parent {
					number
					title
					state
					issueType { name }
					labels(first: 20) { nodes { name } }
				}
			}
		}
	}`
	var out struct {
		Node *struct {
			Parent *struct {
				Number    int    `json:"number"`
				Title     string `json:"title"`
				State     string `json:"state"`
				IssueType *struct {
					Name string `json:"name"`
				} `json:"issueType"`
				Labels struct {
					Nodes []struct {
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"labels"`
			} `json:"parent"`
		} `json:"node"`
	}
	if err := c.Query(ctx, query, map[string]any{"id": nodeID}, &out); err != nil {
		return nil, err
	}
	if out.Node == nil || out.Node.Parent == nil {
		return nil, nil
	}
	p := out.Node.Parent
	parent := &core.ParentIssue{
		Number: p.Number,
		Title:  p.Title,
		Closed: p.State == "CLOSED",
	}
	if p.IssueType != nil {
		if k, err := core.ParseIssueType(p.IssueType.Name); err == nil {
			parent.Kind = k
		}
	}
	if parent.Kind == "" || parent.Kind == core.TypeIssue {
		issue := core.Issue{}
		for _, l := range p.Labels.Nodes {
			issue.Labels = append(issue.Labels, l.Name)
		}
		parent.Kind = issue.Kind()
	}
	return parent, nil
}

// SubIssuesSummary aggregates child counts for an issue node.
type SubIssuesSummary struct {
	Total      int     `json:"total"`
	Open       int     `json:"open"`
	Closed     int     `json:"closed"`
	Completion float64 `json:"completion_rate"`
}

// GetSubIssuesSummary computes completion statistics from the native edges.
func (c *GraphQLClient) GetSubIssuesSummary(ctx context.Context, nodeID string) (SubIssuesSummary, error) {
	const query = `
	query GetSubIssuesSummary($id: ID!) {
		node(id: $id) {
			... on Issue {
				subIssues(first: 100) {
					totalCount
					nodes { state }
				}
			}
		}
	}`
	var out struct {
		Node *struct {
			SubIssues struct {
				TotalCount int `json:"totalCount"`
				Nodes      []struct {
					State string `json:"state"`
				} `json:"nodes"`
			} `json:"subIssues"`
		} `json:"node"`
	}
	if err := c.Query(ctx, query, map[string]any{"id": nodeID}, &out); err != nil {
		return SubIssuesSummary{}, err
	}
	var s SubIssuesSummary
	if out.Node == nil {
		return s, nil
	}
	s.Total = out.Node.SubIssues.TotalCount
	for _, n := range out.Node.SubIssues.Nodes {
		if n.State == "CLOSED" {
			s.Closed++
		} else {
			s.Open++
		}
	}
	if s.Total > 0 {
		s.Completion = float64(s.Closed) / float64(s.Total) * 100
	}
	return s, nil
}

// IssueKind reads the native issue type of an issue, TypeIssue when unset.
func (c *GraphQLClient) IssueKind(ctx context.Context, repo core.RepoRef, number int) (core.IssueType, error) {
	const query = `
	query GetIssueType($owner: String!, $repo: String!, $number: Int!) {
		repository(owner: $owner, name: $repo) {
			issue(number: $number) {
				issueType { name }
			}
		}
	}`
	var out struct {
		Repository *struct {
			Issue *struct {
				IssueType *struct {
					Name string `json:"name"`
				} `json:"issueType"`
			} `json:"issue"`
		} `json:"repository"`
	}
	vars := map[string]any{"owner": repo.Owner, "repo": repo.Name, "number": number}
	if err := c.Query(ctx, query, vars, &out); err != nil {
		return core.TypeIssue, err
	}
	if out.Repository == nil || out.Repository.Issue == nil {
		return core.TypeIssue, core.ErrIssueNotFound(repo, number)
	}
	if out.Repository.Issue.IssueType == nil {
		return core.TypeIssue, nil
	}
	k, err := core.ParseIssueType(out.Repository.Issue.IssueType.Name)
	if err != nil {
		return core.TypeIssue, nil
	}
	return k, nil
}

// ListIssueTypes returns the repository's native issue types by name.
func (c *GraphQLClient) ListIssueTypes(ctx context.Context, repo core.RepoRef) (map[string]string, error) {
	const query = `
	query ListIssueTypes($owner: String!, $repo: String!) {
		repository(owner: $owner, name: $repo) {
			issueTypes(first: 25) {
				nodes { id name }
			}
		}
	}`
	var out struct {
		Repository *struct {
			IssueTypes struct {
				Nodes []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"issueTypes"`
		} `json:"repository"`
	}
	if err := c.Query(ctx, query, map[string]any{"owner": repo.Owner, "repo": repo.Name}, &out); err != nil {
		return nil, err
	}
	types := make(map[string]string)
	if out.Repository != nil {
		for _, n := range out.Repository.IssueTypes.Nodes {
			types[n.Name] = n.ID
		}
	}
	return types, nil
}

// CreateIssueType creates a native issue type on a repository.
func (c *GraphQLClient) CreateIssueType(ctx context.Context, repoID, name, description string) error {
	const mutation = `
	mutation CreateIssueType($repositoryId: ID!, $name: String!, $description: String!) {
		createIssueType(input: {repositoryId: $repositoryId, name: $name, description: $description}) {
			issueType { id name }
		}
	}`
	vars := map[string]any{"repositoryId": repoID, "name": name, "description": description}
	return c.Mutate(ctx, mutation, vars, nil)
}

// CreateIssueWithType creates an issue carrying its native type in the one
// mutation, so a typed child never exists untyped.
func (c *GraphQLClient) CreateIssueWithType(ctx context.Context, repoID, title, body, typeID string) (*core.Issue, error) {
	const mutation = `
	mutation CreateIssueWithType($repositoryId: ID!, $title: String!, $body: String!, $issueTypeId: ID!) {
		createIssue(input: {repositoryId: $repositoryId, title: $title, body: $body, issueTypeId: $issueTypeId}) {
			issue { id number title url state }
		}
	}`
	var out struct {
		CreateIssue struct {
			Issue *struct {
				ID     string `json:"id"`
				Number int    `json:"number"`
				Title  string `json:"title"`
				URL    string `json:"url"`
				State  string `json:"state"`
			} `json:"issue"`
		} `json:"createIssue"`
	}
	vars := map[string]any{
		"repositoryId": repoID,
		"title":        title,
		"body":         body,
		"issueTypeId":  typeID,
	}
	if err := c.Mutate(ctx, mutation, vars, &out); err != nil {
		return nil, err
	}
	created := out.CreateIssue.Issue
	if created == nil {
		return nil, core.ErrRemote(codeGraphQL, "createIssue returned no issue")
	}
	return &core.Issue{
		Number: created.Number,
		NodeID: created.ID,
		Title:  created.Title,
		Body:   body,
		Open:   created.State != "CLOSED",
		URL:    created.URL,
	}, nil
}

// SetIssueType assigns a native issue type to an issue.
func (c *GraphQLClient) SetIssueType(ctx context.Context, issueID, typeID string) error {
	const mutation = `
	mutation SetIssueType($issueId: ID!, $issueTypeId: ID!) {
		updateIssue(input: {id: $issueId, issueTypeId: $issueTypeId}) {
			issue { id }
		}
	}`
	return c.Mutate(ctx, mutation, map[string]any{"issueId": issueID, "issueTypeId": typeID}, nil)
}

// CheckSubIssuesAvailable probes the sub-issues schema. Only feature shaped
// failures report unavailable; anything else is treated as available so a
// transient error does not lock the process into fallbacks.
func (c *GraphQLClient) CheckSubIssuesAvailable(ctx context.Context, repo core.RepoRef) bool {
	const query = `
	query CheckSubIssuesFeature($owner: String!, $repo: String!) {
		repository(owner: $owner, name: $repo) {
			issues(first: 1, states: [OPEN, CLOSED]) {
				nodes {
					subIssues(first: 1) { totalCount }
				}
			}
		}
	}`
	err := c.Query(ctx, query, map[string]any{"owner": repo.Owner, "repo": repo.Name}, nil)
	return core.FeatureOf(err) == ""
}

// CheckIssueTypesAvailable probes the native issue types schema.
func (c *GraphQLClient) CheckIssueTypesAvailable(ctx context.Context, repo core.RepoRef) bool {
	const query = `
	query CheckIssueTypesFeature($owner: String!, $repo: String!) {
		repository(owner: $owner, name: $repo) {
			issueTypes(first: 1) {
				nodes { id }
			}
		}
	}`
	err := c.Query(ctx, query, map[string]any{"owner": repo.Owner, "repo": repo.Name}, nil)
	return core.FeatureOf(err) == ""
}
