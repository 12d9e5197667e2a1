package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

func newTestREST(t *testing.T, handler http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTClient("test-token", logging.NewNop(),
		WithRESTBaseURL(srv.URL),
		WithRESTBackoff(time.Millisecond))
}

func TestGetIssueMapsFields(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/repos/octocat/hello-world/issues/42", r.URL.Path)
		w.Write([]byte(`{
			"number": 42,
			"node_id": "I_abc",
			"title": "Login rework",
			"body": "## Summary\ntext",
			"state": "open",
			"html_url": "https://github.com/octocat/hello-world/issues/42",
			"created_at": "2025-01-02T03:04:05Z",
			"updated_at": "2025-01-03T03:04:05Z",
			"user": {"login": "octocat"},
			"labels": [{"name": "status:planning"}, {"name": "type:epic"}],
			"assignees": [{"login": "hubot"}],
			"milestone": {"number": 3, "title": "v1.0"}
		}`))
	}))

	issue, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "octocat", Name: "hello-world"}, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, issue.Number)
	assert.Equal(t, "I_abc", issue.NodeID)
	assert.True(t, issue.Open)
	assert.Equal(t, "octocat", issue.Author)
	assert.Equal(t, []string{"status:planning", "type:epic"}, issue.Labels)
	assert.Equal(t, "v1.0", issue.Milestone)
	assert.Equal(t, core.TypeEpic, issue.Kind())
	assert.Equal(t, 2025, issue.CreatedAt.Year())
}

func TestGetIssueNotFound(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))

	_, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 9)
	assert.Equal(t, core.CodeIssueNotFound, core.CodeOf(err))
	assert.Equal(t, core.ExitRemote, core.ExitCode(err))
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 1)
	assert.Equal(t, core.CodeInvalidCredential, core.CodeOf(err))
	assert.Equal(t, core.ExitAuth, core.ExitCode(err))
}

func TestGetRetriesOnRateLimit(t *testing.T) {
	attempts := 0
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"number": 1, "state": "open"}`))
	}))

	issue, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, issue.Number)
	assert.Equal(t, 3, attempts)
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 1)
	assert.Equal(t, core.CodeNetworkError, core.CodeOf(err))
	assert.Equal(t, maxRetries+1, attempts)
}

func TestGetRetriesOnServerError(t *testing.T) {
	attempts := 0
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"number": 1, "state": "open"}`))
	}))

	issue, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, issue.Number)
	assert.Equal(t, 2, attempts)
}

func TestMutationsAreNeverRetried(t *testing.T) {
	attempts := 0
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := client.CloseIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 1)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestForbiddenWithoutRateLimitHeaders(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "Resource not accessible"}`))
	}))

	_, err := client.GetIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 1)
	assert.Equal(t, core.CodeForbidden, core.CodeOf(err))
	assert.False(t, core.IsRetryable(err))
}

func TestCreateIssueSendsPayload(t *testing.T) {
	var got CreateIssueInput
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, jsonDecode(r, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number": 7, "state": "open", "title": "New epic"}`))
	}))

	issue, err := client.CreateIssue(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, CreateIssueInput{
		Title:  "New epic",
		Body:   "body",
		Labels: []string{"status:backlog"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, "New epic", got.Title)
	assert.Equal(t, []string{"status:backlog"}, got.Labels)
}

func TestCreateComment(t *testing.T) {
	var got map[string]string
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/a/b/issues/4/comments", r.URL.Path)
		require.NoError(t, jsonDecode(r, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 321}`))
	}))

	id, err := client.CreateComment(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 4, "looks good")
	require.NoError(t, err)
	assert.Equal(t, 321, id)
	assert.Equal(t, "looks good", got["body"])
}

func TestAddAssignees(t *testing.T) {
	var got map[string][]string
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/a/b/issues/4/assignees", r.URL.Path)
		require.NoError(t, jsonDecode(r, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))

	err := client.AddAssignees(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 4, []string{"hubot", "octocat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hubot", "octocat"}, got["assignees"])
}

func TestCreateMilestone(t *testing.T) {
	var got map[string]any
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repos/a/b/milestones", r.URL.Path)
		require.NoError(t, jsonDecode(r, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number": 6, "title": "v3.0", "state": "open"}`))
	}))

	ms, err := client.CreateMilestone(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, "v3.0", "next cut", nil)
	require.NoError(t, err)
	assert.Equal(t, 6, ms.Number)
	assert.Equal(t, "v3.0", got["title"])
	assert.Equal(t, "next cut", got["description"])
	_, hasDue := got["due_on"]
	assert.False(t, hasDue)
}

func TestGetMilestone(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/a/b/milestones/6", r.URL.Path)
		w.Write([]byte(`{"number": 6, "title": "v3.0", "state": "open", "due_on": "2026-09-01T00:00:00Z"}`))
	}))

	ms, err := client.GetMilestone(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 6)
	require.NoError(t, err)
	assert.Equal(t, 6, ms.Number)
	assert.Equal(t, "v3.0", ms.Title)
	require.NotNil(t, ms.DueOn)
	assert.Equal(t, "2026-09-01", ms.DueOn.Format("2006-01-02"))
}

func TestGetMilestoneNotFound(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))

	_, err := client.GetMilestone(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 9)
	assert.Equal(t, core.CodeMilestoneNotFound, core.CodeOf(err))
}

func TestMilestoneIssues(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "milestone=6")
		assert.Contains(t, r.URL.RawQuery, "state=all")
		w.Write([]byte(`[
			{"number": 10, "title": "open one", "state": "open"},
			{"number": 11, "title": "done one", "state": "closed"}
		]`))
	}))

	issues, err := client.MilestoneIssues(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 6)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.True(t, issues[0].Open)
	assert.False(t, issues[1].Open)
}

func TestListMilestones(t *testing.T) {
	client := newTestREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "state=open")
		w.Write([]byte(`[{"number": 1, "title": "v1.0", "state": "open"}]`))
	}))

	milestones, err := client.ListMilestones(context.Background(), core.RepoRef{Owner: "a", Name: "b"})
	require.NoError(t, err)
	require.Len(t, milestones, 1)
	assert.Equal(t, "v1.0", milestones[0].Title)
}
