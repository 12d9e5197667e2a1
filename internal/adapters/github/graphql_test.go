package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestGraphQL(t *testing.T, handler http.Handler) *GraphQLClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGraphQLClient("test-token", logging.NewNop(),
		WithGraphQLEndpoint(srv.URL),
		WithGraphQLBackoff(time.Millisecond))
}

func TestGraphRequestCarriesFeatureHeader(t *testing.T) {
	client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "sub_issues, issue_types", r.Header.Get("GraphQL-Features"))
		w.Write([]byte(`{"data": {}}`))
	}))

	err := client.Query(context.Background(), "query { viewer { login } }", nil, nil)
	require.NoError(t, err)
}

func TestNodeIDResolution(t *testing.T) {
	client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphRequest
		require.NoError(t, jsonDecode(r, &req))
		assert.Contains(t, req.Query, "issue(number: $number)")
		assert.EqualValues(t, 42, req.Variables["number"])
		w.Write([]byte(`{"data": {"repository": {"issue": {"id": "I_node42"}}}}`))
	}))

	id, err := client.NodeID(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 42)
	require.NoError(t, err)
	assert.Equal(t, "I_node42", id)
}

func TestNodeIDMissingIssue(t *testing.T) {
	client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"repository": {"issue": null}}}`))
	}))

	_, err := client.NodeID(context.Background(), core.RepoRef{Owner: "a", Name: "b"}, 999)
	assert.Equal(t, core.CodeIssueNotFound, core.CodeOf(err))
}

func TestFeatureErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantFeature string
	}{
		{
			"sub-issues gap",
			`{"errors": [{"message": "Field 'subIssues' doesn't exist on type 'Issue'"}]}`,
			"sub_issues",
		},
		{
			"issue types gap",
			`{"errors": [{"message": "Field 'issueType' doesn't exist on type 'Issue'"}]}`,
			"issue_types",
		},
		{
			"projects gap",
			`{"errors": [{"message": "ProjectV2 not available for this owner"}]}`,
			"projects_v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.response))
			}))
			err := client.Query(context.Background(), "query {}", nil, nil)
			assert.Equal(t, tt.wantFeature, core.FeatureOf(err))
		})
	}
}

func TestGraphErrorTypes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantCode string
	}{
		{"not found", `{"errors": [{"type": "NOT_FOUND", "message": "Could not resolve to an Issue"}]}`, codeNotFound},
		{"forbidden", `{"errors": [{"type": "FORBIDDEN", "message": "nope"}]}`, core.CodeForbidden},
		{"generic", `{"errors": [{"message": "something odd"}]}`, codeGraphQL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.response))
			}))
			err := client.Query(context.Background(), "query {}", nil, nil)
			assert.Equal(t, tt.wantCode, core.CodeOf(err))
		})
	}
}

func TestQueryRetriesMutateDoesNot(t *testing.T) {
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client := newTestGraphQL(t, handler)
	err := client.Query(context.Background(), "query {}", nil, nil)
	assert.Equal(t, core.CodeRateLimited, core.CodeOf(err))
	assert.Equal(t, maxRetries+1, attempts)

	attempts = 0
	err = client.Mutate(context.Background(), "mutation {}", nil, nil)
	assert.Equal(t, core.CodeRateLimited, core.CodeOf(err))
	assert.Equal(t, 1, attempts)
}

func TestSubIssuesSummary(t *testing.T) {
	client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"node": {"subIssues": {
			"totalCount": 4,
			"nodes": [{"state": "CLOSED"}, {"state": "OPEN"}, {"state": "CLOSED"}, {"state": "OPEN"}]
		}}}}`))
	}))

	s, err := client.GetSubIssuesSummary(context.Background(), "I_parent")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Open)
	assert.Equal(t, 2, s.Closed)
	assert.InDelta(t, 50.0, s.Completion, 0.001)
}

func TestCheckFeatureProbes(t *testing.T) {
	client := newTestGraphQL(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphRequest
		require.NoError(t, jsonDecode(r, &req))
		if strings.Contains(req.Query, "subIssues") {
			w.Write([]byte(`{"errors": [{"message": "Field 'subIssues' doesn't exist"}]}`))
			return
		}
		w.Write([]byte(`{"data": {"repository": {"issueTypes": {"nodes": []}}}}`))
	}))

	assert.False(t, client.CheckSubIssuesAvailable(context.Background(), core.RepoRef{Owner: "a", Name: "b"}))
	assert.True(t, client.CheckIssueTypesAvailable(context.Background(), core.RepoRef{Owner: "a", Name: "b"}))
}
