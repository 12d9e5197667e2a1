package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

// fakeGitHub backs both transports in hybrid tests.
type fakeGitHub struct {
	t *testing.T

	mu sync.Mutex

	subIssuesAvailable  bool
	issueTypesAvailable bool
	failParentPatch     bool
	failSubIssueAdd     bool
	failTypedCreate     bool

	probeCount   int
	created      []CreateIssueInput
	graphCreates int
	graphTypeID  string
	putLabels    []string
	parentBody   string
	patchedBody  string
	closedIssues []int
	subIssueAdds int
	nextNumber   int
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", f.handleGraphQL)
	mux.HandleFunc("/", f.handleREST)
	return mux
}

func (f *fakeGitHub) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Fatalf("bad graph request: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(req.Query, "CheckSubIssuesFeature"):
		f.probeCount++
		if !f.subIssuesAvailable {
			fmt.Fprint(w, `{"errors": [{"message": "Field 'subIssues' doesn't exist on type 'Issue'"}]}`)
			return
		}
		fmt.Fprint(w, `{"data": {"repository": {"issues": {"nodes": []}}}}`)
	case strings.Contains(req.Query, "CheckIssueTypesFeature"):
		if !f.issueTypesAvailable {
			fmt.Fprint(w, `{"errors": [{"message": "Field 'issueTypes' doesn't exist on type 'Repository'"}]}`)
			return
		}
		fmt.Fprint(w, `{"data": {"repository": {"issueTypes": {"nodes": []}}}}`)
	case strings.Contains(req.Query, "GetRepositoryId"):
		fmt.Fprint(w, `{"data": {"repository": {"id": "R_repo"}}}`)
	case strings.Contains(req.Query, "CreateIssueWithType"):
		f.graphCreates++
		if f.failTypedCreate {
			fmt.Fprint(w, `{"errors": [{"message": "Field 'issueTypeId' doesn't exist on type 'CreateIssueInput'"}]}`)
			return
		}
		f.graphTypeID = req.Variables["issueTypeId"].(string)
		f.nextNumber++
		number := 100 + f.nextNumber
		fmt.Fprintf(w, `{"data": {"createIssue": {"issue": {"id": "I_node%d", "number": %d, "title": %q, "url": "https://github.com/a/b/issues/%d", "state": "OPEN"}}}}`,
			number, number, req.Variables["title"], number)
	case strings.Contains(req.Query, "GetNodeId"):
		number := int(req.Variables["number"].(float64))
		fmt.Fprintf(w, `{"data": {"repository": {"issue": {"id": "I_node%d"}}}}`, number)
	case strings.Contains(req.Query, "ListIssueTypes"):
		fmt.Fprint(w, `{"data": {"repository": {"issueTypes": {"nodes": [
			{"id": "IT_epic", "name": "Epic"},
			{"id": "IT_task", "name": "Task"},
			{"id": "IT_sub", "name": "Sub-task"}
		]}}}}`)
	case strings.Contains(req.Query, "AddSubIssue"):
		f.subIssueAdds++
		if f.failSubIssueAdd {
			fmt.Fprint(w, `{"errors": [{"message": "Something went wrong while executing your query", "type": "INTERNAL"}]}`)
			return
		}
		fmt.Fprint(w, `{"data": {"addSubIssue": {"parentIssue": {"id": "x"}, "childIssue": {"id": "y"}}}}`)
	case strings.Contains(req.Query, "SetIssueType"):
		fmt.Fprint(w, `{"data": {"updateIssue": {"issue": {"id": "x"}}}}`)
	default:
		f.t.Fatalf("unhandled graph query: %s", req.Query)
	}
}

func (f *fakeGitHub) handleREST(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/issues"):
		var in CreateIssueInput
		json.NewDecoder(r.Body).Decode(&in)
		f.created = append(f.created, in)
		f.nextNumber++
		number := 100 + f.nextNumber
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"number": %d, "node_id": "I_node%d", "title": %q, "state": "open"}`, number, number, in.Title)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/issues/1"):
		body, _ := json.Marshal(f.parentBody)
		fmt.Fprintf(w, `{"number": 1, "node_id": "I_node1", "title": "The epic", "state": "open", "body": %s, "labels": [{"name": "type:epic"}]}`, body)
	case r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/issues/1"):
		if f.failParentPatch {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		f.patchedBody = payload["body"]
		fmt.Fprint(w, `{}`)
	case r.Method == http.MethodPatch:
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["state"] == "closed" {
			var number int
			fmt.Sscanf(r.URL.Path, "/repos/a/b/issues/%d", &number)
			f.closedIssues = append(f.closedIssues, number)
		}
		fmt.Fprint(w, `{}`)
	case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/labels"):
		var payload map[string][]string
		json.NewDecoder(r.Body).Decode(&payload)
		f.putLabels = payload["labels"]
		fmt.Fprint(w, `[]`)
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/milestones"):
		fmt.Fprint(w, `[{"number": 5, "title": "v2.0", "state": "open"}]`)
	default:
		f.t.Fatalf("unhandled REST call: %s %s", r.Method, r.URL.Path)
	}
}

func newTestHybrid(t *testing.T, fake *fakeGitHub) *Hybrid {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	rest := NewRESTClient("tok", logging.NewNop(),
		WithRESTBaseURL(srv.URL), WithRESTBackoff(time.Millisecond))
	graph := NewGraphQLClient("tok", logging.NewNop(),
		WithGraphQLEndpoint(srv.URL+"/graphql"), WithGraphQLBackoff(time.Millisecond))
	return NewHybrid(rest, graph, logging.NewNop())
}

var testRepo = core.RepoRef{Owner: "a", Name: "b"}

func TestFeaturesProbedOncePerProcess(t *testing.T) {
	fake := &fakeGitHub{subIssuesAvailable: true, issueTypesAvailable: true}
	h := newTestHybrid(t, fake)

	for i := 0; i < 3; i++ {
		feats, err := h.Features(context.Background(), testRepo)
		require.NoError(t, err)
		assert.True(t, feats.SubIssues)
		assert.True(t, feats.IssueTypes)
	}
	assert.Equal(t, 1, fake.probeCount)
}

func TestCreateIssueNativePath(t *testing.T) {
	fake := &fakeGitHub{subIssuesAvailable: true, issueTypesAvailable: true}
	h := newTestHybrid(t, fake)

	created, err := h.CreateIssue(context.Background(), core.CreateIssueSpec{
		Repo:   testRepo,
		Title:  "Build the backend",
		Body:   "**Parent:** #1",
		Kind:   core.TypeTask,
		Parent: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, created.Fallbacks)
	assert.Equal(t, 1, fake.subIssueAdds)
	// The typed graph mutation carried the type; REST never created anything.
	assert.Equal(t, 1, fake.graphCreates)
	assert.Equal(t, "IT_task", fake.graphTypeID)
	assert.Empty(t, fake.created)
	// New issues always enter the workflow in backlog, via the label PUT.
	assert.Contains(t, fake.putLabels, "status:backlog")
	assert.NotContains(t, fake.putLabels, "type:task")
}

func TestCreateIssueDegradesWhenTypedCreateVanishes(t *testing.T) {
	// The probe said types exist but the mutation rejects them: a stale
	// probe degrades to REST with a type label instead of failing.
	fake := &fakeGitHub{
		subIssuesAvailable:  true,
		issueTypesAvailable: true,
		failTypedCreate:     true,
	}
	h := newTestHybrid(t, fake)

	created, err := h.CreateIssue(context.Background(), core.CreateIssueSpec{
		Repo:  testRepo,
		Title: "Build the backend",
		Kind:  core.TypeTask,
	})
	require.NoError(t, err)
	assert.Contains(t, created.Fallbacks, core.FallbackTypeLabel)
	require.Len(t, fake.created, 1)
	assert.Contains(t, fake.created[0].Labels, "type:task")
	assert.Contains(t, fake.created[0].Labels, "status:backlog")
}

func TestCreateIssueFallsBackToBodyReference(t *testing.T) {
	fake := &fakeGitHub{
		subIssuesAvailable:  false,
		issueTypesAvailable: false,
		parentBody:          "## Summary\nepic body\n",
	}
	h := newTestHybrid(t, fake)

	created, err := h.CreateIssue(context.Background(), core.CreateIssueSpec{
		Repo:   testRepo,
		Title:  "Build the backend",
		Body:   "**Parent:** #1",
		Kind:   core.TypeTask,
		Parent: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, created.Fallbacks, core.FallbackTypeLabel)
	assert.Contains(t, created.Fallbacks, core.FallbackBodyReference)
	assert.Contains(t, fake.created[0].Labels, "type:task")
	// Parent body gained a Tasks section with the child reference.
	assert.Contains(t, fake.patchedBody, "## Tasks")
	assert.Contains(t, fake.patchedBody, fmt.Sprintf("- [ ] #%d Build the backend", created.Issue.Number))
	// The untouched part of the parent body survived byte for byte.
	assert.Contains(t, fake.patchedBody, "## Summary\nepic body")
}

func TestCreateIssueRollsBackOrphan(t *testing.T) {
	fake := &fakeGitHub{
		subIssuesAvailable: false,
		parentBody:         "## Summary\n",
		failParentPatch:    true,
	}
	h := newTestHybrid(t, fake)

	_, err := h.CreateIssue(context.Background(), core.CreateIssueSpec{
		Repo:   testRepo,
		Title:  "Doomed child",
		Kind:   core.TypeTask,
		Parent: 1,
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeRelationshipRequired, core.CodeOf(err))

	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "body-reference", domErr.Detail("step"))

	// The orphan child was closed as compensation.
	require.Len(t, fake.created, 1)
	assert.Contains(t, fake.closedIssues, 101)
}

func TestCreateIssueRollsBackOnHardEdgeFailure(t *testing.T) {
	fake := &fakeGitHub{
		subIssuesAvailable: true,
		failSubIssueAdd:    true,
	}
	h := newTestHybrid(t, fake)

	_, err := h.CreateIssue(context.Background(), core.CreateIssueSpec{
		Repo:   testRepo,
		Title:  "Doomed child",
		Kind:   core.TypeTask,
		Parent: 1,
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeRelationshipRequired, core.CodeOf(err))

	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, "add_sub_issue_edge", domErr.Detail("step"))

	// A hard edge failure never degrades to the body reference.
	assert.Empty(t, fake.patchedBody)
	assert.Contains(t, fake.closedIssues, 101)
}

func TestResolveMilestoneListsOptions(t *testing.T) {
	fake := &fakeGitHub{subIssuesAvailable: true, issueTypesAvailable: true}
	h := newTestHybrid(t, fake)

	_, err := h.CreateIssue(context.Background(), core.CreateIssueSpec{
		Repo:      testRepo,
		Title:     "x",
		Kind:      core.TypeEpic,
		Milestone: "v9.9",
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeMilestoneNotFound, core.CodeOf(err))
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, []string{"v2.0"}, domErr.Detail("valid_options"))
}

func TestChildrenFromBodyReferences(t *testing.T) {
	fake := &fakeGitHub{
		subIssuesAvailable: false,
		parentBody:         "## Tasks\n- [x] #12 Done thing\n- [ ] acme/other#9 Pending thing\n",
	}
	h := newTestHybrid(t, fake)

	children, err := h.Children(context.Background(), testRepo, 1)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, 12, children[0].Number)
	assert.True(t, children[0].Closed)
	assert.Equal(t, "acme/other", children[1].Repo)
	assert.False(t, children[1].Closed)
}
