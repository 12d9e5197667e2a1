package issues

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justynbrt/ghoo/internal/config"
	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

// stubClient is an in-memory core.Client for service tests. Issues are keyed
// by number; kinds mirror the hierarchy under test.
type stubClient struct {
	issues map[int]*core.Issue
	kinds  map[int]core.IssueType

	children     []core.ChildIssue
	parent       *core.ParentIssue
	labelsExist  map[string]bool
	typesNative  bool
	typeFailures map[core.IssueType]error

	createdSpec  *core.CreateIssueSpec
	fallbacks    []string
	updatedBody  map[int]string
	labelsMade   []core.Label
	typesEnsured []core.IssueType
}

var _ core.Client = (*stubClient)(nil)

func newStubClient() *stubClient {
	return &stubClient{
		issues:      map[int]*core.Issue{},
		kinds:       map[int]core.IssueType{},
		labelsExist: map[string]bool{},
		updatedBody: map[int]string{},
	}
}

func (s *stubClient) GetIssue(ctx context.Context, repo core.RepoRef, number int) (*core.Issue, error) {
	issue, ok := s.issues[number]
	if !ok {
		return nil, core.ErrIssueNotFound(repo, number)
	}
	cp := *issue
	return &cp, nil
}

func (s *stubClient) CreateIssue(ctx context.Context, spec core.CreateIssueSpec) (*core.CreatedIssue, error) {
	s.createdSpec = &spec
	issue := &core.Issue{Number: 99, Title: spec.Title, Body: spec.Body, Open: true}
	s.issues[99] = issue
	return &core.CreatedIssue{Issue: issue, Fallbacks: s.fallbacks}, nil
}

func (s *stubClient) UpdateIssueBody(ctx context.Context, repo core.RepoRef, number int, body string) error {
	s.updatedBody[number] = body
	return nil
}

func (s *stubClient) CloseIssue(ctx context.Context, repo core.RepoRef, number int) error {
	return nil
}

func (s *stubClient) SetLabels(ctx context.Context, repo core.RepoRef, number int, labels []string) error {
	return nil
}

func (s *stubClient) Parent(ctx context.Context, repo core.RepoRef, number int) (*core.ParentIssue, error) {
	return s.parent, nil
}

func (s *stubClient) Children(ctx context.Context, repo core.RepoRef, number int) ([]core.ChildIssue, error) {
	return s.children, nil
}

func (s *stubClient) IssueKind(ctx context.Context, repo core.RepoRef, number int) (core.IssueType, error) {
	if k, ok := s.kinds[number]; ok {
		return k, nil
	}
	return core.TypeIssue, nil
}

func (s *stubClient) ProjectStatus(ctx context.Context, repo core.RepoRef, number int) (core.WorkflowState, error) {
	return core.StateUnknown, nil
}

func (s *stubClient) SetProjectStatus(ctx context.Context, repo core.RepoRef, number int, state core.WorkflowState) error {
	return nil
}

func (s *stubClient) EnsureLabel(ctx context.Context, repo core.RepoRef, label core.Label, description string) (bool, error) {
	if s.labelsExist[label.Name] {
		return false, nil
	}
	s.labelsMade = append(s.labelsMade, label)
	return true, nil
}

func (s *stubClient) EnsureIssueType(ctx context.Context, repo core.RepoRef, kind core.IssueType, description string) (bool, error) {
	if err, ok := s.typeFailures[kind]; ok {
		return false, err
	}
	if !s.typesNative {
		return false, core.ErrFeatureUnavailable("issue_types", "no native types")
	}
	s.typesEnsured = append(s.typesEnsured, kind)
	return true, nil
}

func (s *stubClient) ListMilestones(ctx context.Context, repo core.RepoRef) ([]core.Milestone, error) {
	return nil, nil
}

func (s *stubClient) CurrentUser(ctx context.Context) (string, error) {
	return "octocat", nil
}

func (s *stubClient) Features(ctx context.Context, repo core.RepoRef) (core.Features, error) {
	return core.Features{}, nil
}

var testRepo = core.RepoRef{Owner: "a", Name: "b"}

func newTestService(t *testing.T, client *stubClient) *Service {
	t.Helper()
	cfg := &config.Config{ProjectURL: "https://github.com/a/b"}
	require.NoError(t, cfg.Validate())
	return NewService(client, cfg, logging.NewNop())
}

func TestCreateEpicUsesTemplate(t *testing.T) {
	client := newStubClient()
	svc := newTestService(t, client)

	_, err := svc.Create(context.Background(), CreateRequest{
		Repo:  testRepo,
		Kind:  core.TypeEpic,
		Title: "Ship the rewrite",
	})
	require.NoError(t, err)
	require.NotNil(t, client.createdSpec)

	body := client.createdSpec.Body
	assert.Contains(t, body, "## Summary")
	assert.Contains(t, body, "## Acceptance Criteria")
	assert.Contains(t, body, "## Milestone Plan")
	assert.Contains(t, body, "## Tasks")
	assert.Contains(t, body, todoPlaceholder)
	assert.Equal(t, core.TypeEpic, client.createdSpec.Kind)
	assert.Zero(t, client.createdSpec.Parent)
}

func TestCreateTaskRequiresEpicParent(t *testing.T) {
	client := newStubClient()
	client.issues[1] = &core.Issue{Number: 1, Open: true}
	client.kinds[1] = core.TypeSubTask
	svc := newTestService(t, client)

	_, err := svc.Create(context.Background(), CreateRequest{
		Repo:   testRepo,
		Kind:   core.TypeTask,
		Title:  "Backend",
		Parent: 1,
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeParentNotOfKind, core.CodeOf(err))
}

func TestCreateTaskAddsParentReference(t *testing.T) {
	client := newStubClient()
	client.issues[1] = &core.Issue{Number: 1, Open: true}
	client.kinds[1] = core.TypeEpic
	svc := newTestService(t, client)

	_, err := svc.Create(context.Background(), CreateRequest{
		Repo:   testRepo,
		Kind:   core.TypeTask,
		Title:  "Backend",
		Body:   "## Summary\ncustom body\n",
		Parent: 1,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(client.createdSpec.Body, "**Parent:** #1\n"))
	assert.Contains(t, client.createdSpec.Body, "custom body")
	assert.Equal(t, 1, client.createdSpec.Parent)
}

func TestCreateRejectsClosedParent(t *testing.T) {
	client := newStubClient()
	client.issues[1] = &core.Issue{Number: 1, Open: false}
	client.kinds[1] = core.TypeEpic
	svc := newTestService(t, client)

	_, err := svc.Create(context.Background(), CreateRequest{
		Repo:   testRepo,
		Kind:   core.TypeTask,
		Title:  "Backend",
		Parent: 1,
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))
}

func TestCreateEpicRejectsParent(t *testing.T) {
	client := newStubClient()
	svc := newTestService(t, client)

	_, err := svc.Create(context.Background(), CreateRequest{
		Repo:   testRepo,
		Kind:   core.TypeEpic,
		Title:  "Nope",
		Parent: 1,
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidArgument, core.CodeOf(err))
}

func TestGetEnrichesEpic(t *testing.T) {
	client := newStubClient()
	client.issues[5] = &core.Issue{
		Number: 5, Open: true,
		Body: "## Summary\ns\n\n## Log\n\n### 2025-01-02T03:04:05Z\nState changed from `backlog` to `planning` by @octocat\n",
		Labels: []string{"type:epic", "status:planning"},
	}
	client.kinds[5] = core.TypeEpic
	client.children = []core.ChildIssue{
		{Number: 11, Closed: true},
		{Number: 12, Closed: false},
		{Number: 13, Closed: true},
	}
	svc := newTestService(t, client)

	view, err := svc.Get(context.Background(), testRepo, 5)
	require.NoError(t, err)
	assert.Equal(t, core.TypeEpic, view.Kind)
	assert.Equal(t, core.StatePlanning, view.State)
	require.NotNil(t, view.Summary)
	assert.Equal(t, 3, view.Summary.Total)
	assert.Equal(t, 2, view.Summary.Closed)
	assert.InDelta(t, 66.6, view.Summary.Completion, 0.1)
	require.Len(t, view.Log, 1)
	assert.Equal(t, "octocat", view.Log[0].Actor)
	require.Len(t, view.Sections, 1)
	assert.Equal(t, "Summary", view.Sections[0].Title)
}

func TestGetResolvesParentForSubTask(t *testing.T) {
	client := newStubClient()
	client.issues[7] = &core.Issue{Number: 7, Open: true, Body: ""}
	client.kinds[7] = core.TypeSubTask
	client.parent = &core.ParentIssue{Number: 3, Title: "The task", Kind: core.TypeTask}
	svc := newTestService(t, client)

	view, err := svc.Get(context.Background(), testRepo, 7)
	require.NoError(t, err)
	require.NotNil(t, view.Parent)
	assert.Equal(t, 3, view.Parent.Number)
	assert.Nil(t, view.Summary)
}

func TestGetSectionByTitle(t *testing.T) {
	client := newStubClient()
	client.issues[7] = &core.Issue{
		Number: 7, Open: true,
		Body: "## Summary\nshort\n\n## Tasks\n- [x] first\n- [ ] second\n",
	}
	svc := newTestService(t, client)

	sec, err := svc.GetSection(context.Background(), testRepo, 7, "tasks")
	require.NoError(t, err)
	assert.Equal(t, "Tasks", sec.Title)
	assert.Equal(t, 2, sec.TotalTodos())
	assert.Equal(t, 1, sec.CompletedTodos())

	_, err = svc.GetSection(context.Background(), testRepo, 7, "Taks")
	require.Error(t, err)
	assert.Equal(t, core.CodeSectionNotFound, core.CodeOf(err))
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	opts := domErr.Detail("valid_options").([]string)
	assert.Equal(t, "Tasks", opts[0])
}

func TestGetTodoRequiresUniqueMatch(t *testing.T) {
	client := newStubClient()
	client.issues[7] = &core.Issue{
		Number: 7, Open: true,
		Body: "## Checks\n- [ ] deploy staging\n- [x] deploy production\n",
	}
	svc := newTestService(t, client)

	todo, err := svc.GetTodo(context.Background(), testRepo, 7, "Checks", "production")
	require.NoError(t, err)
	assert.True(t, todo.Checked)
	assert.Equal(t, "deploy production", todo.Text)

	_, err = svc.GetTodo(context.Background(), testRepo, 7, "Checks", "deploy")
	require.Error(t, err)
	assert.Equal(t, core.CodeAmbiguousMatch, core.CodeOf(err))
}

func TestSetBodyRejectsOversized(t *testing.T) {
	client := newStubClient()
	client.issues[7] = &core.Issue{Number: 7, Open: true}
	svc := newTestService(t, client)

	err := svc.SetBody(context.Background(), testRepo, 7, strings.Repeat("x", core.MaxBodySize+1))
	require.Error(t, err)
	assert.Equal(t, core.CodeBodyTooLarge, core.CodeOf(err))
	assert.Empty(t, client.updatedBody)
}

func TestPreservingLogGraftsOldLog(t *testing.T) {
	old := "## Summary\nold\n\n## Log\n\n### 2025-01-02T03:04:05Z\nState changed from `backlog` to `planning` by @octocat\n"
	merged := PreservingLog(old, "## Summary\nnew\n")
	assert.Contains(t, merged, "## Summary\nnew")
	assert.Contains(t, merged, "State changed from `backlog` to `planning` by @octocat")

	// A replacement that carries its own log wins.
	own := "## Summary\nnew\n\n## Log\n\n### 2025-02-02T03:04:05Z\nState changed from `planning` to `awaiting-plan-approval` by @hubot\n"
	assert.Equal(t, own, PreservingLog(old, own))
}

func TestCreateTodoAndCheckTodo(t *testing.T) {
	client := newStubClient()
	client.issues[7] = &core.Issue{Number: 7, Open: true, Body: "## Checks\n- [ ] first\n"}
	svc := newTestService(t, client)

	err := svc.CreateTodo(context.Background(), testRepo, 7, "Checks", "second", false)
	require.NoError(t, err)
	assert.Contains(t, client.updatedBody[7], "- [ ] second")

	client.issues[7].Body = client.updatedBody[7]
	checked := true
	todo, err := svc.CheckTodo(context.Background(), testRepo, 7, "Checks", "second", &checked)
	require.NoError(t, err)
	assert.True(t, todo.Checked)
	assert.Contains(t, client.updatedBody[7], "- [x] second")
	assert.Contains(t, client.updatedBody[7], "- [ ] first")
}

func TestSectionSuggestionsRankedByCloseness(t *testing.T) {
	client := newStubClient()
	client.issues[7] = &core.Issue{
		Number: 7, Open: true,
		Body: "## Summary\n\n## Acceptance Criteria\n\n## Implementation Plan\n",
	}
	svc := newTestService(t, client)

	err := svc.CreateTodo(context.Background(), testRepo, 7, "Critera", "x", false)
	require.Error(t, err)
	assert.Equal(t, core.CodeSectionNotFound, core.CodeOf(err))
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	opts := domErr.Detail("valid_options").([]string)
	assert.Equal(t, "Acceptance Criteria", opts[0])
}

func TestBootstrapNativeTypes(t *testing.T) {
	client := newStubClient()
	client.typesNative = true
	client.labelsExist["status:backlog"] = true
	svc := newTestService(t, client)

	res, err := svc.Bootstrap(context.Background(), testRepo)
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Contains(t, res.Existing, "label status:backlog")
	assert.Contains(t, res.Created, "label status:closed")
	assert.Contains(t, res.Created, "issue type Epic")
	assert.Empty(t, res.Fallbacks)
	// Native types present, so no type:* labels were created.
	for _, l := range client.labelsMade {
		assert.False(t, strings.HasPrefix(l.Name, "type:"))
	}
}

func TestBootstrapFallsBackToTypeLabels(t *testing.T) {
	client := newStubClient()
	svc := newTestService(t, client)

	res, err := svc.Bootstrap(context.Background(), testRepo)
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Contains(t, res.Fallbacks, "label type:epic")
	assert.Contains(t, res.Fallbacks, "label type:task")
	assert.Contains(t, res.Fallbacks, "label type:sub-task")
}

func TestBootstrapCollectsFailures(t *testing.T) {
	client := newStubClient()
	client.typesNative = true
	client.typeFailures = map[core.IssueType]error{
		core.TypeTask: core.ErrNetwork("boom"),
	}
	svc := newTestService(t, client)

	res, err := svc.Bootstrap(context.Background(), testRepo)
	require.NoError(t, err)
	assert.False(t, res.Ok())
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0], "issue type Task")
	// The remaining types were still processed.
	assert.Contains(t, res.Created, "issue type Epic")
	assert.Contains(t, res.Created, "issue type Sub-task")
}
