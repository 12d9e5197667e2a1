package github

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/justynbrt/ghoo/internal/bodyparse"
	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

// TasksSectionTitle is the parent-body section holding fallback child
// references.
const TasksSectionTitle = "Tasks"

// nodeCacheLimit bounds the node-ID cache. The cache is tiny; clearing on
// overflow beats eviction bookkeeping.
const nodeCacheLimit = 512

// Hybrid routes operations between the REST and graph transports. Structural
// data goes to REST; sub-issue edges, native types and board fields go to
// the graph, with fallbacks when a probed feature is absent.
type Hybrid struct {
	rest  *RESTClient
	graph *GraphQLClient
	log   *logging.Logger

	projectConfigured bool
	projectIsOrg      bool
	projectOwner      string
	projectNumber     int

	mu       sync.Mutex
	features map[string]core.Features
	nodeIDs  map[string]string

	projectID   string
	statusField string
	statusOpts  map[string]string // option name -> option id
}

// Compile-time conformance check.
var _ core.Client = (*Hybrid)(nil)

// HybridOption configures a Hybrid client.
type HybridOption func(*Hybrid)

// WithProject points the client at a Projects V2 board for status fields.
func WithProject(isOrg bool, owner string, number int) HybridOption {
	return func(h *Hybrid) {
		h.projectConfigured = true
		h.projectIsOrg = isOrg
		h.projectOwner = owner
		h.projectNumber = number
	}
}

// NewHybrid creates the hybrid client over the two transports.
func NewHybrid(rest *RESTClient, graph *GraphQLClient, log *logging.Logger, opts ...HybridOption) *Hybrid {
	h := &Hybrid{
		rest:     rest,
		graph:    graph,
		log:      log,
		features: make(map[string]core.Features),
		nodeIDs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Features probes the capability set once per repository and caches it for
// the life of the process.
func (h *Hybrid) Features(ctx context.Context, repo core.RepoRef) (core.Features, error) {
	h.mu.Lock()
	if f, ok := h.features[repo.String()]; ok {
		h.mu.Unlock()
		return f, nil
	}
	h.mu.Unlock()

	f := core.Features{
		SubIssues:  h.graph.CheckSubIssuesAvailable(ctx, repo),
		IssueTypes: h.graph.CheckIssueTypesAvailable(ctx, repo),
	}
	if h.projectConfigured {
		_, err := h.projectStatusIDs(ctx)
		f.ProjectsV2 = err == nil
	}
	h.log.Debug("feature probe",
		"repo", repo.String(),
		"sub_issues", f.SubIssues,
		"issue_types", f.IssueTypes,
		"projects_v2", f.ProjectsV2)

	h.mu.Lock()
	h.features[repo.String()] = f
	h.mu.Unlock()
	return f, nil
}

func (h *Hybrid) nodeID(ctx context.Context, repo core.RepoRef, number int) (string, error) {
	key := fmt.Sprintf("%s#%d", repo, number)
	h.mu.Lock()
	if id, ok := h.nodeIDs[key]; ok {
		h.mu.Unlock()
		return id, nil
	}
	h.mu.Unlock()

	id, err := h.graph.NodeID(ctx, repo, number)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	if len(h.nodeIDs) >= nodeCacheLimit {
		h.nodeIDs = make(map[string]string)
	}
	h.nodeIDs[key] = id
	h.mu.Unlock()
	return id, nil
}

// GetIssue fetches an issue through REST.
func (h *Hybrid) GetIssue(ctx context.Context, repo core.RepoRef, number int) (*core.Issue, error) {
	return h.rest.GetIssue(ctx, repo, number)
}

// UpdateIssueBody replaces an issue body through REST.
func (h *Hybrid) UpdateIssueBody(ctx context.Context, repo core.RepoRef, number int, body string) error {
	return h.rest.UpdateIssueBody(ctx, repo, number, body)
}

// CloseIssue closes an issue through REST.
func (h *Hybrid) CloseIssue(ctx context.Context, repo core.RepoRef, number int) error {
	return h.rest.CloseIssue(ctx, repo, number)
}

// SetLabels replaces the label set through REST.
func (h *Hybrid) SetLabels(ctx context.Context, repo core.RepoRef, number int, labels []string) error {
	return h.rest.SetLabels(ctx, repo, number, labels)
}

// CurrentUser resolves the authenticated user through REST.
func (h *Hybrid) CurrentUser(ctx context.Context) (string, error) {
	return h.rest.CurrentUser(ctx)
}

// ListMilestones lists open milestones through REST.
func (h *Hybrid) ListMilestones(ctx context.Context, repo core.RepoRef) ([]core.Milestone, error) {
	return h.rest.ListMilestones(ctx, repo)
}

// GetMilestone fetches one milestone by number through REST.
func (h *Hybrid) GetMilestone(ctx context.Context, repo core.RepoRef, number int) (*core.Milestone, error) {
	return h.rest.GetMilestone(ctx, repo, number)
}

// MilestoneIssues lists the issues attached to a milestone through REST.
func (h *Hybrid) MilestoneIssues(ctx context.Context, repo core.RepoRef, milestone int) ([]core.Issue, error) {
	return h.rest.MilestoneIssues(ctx, repo, milestone)
}

// CreateIssue creates an issue and establishes the parent relationship. New
// issues always start in the backlog state. Typed creation prefers the one
// shot graph mutation carrying the native type; when that path is
// unavailable the issue is created through REST with a type label. If the
// parent relationship cannot be established by any path, the freshly created
// child is closed and RelationshipRequired is returned.
func (h *Hybrid) CreateIssue(ctx context.Context, spec core.CreateIssueSpec) (*core.CreatedIssue, error) {
	feats, err := h.Features(ctx, spec.Repo)
	if err != nil {
		return nil, err
	}

	milestone := 0
	if spec.Milestone != "" {
		milestone, err = h.resolveMilestone(ctx, spec.Repo, spec.Milestone)
		if err != nil {
			return nil, err
		}
	}

	var fallbacks []string
	labels := append([]string{}, spec.Labels...)
	labels = appendMissing(labels, core.StateBacklog.StatusLabel())

	var issue *core.Issue
	if feats.IssueTypes && spec.Kind != core.TypeIssue {
		issue, err = h.createTyped(ctx, spec, labels, milestone)
		if err != nil {
			if core.FeatureOf(err) == "" {
				return nil, err
			}
			// The probe was stale: the typed path vanished mid-flight.
			h.log.WithRepo(spec.Repo.String()).
				Warn("typed create unavailable, using type label", "error", err)
		}
	}
	if issue == nil {
		if spec.Kind != core.TypeIssue {
			labels = appendMissing(labels, spec.Kind.TypeLabel())
			fallbacks = append(fallbacks, core.FallbackTypeLabel)
		}
		in := CreateIssueInput{
			Title:     spec.Title,
			Body:      spec.Body,
			Labels:    labels,
			Assignees: spec.Assignees,
			Milestone: milestone,
		}
		issue, err = h.rest.CreateIssue(ctx, spec.Repo, in)
		if err != nil {
			return nil, err
		}
	}
	issue.Labels = labels

	log := h.log.WithRepo(spec.Repo.String()).WithIssue(issue.Number)
	log.Info("issue created", "kind", string(spec.Kind), "title", spec.Title)

	if spec.Parent > 0 {
		fb, err := h.linkParent(ctx, spec.Repo, spec.Parent, issue, feats)
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, fb...)
	}

	return &core.CreatedIssue{Issue: issue, Fallbacks: fallbacks}, nil
}

// createTyped runs the preferred typed-creation path: one graph mutation
// carrying the native type, then labels, assignees and milestone through
// REST. A missing type is feature shaped so the caller can degrade.
func (h *Hybrid) createTyped(ctx context.Context, spec core.CreateIssueSpec, labels []string, milestone int) (*core.Issue, error) {
	repoID, err := h.graph.RepositoryID(ctx, spec.Repo)
	if err != nil {
		return nil, err
	}
	types, err := h.graph.ListIssueTypes(ctx, spec.Repo)
	if err != nil {
		return nil, err
	}
	typeID, ok := types[spec.Kind.DisplayName()]
	if !ok {
		return nil, core.ErrFeatureUnavailable("issue_types",
			fmt.Sprintf("issue type %q does not exist, run ghoo init", spec.Kind.DisplayName()))
	}
	issue, err := h.graph.CreateIssueWithType(ctx, repoID, spec.Title, spec.Body, typeID)
	if err != nil {
		return nil, err
	}
	if err := h.rest.SetLabels(ctx, spec.Repo, issue.Number, labels); err != nil {
		return nil, err
	}
	if len(spec.Assignees) > 0 {
		if err := h.rest.AddAssignees(ctx, spec.Repo, issue.Number, spec.Assignees); err != nil {
			return nil, err
		}
	}
	if milestone > 0 {
		if err := h.rest.SetMilestone(ctx, spec.Repo, issue.Number, milestone); err != nil {
			return nil, err
		}
	}
	return issue, nil
}

// linkParent establishes the parent relationship: native sub-issue edge
// first, body reference second. A feature-shaped edge failure (the probe was
// stale) degrades to the body reference; a hard edge failure rolls the child
// back. Rollback closes the child; closing an already-closed issue is a
// no-op, keeping the compensation idempotent.
func (h *Hybrid) linkParent(ctx context.Context, repo core.RepoRef, parent int, child *core.Issue, feats core.Features) ([]string, error) {
	log := h.log.WithRepo(repo.String()).WithIssue(child.Number)

	if feats.SubIssues {
		err := h.addSubIssueEdge(ctx, repo, parent, child.Number)
		if err == nil {
			return nil, nil
		}
		if core.FeatureOf(err) == "" {
			log.Warn("sub-issue edge failed, rolling back child", "error", err)
			h.rollbackChild(ctx, repo, child.Number, log)
			return nil, core.ErrRelationshipRequired("add_sub_issue_edge").WithCause(err)
		}
		log.Warn("sub-issue edge unavailable, using body reference", "error", err)
	}

	if err := h.addBodyReference(ctx, repo, parent, child); err != nil {
		log.Warn("body reference fallback failed, rolling back child", "error", err)
		h.rollbackChild(ctx, repo, child.Number, log)
		return nil, core.ErrRelationshipRequired("body-reference").WithCause(err)
	}
	return []string{core.FallbackBodyReference}, nil
}

func (h *Hybrid) rollbackChild(ctx context.Context, repo core.RepoRef, number int, log *logging.Logger) {
	if err := h.rest.CloseIssue(ctx, repo, number); err != nil {
		log.Error("rollback close failed, orphan child remains open", "error", err)
	}
}

func (h *Hybrid) addSubIssueEdge(ctx context.Context, repo core.RepoRef, parent, child int) error {
	parentID, err := h.nodeID(ctx, repo, parent)
	if err != nil {
		return err
	}
	childID, err := h.nodeID(ctx, repo, child)
	if err != nil {
		return err
	}
	return h.graph.AddSubIssue(ctx, parentID, childID)
}

// addBodyReference appends a checkbox reference for child to the parent's
// Tasks section, creating the section when absent.
func (h *Hybrid) addBodyReference(ctx context.Context, repo core.RepoRef, parent int, child *core.Issue) error {
	parentIssue, err := h.rest.GetIssue(ctx, repo, parent)
	if err != nil {
		return err
	}
	parsed := bodyparse.Parse(parentIssue.Body)
	ref := fmt.Sprintf("#%d %s", child.Number, child.Title)
	if err := parsed.AddTodo(TasksSectionTitle, ref, true); err != nil {
		return err
	}
	return h.rest.UpdateIssueBody(ctx, repo, parent, parsed.String())
}

// Parent resolves the parent: native edge when available, prelude reference
// otherwise. Nil means the issue has no parent.
func (h *Hybrid) Parent(ctx context.Context, repo core.RepoRef, number int) (*core.ParentIssue, error) {
	feats, err := h.Features(ctx, repo)
	if err != nil {
		return nil, err
	}
	if feats.SubIssues {
		id, err := h.nodeID(ctx, repo, number)
		if err != nil {
			return nil, err
		}
		parent, err := h.graph.ParentIssue(ctx, id)
		if err == nil && parent != nil {
			return parent, nil
		}
		if err != nil && core.FeatureOf(err) == "" {
			return nil, err
		}
	}

	issue, err := h.rest.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	refs := bodyparse.Parse(issue.Body).References()
	if refs.Parent == 0 {
		return nil, nil
	}
	parentIssue, err := h.rest.GetIssue(ctx, repo, refs.Parent)
	if err != nil {
		return nil, err
	}
	kind, err := h.IssueKind(ctx, repo, refs.Parent)
	if err != nil {
		kind = parentIssue.Kind()
	}
	return &core.ParentIssue{
		Number: parentIssue.Number,
		Title:  parentIssue.Title,
		Closed: !parentIssue.Open,
		Kind:   kind,
	}, nil
}

// Children lists direct children: native edges when available, body
// references otherwise. A checked body reference is treated as closed.
func (h *Hybrid) Children(ctx context.Context, repo core.RepoRef, number int) ([]core.ChildIssue, error) {
	feats, err := h.Features(ctx, repo)
	if err != nil {
		return nil, err
	}
	if feats.SubIssues {
		id, err := h.nodeID(ctx, repo, number)
		if err != nil {
			return nil, err
		}
		children, err := h.graph.SubIssues(ctx, id)
		if err == nil {
			return children, nil
		}
		if core.FeatureOf(err) == "" {
			return nil, err
		}
	}

	issue, err := h.rest.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	refs := bodyparse.Parse(issue.Body).References()
	children := make([]core.ChildIssue, 0, len(refs.Tasks))
	for _, t := range refs.Tasks {
		children = append(children, core.ChildIssue{
			Number: t.Number,
			Repo:   t.Repo,
			Title:  t.Title,
			Closed: t.Checked,
		})
	}
	return children, nil
}

// IssueKind resolves an issue's hierarchy kind, native type first, type
// label second.
func (h *Hybrid) IssueKind(ctx context.Context, repo core.RepoRef, number int) (core.IssueType, error) {
	feats, err := h.Features(ctx, repo)
	if err != nil {
		return core.TypeIssue, err
	}
	if feats.IssueTypes {
		kind, err := h.graph.IssueKind(ctx, repo, number)
		if err != nil && core.FeatureOf(err) == "" {
			return core.TypeIssue, err
		}
		if kind != core.TypeIssue {
			return kind, nil
		}
	}
	issue, err := h.rest.GetIssue(ctx, repo, number)
	if err != nil {
		return core.TypeIssue, err
	}
	return issue.Kind(), nil
}

// EnsureLabel creates a repository label when absent.
func (h *Hybrid) EnsureLabel(ctx context.Context, repo core.RepoRef, label core.Label, description string) (bool, error) {
	exists, err := h.rest.GetLabel(ctx, repo, label.Name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := h.rest.CreateLabel(ctx, repo, label, description); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureIssueType creates a native issue type when absent.
func (h *Hybrid) EnsureIssueType(ctx context.Context, repo core.RepoRef, kind core.IssueType, description string) (bool, error) {
	feats, err := h.Features(ctx, repo)
	if err != nil {
		return false, err
	}
	if !feats.IssueTypes {
		return false, core.ErrFeatureUnavailable("issue_types",
			"native issue types are not available on this installation")
	}
	types, err := h.graph.ListIssueTypes(ctx, repo)
	if err != nil {
		return false, err
	}
	if _, ok := types[kind.DisplayName()]; ok {
		return false, nil
	}
	repoID, err := h.graph.RepositoryID(ctx, repo)
	if err != nil {
		return false, err
	}
	if err := h.graph.CreateIssueType(ctx, repoID, kind.DisplayName(), description); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Hybrid) resolveMilestone(ctx context.Context, repo core.RepoRef, title string) (int, error) {
	milestones, err := h.rest.ListMilestones(ctx, repo)
	if err != nil {
		return 0, err
	}
	available := make([]string, 0, len(milestones))
	for _, m := range milestones {
		if strings.EqualFold(m.Title, title) {
			return m.Number, nil
		}
		available = append(available, m.Title)
	}
	return 0, core.ErrValidation(core.CodeMilestoneNotFound,
		fmt.Sprintf("milestone %q not found", title)).
		WithDetail("valid_options", available)
}

// ProjectStatus reads the board's Status field for an issue.
func (h *Hybrid) ProjectStatus(ctx context.Context, repo core.RepoRef, number int) (core.WorkflowState, error) {
	projectID, _, _, err := h.projectStatusIDsFor(ctx)
	if err != nil {
		return core.StateUnknown, err
	}
	issueID, err := h.nodeID(ctx, repo, number)
	if err != nil {
		return core.StateUnknown, err
	}
	_, status, err := h.graph.ProjectItem(ctx, issueID, projectID)
	if err != nil {
		return core.StateUnknown, err
	}
	return core.ParseWorkflowState(status), nil
}

// SetProjectStatus moves the issue's Status field, adding the issue to the
// board first when needed.
func (h *Hybrid) SetProjectStatus(ctx context.Context, repo core.RepoRef, number int, state core.WorkflowState) error {
	projectID, fieldID, options, err := h.projectStatusIDsFor(ctx)
	if err != nil {
		return err
	}
	optionID := ""
	for name, id := range options {
		if core.ParseWorkflowState(name) == state {
			optionID = id
			break
		}
	}
	if optionID == "" {
		return core.ErrFeatureUnavailable("projects_v2",
			fmt.Sprintf("board status field has no option for %q", state))
	}

	issueID, err := h.nodeID(ctx, repo, number)
	if err != nil {
		return err
	}
	itemID, _, err := h.graph.ProjectItem(ctx, issueID, projectID)
	if err != nil {
		return err
	}
	if itemID == "" {
		itemID, err = h.graph.AddItemToProject(ctx, projectID, issueID)
		if err != nil {
			return err
		}
	}
	return h.graph.UpdateProjectItemStatus(ctx, projectID, itemID, fieldID, optionID)
}

// projectStatusIDsFor returns the cached board identifiers, resolving them
// on first use.
func (h *Hybrid) projectStatusIDsFor(ctx context.Context) (projectID, fieldID string, options map[string]string, err error) {
	if !h.projectConfigured {
		return "", "", nil, core.ErrFeatureUnavailable("projects_v2",
			"no project board configured, set project_url to a project URL")
	}
	_, err = h.projectStatusIDs(ctx)
	if err != nil {
		return "", "", nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.projectID, h.statusField, h.statusOpts, nil
}

func (h *Hybrid) projectStatusIDs(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.projectID != "" {
		id := h.projectID
		h.mu.Unlock()
		return id, nil
	}
	h.mu.Unlock()

	projectID, err := h.graph.FindProjectID(ctx, h.projectIsOrg, h.projectOwner, h.projectNumber)
	if err != nil {
		return "", err
	}
	fieldID, options, err := h.graph.ProjectStatusField(ctx, projectID)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.projectID = projectID
	h.statusField = fieldID
	h.statusOpts = options
	h.mu.Unlock()
	return projectID, nil
}

func appendMissing(labels []string, label string) []string {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return labels
		}
	}
	return append(labels, label)
}
