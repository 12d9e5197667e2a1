package core

import (
	"context"
)

// Features reports which optional graph capabilities the target installation
// supports. Probed at most once per process and cached by the hybrid client.
type Features struct {
	SubIssues  bool
	IssueTypes bool
	ProjectsV2 bool
}

// CreateIssueSpec describes a new issue to create.
type CreateIssueSpec struct {
	Repo      RepoRef
	Title     string
	Body      string
	Kind      IssueType
	Labels    []string
	Assignees []string
	Milestone string // resolved by title; empty means none
	Parent    int    // parent issue number; 0 for epics
}

// Fallback markers recorded on results when a degraded path was taken.
const (
	FallbackTypeLabel     = "type-label"     // native issue type unavailable, type:* label used
	FallbackBodyReference = "body-reference" // native sub-issue edge unavailable, body reference used
	FallbackStatusLabel   = "status-label"   // project field unreachable, status:* label used
)

// CreatedIssue is the result of a create operation. Fallbacks lists every
// degraded path taken while creating and linking.
type CreatedIssue struct {
	Issue     *Issue
	Fallbacks []string
}

// IssueClient is the primary port onto the remote issue store. The hybrid
// client implements it by routing each call to the REST or graph transport.
type IssueClient interface {
	// GetIssue retrieves an issue by number.
	GetIssue(ctx context.Context, repo RepoRef, number int) (*Issue, error)

	// CreateIssue creates a new issue. When spec.Parent is set the
	// implementation establishes the parent relationship as part of the
	// operation, rolling the child back if no relationship path succeeds.
	CreateIssue(ctx context.Context, spec CreateIssueSpec) (*CreatedIssue, error)

	// UpdateIssueBody replaces the body of an existing issue.
	UpdateIssueBody(ctx context.Context, repo RepoRef, number int, body string) error

	// CloseIssue closes an issue. Closing a closed issue is a no-op.
	CloseIssue(ctx context.Context, repo RepoRef, number int) error

	// SetLabels replaces the full label set of an issue.
	SetLabels(ctx context.Context, repo RepoRef, number int, labels []string) error
}

// HierarchyClient resolves parent/child structure. Implementations prefer
// native sub-issue edges and fall back to body references when the feature
// is absent.
type HierarchyClient interface {
	// Parent returns the resolved parent of an issue, or nil when it has none.
	Parent(ctx context.Context, repo RepoRef, number int) (*ParentIssue, error)

	// Children returns the direct children of an issue.
	Children(ctx context.Context, repo RepoRef, number int) ([]ChildIssue, error)

	// IssueKind resolves the hierarchy kind of an issue, native type first,
	// type:* label second.
	IssueKind(ctx context.Context, repo RepoRef, number int) (IssueType, error)
}

// StatusClient projects workflow state onto the project-board field.
// Used only when the configuration selects status_field.
type StatusClient interface {
	// ProjectStatus reads the single-select status of an issue on the
	// configured project board. Returns StateUnknown when the issue is not
	// on the board.
	ProjectStatus(ctx context.Context, repo RepoRef, number int) (WorkflowState, error)

	// SetProjectStatus moves the issue's status field to the given state,
	// adding the issue to the board if necessary.
	SetProjectStatus(ctx context.Context, repo RepoRef, number int, state WorkflowState) error
}

// RepoAdminClient covers the repository bootstrap surface used by init.
type RepoAdminClient interface {
	// EnsureLabel creates a label if absent. Reports whether it was created.
	EnsureLabel(ctx context.Context, repo RepoRef, label Label, description string) (created bool, err error)

	// EnsureIssueType creates a native issue type if absent. Reports whether
	// it was created. Fails with FeatureUnavailable when the installation
	// has no native types.
	EnsureIssueType(ctx context.Context, repo RepoRef, kind IssueType, description string) (created bool, err error)

	// ListMilestones returns the open milestones of a repository.
	ListMilestones(ctx context.Context, repo RepoRef) ([]Milestone, error)
}

// IdentityClient resolves the authenticated user, recorded as the actor in
// audit log entries.
type IdentityClient interface {
	// CurrentUser returns the login of the token's user.
	CurrentUser(ctx context.Context) (string, error)
}

// FeatureProber exposes the cached capability probe.
type FeatureProber interface {
	// Features returns the probed capability set for a repository. The first
	// call performs the probe; later calls return the cached result.
	Features(ctx context.Context, repo RepoRef) (Features, error)
}

// Client is the full remote surface the services compose against.
type Client interface {
	IssueClient
	HierarchyClient
	StatusClient
	RepoAdminClient
	IdentityClient
	FeatureProber
}
