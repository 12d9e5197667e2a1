package issues

import (
	"context"
	"fmt"
	"strings"

	"github.com/justynbrt/ghoo/internal/bodyparse"
	"github.com/justynbrt/ghoo/internal/core"
)

// todoPlaceholder marks a templated section the author has not filled in yet.
const todoPlaceholder = "*TODO: Fill in this section*"

// CreateRequest describes a new issue in the hierarchy.
type CreateRequest struct {
	Repo      core.RepoRef
	Kind      core.IssueType
	Title     string
	Body      string // empty selects the kind's template
	Parent    int    // required for tasks and sub-tasks, forbidden for epics
	Labels    []string
	Assignees []string
	Milestone string
}

// parentKind returns the kind a parent of the requested issue must have.
func parentKind(kind core.IssueType) core.IssueType {
	switch kind {
	case core.TypeTask:
		return core.TypeEpic
	case core.TypeSubTask:
		return core.TypeTask
	}
	return core.TypeIssue
}

// Create validates the hierarchy placement and creates the issue, templating
// the body when none is supplied.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*core.CreatedIssue, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, core.ErrValidation(core.CodeInvalidArgument, "title must not be empty")
	}

	switch req.Kind {
	case core.TypeEpic:
		if req.Parent != 0 {
			return nil, core.ErrValidation(core.CodeInvalidArgument,
				"epics sit at the top of the hierarchy and cannot have a parent")
		}
	case core.TypeTask, core.TypeSubTask:
		if req.Parent == 0 {
			return nil, core.ErrValidation(core.CodeInvalidArgument,
				fmt.Sprintf("a %s requires a parent %s (--parent)", req.Kind, parentKind(req.Kind)))
		}
		if err := s.checkParent(ctx, req.Repo, req.Parent, parentKind(req.Kind)); err != nil {
			return nil, err
		}
	default:
		return nil, core.ErrValidation(core.CodeInvalidIssueType,
			fmt.Sprintf("cannot create issues of type %q", req.Kind)).
			WithDetail("valid_options", []string{"epic", "task", "sub-task"})
	}

	body := req.Body
	if body == "" {
		body = s.templateBody(req.Kind)
	}
	if req.Parent != 0 {
		body = withParentRef(body, req.Parent)
	}
	if size := bodyparse.Parse(body).Len(); size > core.MaxBodySize {
		return nil, core.ErrBodyTooLarge(size)
	}

	created, err := s.client.CreateIssue(ctx, core.CreateIssueSpec{
		Repo:      req.Repo,
		Title:     req.Title,
		Body:      body,
		Kind:      req.Kind,
		Labels:    req.Labels,
		Assignees: req.Assignees,
		Milestone: req.Milestone,
		Parent:    req.Parent,
	})
	if err != nil {
		return nil, err
	}

	log := s.log.WithRepo(req.Repo.String()).WithIssue(created.Issue.Number)
	log.Info("issue created", "kind", string(req.Kind), "title", req.Title)
	for _, fb := range created.Fallbacks {
		log.Warn("degraded path taken during creation", "fallback", fb)
	}
	return created, nil
}

// checkParent verifies the parent exists, is open, and has the required kind.
func (s *Service) checkParent(ctx context.Context, repo core.RepoRef, parent int, want core.IssueType) error {
	issue, err := s.client.GetIssue(ctx, repo, parent)
	if err != nil {
		return err
	}
	if !issue.Open {
		return core.ErrValidation(core.CodeInvalidArgument,
			fmt.Sprintf("parent #%d is closed; children can only be added to open issues", parent))
	}
	kind, err := s.client.IssueKind(ctx, repo, parent)
	if err != nil {
		return err
	}
	if kind != want {
		return core.ErrParentNotOfKind(parent, want, kind)
	}
	return nil
}

// templateBody renders the starter body for a kind: every configured required
// section with a placeholder, plus a Tasks section on epics for the
// body-reference fallback and human planning.
func (s *Service) templateBody(kind core.IssueType) string {
	var b strings.Builder
	for _, title := range s.cfg.RequiredSectionsFor(kind) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, todoPlaceholder)
	}
	if kind == core.TypeEpic {
		fmt.Fprintf(&b, "## Tasks\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// withParentRef prepends the parent reference line unless the body already
// carries one.
func withParentRef(body string, parent int) string {
	if bodyparse.Parse(body).References().Parent == parent {
		return body
	}
	return fmt.Sprintf("**Parent:** #%d\n\n%s", parent, body)
}
