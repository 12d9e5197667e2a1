package issues

import (
	"context"

	"github.com/justynbrt/ghoo/internal/bodyparse"
	"github.com/justynbrt/ghoo/internal/core"
)

// ChildSummary aggregates the completion state of an issue's children.
type ChildSummary struct {
	Total      int     `json:"total"`
	Open       int     `json:"open"`
	Closed     int     `json:"closed"`
	Completion float64 `json:"completion"` // 0..100
}

// IssueView is the enriched read model behind `ghoo get`.
type IssueView struct {
	Issue    *core.Issue        `json:"issue"`
	Kind     core.IssueType     `json:"kind"`
	State    core.WorkflowState `json:"state"`
	Fallback string             `json:"fallback,omitempty"`

	Parent   *core.ParentIssue `json:"parent,omitempty"`
	Children []core.ChildIssue `json:"children,omitempty"`
	Summary  *ChildSummary     `json:"summary,omitempty"`

	Sections []core.Section  `json:"sections"`
	Log      []core.LogEntry `json:"log,omitempty"`
}

// Get retrieves an issue with its hierarchy, parsed sections, projected
// workflow state and audit log.
func (s *Service) Get(ctx context.Context, repo core.RepoRef, number int) (*IssueView, error) {
	issue, err := s.client.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	kind, err := s.client.IssueKind(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	state, fallback, err := s.engine.Status(ctx, repo, issue)
	if err != nil {
		return nil, err
	}

	view := &IssueView{
		Issue:    issue,
		Kind:     kind,
		State:    state,
		Fallback: fallback,
	}

	parsed := bodyparse.Parse(issue.Body)
	for _, span := range parsed.Sections {
		view.Sections = append(view.Sections, span.Section)
	}
	if parsed.Log != nil {
		view.Log = parsed.Log.Entries
	}

	if kind == core.TypeTask || kind == core.TypeSubTask {
		parent, err := s.client.Parent(ctx, repo, number)
		if err != nil {
			return nil, err
		}
		view.Parent = parent
	}
	if kind == core.TypeEpic || kind == core.TypeTask {
		children, err := s.client.Children(ctx, repo, number)
		if err != nil {
			return nil, err
		}
		view.Children = children
		view.Summary = summarize(children)
	}
	return view, nil
}

// GetSection returns one body section by case-insensitive title.
func (s *Service) GetSection(ctx context.Context, repo core.RepoRef, number int, title string) (*core.Section, error) {
	issue, err := s.client.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	parsed := bodyparse.Parse(issue.Body)
	span := parsed.Section(title)
	if span == nil {
		return nil, rerankedSectionErr(
			core.ErrSectionNotFound(title, parsed.SectionTitles()), title)
	}
	sec := span.Section
	return &sec, nil
}

// GetTodo returns the single todo in a section whose text contains match.
func (s *Service) GetTodo(ctx context.Context, repo core.RepoRef, number int, section, match string) (*core.Todo, error) {
	issue, err := s.client.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	todo, err := bodyparse.Parse(issue.Body).FindTodo(section, match)
	if err != nil {
		return nil, rerankedSectionErr(err, match)
	}
	return todo, nil
}

func summarize(children []core.ChildIssue) *ChildSummary {
	if len(children) == 0 {
		return nil
	}
	sum := &ChildSummary{Total: len(children)}
	for _, c := range children {
		if c.Closed {
			sum.Closed++
		} else {
			sum.Open++
		}
	}
	sum.Completion = float64(sum.Closed) / float64(sum.Total) * 100
	return sum
}
