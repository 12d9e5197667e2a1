package issues

import (
	"context"

	"github.com/justynbrt/ghoo/internal/bodyparse"
	"github.com/justynbrt/ghoo/internal/core"
)

// SetBody replaces an issue body wholesale. The audit log, if present in the
// old body, must be carried by the caller-supplied text; the command layer
// preserves it by default.
func (s *Service) SetBody(ctx context.Context, repo core.RepoRef, number int, body string) error {
	if size := bodyparse.Parse(body).Len(); size > core.MaxBodySize {
		return core.ErrBodyTooLarge(size)
	}
	if _, err := s.client.GetIssue(ctx, repo, number); err != nil {
		return err
	}
	return s.client.UpdateIssueBody(ctx, repo, number, body)
}

// PreservingLog grafts the existing audit log of oldBody onto newBody when
// the replacement text does not carry one of its own.
func PreservingLog(oldBody, newBody string) string {
	if bodyparse.Parse(newBody).Log != nil {
		return newBody
	}
	old := bodyparse.Parse(oldBody)
	if old.Log == nil {
		return newBody
	}
	parsed := bodyparse.Parse(newBody)
	for _, e := range old.Log.Entries {
		parsed.AppendLogEntry(e)
	}
	return parsed.String()
}

// CreateTodo appends an unchecked todo to a section of the issue body.
func (s *Service) CreateTodo(ctx context.Context, repo core.RepoRef, number int, section, text string, createSection bool) error {
	return s.editBody(ctx, repo, number, func(parsed *bodyparse.ParsedBody) error {
		if err := parsed.AddTodo(section, text, createSection); err != nil {
			return rerankedSectionErr(err, section)
		}
		return nil
	})
}

// CheckTodo flips the checkbox of the todo matching `match` inside a section.
// A nil want toggles; otherwise the todo is forced to the requested state.
func (s *Service) CheckTodo(ctx context.Context, repo core.RepoRef, number int, section, match string, want *bool) (*core.Todo, error) {
	var todo *core.Todo
	err := s.editBody(ctx, repo, number, func(parsed *bodyparse.ParsedBody) error {
		t, err := parsed.SetTodo(section, match, want)
		if err != nil {
			return rerankedSectionErr(err, match)
		}
		todo = t
		return nil
	})
	return todo, err
}

// CreateSection adds an empty section ahead of the audit log.
func (s *Service) CreateSection(ctx context.Context, repo core.RepoRef, number int, title string) error {
	return s.editBody(ctx, repo, number, func(parsed *bodyparse.ParsedBody) error {
		return parsed.AddSection(title)
	})
}

// editBody runs one parse-edit-write cycle against an issue body. The edit
// operates on raw lines, so untouched regions survive byte for byte.
func (s *Service) editBody(ctx context.Context, repo core.RepoRef, number int, edit func(*bodyparse.ParsedBody) error) error {
	issue, err := s.client.GetIssue(ctx, repo, number)
	if err != nil {
		return err
	}
	parsed := bodyparse.Parse(issue.Body)
	if err := edit(parsed); err != nil {
		return err
	}
	if size := parsed.Len(); size > core.MaxBodySize {
		return core.ErrBodyTooLarge(size)
	}
	return s.client.UpdateIssueBody(ctx, repo, number, parsed.String())
}
