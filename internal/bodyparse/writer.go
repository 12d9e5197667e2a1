package bodyparse

import (
	"fmt"
	"strings"

	"github.com/justynbrt/ghoo/internal/core"
)

// insert splices newLines into the body at index i and refreshes structure.
func (p *ParsedBody) insert(i int, newLines ...string) {
	out := make([]string, 0, len(p.lines)+len(newLines))
	out = append(out, p.lines[:i]...)
	out = append(out, newLines...)
	out = append(out, p.lines[i:]...)
	p.lines = out
	p.reparse()
}

// isBlank reports whether a raw line has no content.
func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// MatchTodos returns the todos in a section whose text contains match,
// case-insensitive.
func (s *SectionSpan) MatchTodos(match string) []*core.Todo {
	needle := strings.ToLower(strings.TrimSpace(match))
	var out []*core.Todo
	for _, td := range s.Todos {
		if strings.Contains(strings.ToLower(td.Text), needle) {
			out = append(out, td)
		}
	}
	return out
}

// SetTodo finds the todo in the named section whose text contains match and
// sets its checkbox. want nil toggles. Exactly one todo must match; zero or
// several is an error carrying the candidate list.
func (p *ParsedBody) SetTodo(sectionTitle, match string, want *bool) (*core.Todo, error) {
	sec, err := p.requireSection(sectionTitle)
	if err != nil {
		return nil, err
	}

	found := sec.MatchTodos(match)
	switch len(found) {
	case 0:
		return nil, core.ErrValidation(core.CodeTodoNotFound,
			fmt.Sprintf("no todo matching %q in section %q", match, sec.Title)).
			WithDetail("valid_options", todoTexts(sec.Todos))
	case 1:
	default:
		return nil, core.ErrAmbiguousMatch(match, todoTexts(found))
	}

	td := found[0]
	checked := !td.Checked
	if want != nil {
		checked = *want
	}
	if checked != td.Checked {
		p.setCheckbox(td.Line, checked)
		td.Checked = checked
	}
	return td, nil
}

// FindTodo locates the todo in the named section whose text contains match,
// without touching the body. Same uniqueness rule as SetTodo.
func (p *ParsedBody) FindTodo(sectionTitle, match string) (*core.Todo, error) {
	sec, err := p.requireSection(sectionTitle)
	if err != nil {
		return nil, err
	}
	found := sec.MatchTodos(match)
	switch len(found) {
	case 0:
		return nil, core.ErrValidation(core.CodeTodoNotFound,
			fmt.Sprintf("no todo matching %q in section %q", match, sec.Title)).
			WithDetail("valid_options", todoTexts(sec.Todos))
	case 1:
		return found[0], nil
	default:
		return nil, core.ErrAmbiguousMatch(match, todoTexts(found))
	}
}

// setCheckbox rewrites the single bracket character of a todo line. The rest
// of the line, including any trailing CR, is untouched.
func (p *ParsedBody) setCheckbox(line int, checked bool) {
	raw := p.lines[line]
	// Anchored todo lines start "- [c] "; the state char sits at index 3.
	ch := byte(' ')
	if checked {
		ch = 'x'
	}
	p.lines[line] = raw[:3] + string(ch) + raw[4:]
}

// AddTodo appends an unchecked todo to the named section. Duplicate text
// (case-insensitive) is rejected. With createSection, a missing section is
// created first.
func (p *ParsedBody) AddTodo(sectionTitle, text string, createSection bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.ErrValidation(core.CodeInvalidArgument, "todo text cannot be empty")
	}

	sec := p.Section(sectionTitle)
	if sec == nil {
		if !createSection {
			_, err := p.requireSection(sectionTitle)
			return err
		}
		if err := p.AddSection(sectionTitle); err != nil {
			return err
		}
		sec = p.Section(sectionTitle)
	}

	for _, td := range sec.Todos {
		if strings.EqualFold(td.Text, text) {
			return core.ErrValidation(core.CodeDuplicateTodo,
				fmt.Sprintf("todo %q already exists in section %q", td.Text, sec.Title))
		}
	}

	at := p.todoInsertionPoint(sec)
	p.insert(at, "- [ ] "+text)
	return nil
}

// todoInsertionPoint picks where a new todo line goes: after the last todo
// in the section, else after the last content line, else under the heading.
func (p *ParsedBody) todoInsertionPoint(sec *SectionSpan) int {
	if n := len(sec.Todos); n > 0 {
		return sec.Todos[n-1].Line + 1
	}
	for i := sec.EndLine - 1; i > sec.HeadingLine; i-- {
		if !isBlank(p.lines[i]) {
			return i + 1
		}
	}
	return sec.HeadingLine + 1
}

// AddSection appends an empty section, before the log block when one exists.
func (p *ParsedBody) AddSection(title string) error {
	title = strings.TrimSpace(title)
	if title == "" || strings.EqualFold(title, LogSectionTitle) {
		return core.ErrValidation(core.CodeInvalidArgument,
			fmt.Sprintf("invalid section title %q", title))
	}
	if p.Section(title) != nil {
		return core.ErrValidation(core.CodeInvalidArgument,
			fmt.Sprintf("section %q already exists", title)).
			WithDetail("valid_options", p.SectionTitles())
	}

	at := len(p.lines)
	if p.Log != nil {
		at = p.Log.HeadingLine
	}
	newLines := []string{"## " + title}
	if at > 0 && !isBlank(p.lines[at-1]) {
		newLines = append([]string{""}, newLines...)
	}
	if p.Log != nil {
		newLines = append(newLines, "")
	}
	// An empty body parses as a single empty line; the heading replaces it.
	if len(p.lines) == 1 && p.lines[0] == "" {
		p.lines = nil
		at = 0
	}
	p.insert(at, newLines...)
	return nil
}

// AppendLogEntry appends one audit entry, creating the log block on first
// use. Existing entries are never rewritten.
func (p *ParsedBody) AppendLogEntry(e core.LogEntry) {
	if p.Log == nil {
		var newLines []string
		at := len(p.lines)
		if len(p.lines) == 1 && p.lines[0] == "" {
			p.lines = nil
			at = 0
		} else if at > 0 && !isBlank(p.lines[at-1]) {
			newLines = append(newLines, "")
		}
		newLines = append(newLines, "## "+LogSectionTitle)
		p.insert(at, newLines...)
	}

	entry := FormatLogEntry(e)
	at := len(p.lines)
	if !isBlank(p.lines[at-1]) {
		entry = append([]string{""}, entry...)
	}
	p.insert(at, entry...)
}

func (p *ParsedBody) requireSection(title string) (*SectionSpan, error) {
	sec := p.Section(title)
	if sec == nil {
		return nil, core.ErrSectionNotFound(title, p.SectionTitles())
	}
	return sec, nil
}

func todoTexts(todos []*core.Todo) []string {
	out := make([]string, len(todos))
	for i, td := range todos {
		out[i] = td.Text
	}
	return out
}
