package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// IssueType identifies the three kinds of the enforced hierarchy, plus a
// fallback for issues created outside ghoo.
type IssueType string

const (
	TypeEpic    IssueType = "epic"
	TypeTask    IssueType = "task"
	TypeSubTask IssueType = "sub-task"
	TypeIssue   IssueType = "issue" // untyped fallback
)

// ParseIssueType normalises a user- or label-supplied kind. The source data
// is inconsistent about "subtask" vs "sub-task"; both are accepted and the
// hyphenated form is canonical.
func ParseIssueType(s string) (IssueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "epic":
		return TypeEpic, nil
	case "task":
		return TypeTask, nil
	case "sub-task", "subtask", "sub_task":
		return TypeSubTask, nil
	case "issue", "":
		return TypeIssue, nil
	}
	return TypeIssue, ErrValidation(CodeInvalidIssueType,
		fmt.Sprintf("unknown issue type %q", s)).
		WithDetail("valid_options", []string{"epic", "task", "sub-task"})
}

// TypeLabel returns the fallback label carrying this type ("type:epic" etc).
func (t IssueType) TypeLabel() string {
	return "type:" + string(t)
}

// DisplayName returns the capitalised form used for native issue types.
func (t IssueType) DisplayName() string {
	switch t {
	case TypeEpic:
		return "Epic"
	case TypeTask:
		return "Task"
	case TypeSubTask:
		return "Sub-task"
	}
	return "Issue"
}

// ChildType returns the kind a child of this type must have.
func (t IssueType) ChildType() IssueType {
	switch t {
	case TypeEpic:
		return TypeTask
	case TypeTask:
		return TypeSubTask
	}
	return TypeIssue
}

// WorkflowState is the seven-state per-issue lifecycle.
type WorkflowState string

const (
	StateBacklog            WorkflowState = "backlog"
	StatePlanning           WorkflowState = "planning"
	StateAwaitingPlanAppr   WorkflowState = "awaiting-plan-approval"
	StatePlanApproved       WorkflowState = "plan-approved"
	StateInProgress         WorkflowState = "in-progress"
	StateAwaitingComplAppr  WorkflowState = "awaiting-completion-approval"
	StateClosed             WorkflowState = "closed"
	StateUnknown            WorkflowState = ""
)

// AllStates lists every workflow state in lifecycle order.
var AllStates = []WorkflowState{
	StateBacklog,
	StatePlanning,
	StateAwaitingPlanAppr,
	StatePlanApproved,
	StateInProgress,
	StateAwaitingComplAppr,
	StateClosed,
}

// StatusLabelPrefix prefixes every workflow status label.
const StatusLabelPrefix = "status:"

// StatusLabel returns the label encoding this state ("status:backlog" etc).
func (s WorkflowState) StatusLabel() string {
	return StatusLabelPrefix + string(s)
}

// ParseWorkflowState maps a label suffix or field value to a state.
func ParseWorkflowState(s string) WorkflowState {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, StatusLabelPrefix)
	v = strings.ReplaceAll(v, " ", "-")
	for _, st := range AllStates {
		if string(st) == v {
			return st
		}
	}
	return StateUnknown
}

// RepoRef identifies a repository by owner and name.
type RepoRef struct {
	Owner string
	Name  string
}

var repoRefPattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)/([A-Za-z0-9._-]+)$`)

// ParseRepoRef validates the "owner/repo" shape.
func ParseRepoRef(s string) (RepoRef, error) {
	m := repoRefPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return RepoRef{}, ErrValidation(CodeRepositoryFormatInvalid,
			fmt.Sprintf("invalid repository %q, expected owner/repo", s))
	}
	return RepoRef{Owner: m[1], Name: m[2]}, nil
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the reference is unset.
func (r RepoRef) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// Issue is a remote work item as seen through the REST transport.
type Issue struct {
	Number    int
	NodeID    string
	Title     string
	Body      string
	Open      bool
	Labels    []string
	Assignees []string
	Milestone string
	URL       string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Kind infers the issue type from the fallback labels. Native types are
// resolved through the graph transport; this covers label-mode repositories.
func (i *Issue) Kind() IssueType {
	for _, l := range i.Labels {
		switch strings.ToLower(l) {
		case "type:epic":
			return TypeEpic
		case "type:task":
			return TypeTask
		case "type:sub-task", "type:subtask":
			return TypeSubTask
		}
	}
	return TypeIssue
}

// StatusLabels returns every status:* label present, sorted as found.
func (i *Issue) StatusLabels() []string {
	var out []string
	for _, l := range i.Labels {
		if strings.HasPrefix(strings.ToLower(l), StatusLabelPrefix) {
			out = append(out, l)
		}
	}
	return out
}

// Milestone is a repository milestone.
type Milestone struct {
	Number int
	Title  string
	State  string
	DueOn  *time.Time
}

// Label is a repository label.
type Label struct {
	Name  string
	Color string
}

// ChildIssue is one child in the hierarchy view of an issue.
type ChildIssue struct {
	Number int
	Repo   string // "owner/repo"; empty means same repository
	Title  string
	Closed bool
	Kind   IssueType
}

// ParentIssue is the resolved parent of a task or sub-task.
type ParentIssue struct {
	Number int
	Title  string
	Closed bool
	Kind   IssueType
}

// LogEntry is one audit record of a workflow transition. Entries are
// append-only; the body writer never rewrites an existing entry.
type LogEntry struct {
	From      WorkflowState
	To        WorkflowState
	Actor     string
	Timestamp time.Time
	Message   string
}

// Todo is a single checkbox line inside a section. Line is the index of the
// source line inside the parsed body, or -1 for todos not yet written.
type Todo struct {
	Text    string
	Checked bool
	Line    int
}

// Section is a level-2 heading and its content. Titles are unique within a
// body under case-folding; TitleEquals is the only comparison callers use.
type Section struct {
	Title string
	Body  string
	Todos []*Todo
}

// TitleEquals reports a case-insensitive title match.
func (s *Section) TitleEquals(title string) bool {
	return strings.EqualFold(strings.TrimSpace(s.Title), strings.TrimSpace(title))
}

// TotalTodos returns the number of todos in the section.
func (s *Section) TotalTodos() int { return len(s.Todos) }

// CompletedTodos returns the number of checked todos in the section.
func (s *Section) CompletedTodos() int {
	n := 0
	for _, t := range s.Todos {
		if t.Checked {
			n++
		}
	}
	return n
}

// TaskRef is a checkbox reference to another issue, parsed from an epic
// prelude or section body ("- [ ] #12" or "- [x] owner/repo#12 title").
type TaskRef struct {
	Number  int
	Repo    string // empty for same-repo references
	Title   string
	Checked bool
}

// References holds the hierarchy links extracted from a body.
type References struct {
	Parent int // 0 when no parent reference exists
	Tasks  []TaskRef
}
