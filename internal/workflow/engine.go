// Package workflow drives the per-issue state machine: transition legality,
// preconditions, status projection and the append-only audit log.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justynbrt/ghoo/internal/bodyparse"
	"github.com/justynbrt/ghoo/internal/config"
	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
)

// Verb is a workflow transition command.
type Verb string

const (
	VerbStartPlan   Verb = "start-plan"
	VerbSubmitPlan  Verb = "submit-plan"
	VerbApprovePlan Verb = "approve-plan"
	VerbStartWork   Verb = "start-work"
	VerbSubmitWork  Verb = "submit-work"
	VerbApproveWork Verb = "approve-work"
)

// Verbs lists the transition verbs in lifecycle order.
var Verbs = []Verb{
	VerbStartPlan,
	VerbSubmitPlan,
	VerbApprovePlan,
	VerbStartWork,
	VerbSubmitWork,
	VerbApproveWork,
}

// transition defines the single legal edge for each verb.
type transition struct {
	From core.WorkflowState
	To   core.WorkflowState
}

var transitions = map[Verb]transition{
	VerbStartPlan:   {core.StateBacklog, core.StatePlanning},
	VerbSubmitPlan:  {core.StatePlanning, core.StateAwaitingPlanAppr},
	VerbApprovePlan: {core.StateAwaitingPlanAppr, core.StatePlanApproved},
	VerbStartWork:   {core.StatePlanApproved, core.StateInProgress},
	VerbSubmitWork:  {core.StateInProgress, core.StateAwaitingComplAppr},
	VerbApproveWork: {core.StateAwaitingComplAppr, core.StateClosed},
}

// ParseVerb maps a command name to its verb.
func ParseVerb(s string) (Verb, error) {
	for _, v := range Verbs {
		if string(v) == s {
			return v, nil
		}
	}
	options := make([]string, len(Verbs))
	for i, v := range Verbs {
		options[i] = string(v)
	}
	return "", core.ErrValidation(core.CodeInvalidArgument,
		fmt.Sprintf("unknown workflow command %q", s)).
		WithDetail("valid_options", options)
}

// Result reports one executed transition.
type Result struct {
	Repo     string             `json:"repo"`
	Issue    int                `json:"issue"`
	Verb     string             `json:"verb"`
	From     core.WorkflowState `json:"from"`
	To       core.WorkflowState `json:"to"`
	Actor    string             `json:"actor"`
	Message  string             `json:"message,omitempty"`
	Fallback string             `json:"fallback,omitempty"`
	URL      string             `json:"url,omitempty"`
}

// Engine executes workflow transitions against the remote store.
type Engine struct {
	client core.Client
	cfg    *config.Config
	log    *logging.Logger
	now    func() time.Time

	// labelFallback is set after the board proved unreachable once; later
	// transitions in the same process go straight to labels.
	labelFallback bool
}

// NewEngine creates a workflow engine.
func NewEngine(client core.Client, cfg *config.Config, log *logging.Logger) *Engine {
	return &Engine{
		client: client,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Status reads the projected workflow state of an issue. A closed issue is
// closed regardless of its labels or board field.
func (e *Engine) Status(ctx context.Context, repo core.RepoRef, issue *core.Issue) (core.WorkflowState, string, error) {
	if !issue.Open {
		return core.StateClosed, "", nil
	}
	if e.cfg.UsesProjectField() && !e.labelFallback {
		state, err := e.client.ProjectStatus(ctx, repo, issue.Number)
		if err == nil {
			if state == core.StateUnknown {
				return core.StateBacklog, "", nil
			}
			return state, "", nil
		}
		if core.FeatureOf(err) == "" {
			return core.StateUnknown, "", err
		}
		// Degrade to labels once per process, loudly.
		e.log.Warn("project board unreachable, degrading status to labels", "error", err)
		e.labelFallback = true
	}
	return e.statusFromLabels(issue), fallbackMarker(e.labelFallback), nil
}

func fallbackMarker(degraded bool) string {
	if degraded {
		return core.FallbackStatusLabel
	}
	return ""
}

// statusFromLabels projects state from status:* labels. No label means the
// issue predates the workflow and sits in backlog. When a drifted issue
// carries several, the lexicographically first parseable one is canonical
// and the rest are reported, not silently ignored.
func (e *Engine) statusFromLabels(issue *core.Issue) core.WorkflowState {
	statusLabels := issue.StatusLabels()
	sort.Strings(statusLabels)
	for i, l := range statusLabels {
		st := core.ParseWorkflowState(l)
		if st == core.StateUnknown {
			continue
		}
		if len(statusLabels) > 1 {
			e.log.WithIssue(issue.Number).Warn("multiple status labels, using lexicographic first",
				"labels", strings.Join(statusLabels, ","), "chosen", statusLabels[i])
		}
		return st
	}
	return core.StateBacklog
}

// Execute runs one transition: legality check, preconditions, status
// projection, close on final approval, and the audit log append.
func (e *Engine) Execute(ctx context.Context, repo core.RepoRef, number int, verb Verb, message string) (*Result, error) {
	tr, ok := transitions[verb]
	if !ok {
		return nil, core.ErrInternal(fmt.Sprintf("no transition for verb %q", verb))
	}

	issue, err := e.client.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	current, fallback, err := e.Status(ctx, repo, issue)
	if err != nil {
		return nil, err
	}
	if current != tr.From {
		return nil, core.ErrIllegalTransition(current, string(verb), []core.WorkflowState{tr.From})
	}

	parsed := bodyparse.Parse(issue.Body)
	if err := e.checkPreconditions(ctx, repo, issue, parsed, verb); err != nil {
		return nil, err
	}

	actor, err := e.client.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	entry := core.LogEntry{
		From:      current,
		To:        tr.To,
		Actor:     actor,
		Timestamp: e.now(),
		Message:   message,
	}
	parsed.AppendLogEntry(entry)
	if size := parsed.Len(); size > core.MaxBodySize {
		return nil, core.ErrBodyTooLarge(size)
	}

	fb, err := e.projectStatus(ctx, repo, issue, tr.To)
	if err != nil {
		return nil, err
	}
	if fb != "" {
		fallback = fb
	}

	if err := e.client.UpdateIssueBody(ctx, repo, number, parsed.String()); err != nil {
		return nil, err
	}
	if tr.To == core.StateClosed {
		if err := e.client.CloseIssue(ctx, repo, number); err != nil {
			return nil, err
		}
	}

	e.log.WithRepo(repo.String()).WithIssue(number).WithVerb(string(verb)).
		Info("transition executed", "from", string(current), "to", string(tr.To))

	return &Result{
		Repo:     repo.String(),
		Issue:    number,
		Verb:     string(verb),
		From:     current,
		To:       tr.To,
		Actor:    actor,
		Message:  message,
		Fallback: fallback,
		URL:      issue.URL,
	}, nil
}

// checkPreconditions enforces the structural gates on top of the from-state
// check: plans need their required sections, and final approval needs every
// child closed and every todo checked.
func (e *Engine) checkPreconditions(ctx context.Context, repo core.RepoRef, issue *core.Issue, parsed *bodyparse.ParsedBody, verb Verb) error {
	switch verb {
	case VerbSubmitPlan:
		kind, err := e.client.IssueKind(ctx, repo, issue.Number)
		if err != nil {
			return err
		}
		if missing := parsed.MissingSections(e.cfg.RequiredSectionsFor(kind)); len(missing) > 0 {
			return core.ErrRequiredSectionMissing(missing)
		}
	case VerbApproveWork:
		children, err := e.client.Children(ctx, repo, issue.Number)
		if err != nil {
			return err
		}
		var open []int
		for _, c := range children {
			if !c.Closed {
				open = append(open, c.Number)
			}
		}
		unchecked := parsed.UncheckedTodos()
		if len(open) > 0 || len(unchecked) > 0 {
			return core.ErrCompletionBlocked(open, unchecked)
		}
	}
	return nil
}

// projectStatus writes the new state through the configured path. When the
// board is configured but unreachable or missing the option, it degrades to
// labels once per process with a warning.
func (e *Engine) projectStatus(ctx context.Context, repo core.RepoRef, issue *core.Issue, to core.WorkflowState) (string, error) {
	if e.cfg.UsesProjectField() && !e.labelFallback {
		err := e.client.SetProjectStatus(ctx, repo, issue.Number, to)
		if err == nil {
			return "", nil
		}
		if core.FeatureOf(err) == "" {
			return "", err
		}
		e.log.Warn("project board unreachable, writing status label instead", "error", err)
		e.labelFallback = true
	}

	labels := make([]string, 0, len(issue.Labels)+1)
	for _, l := range issue.Labels {
		if !strings.HasPrefix(strings.ToLower(l), core.StatusLabelPrefix) {
			labels = append(labels, l)
		}
	}
	labels = append(labels, to.StatusLabel())
	if err := e.client.SetLabels(ctx, repo, issue.Number, labels); err != nil {
		return "", err
	}
	return fallbackMarker(e.labelFallback), nil
}
