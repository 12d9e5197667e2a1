package issues

import (
	"context"
	"fmt"

	"github.com/justynbrt/ghoo/internal/core"
)

// statusLabelColors assigns the bootstrap color per workflow state.
var statusLabelColors = map[core.WorkflowState]string{
	core.StateBacklog:           "ededed",
	core.StatePlanning:          "d4c5f9",
	core.StateAwaitingPlanAppr:  "fbca04",
	core.StatePlanApproved:      "c2e0c6",
	core.StateInProgress:        "0052cc",
	core.StateAwaitingComplAppr: "f9d0c4",
	core.StateClosed:            "0e8a16",
}

// typeLabelColors assigns the bootstrap color per fallback type label.
var typeLabelColors = map[core.IssueType]string{
	core.TypeEpic:    "7057ff",
	core.TypeTask:    "0052cc",
	core.TypeSubTask: "0e8a16",
}

// BootstrapResult buckets every asset init touched. Init never fails fast;
// one unreachable asset must not block the rest.
type BootstrapResult struct {
	Created   []string `json:"created,omitempty"`
	Existing  []string `json:"existing,omitempty"`
	Fallbacks []string `json:"fallbacks,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// Ok reports whether every asset ended up usable.
func (r *BootstrapResult) Ok() bool { return len(r.Failed) == 0 }

// Bootstrap prepares a repository for the workflow: one status label per
// state, and native issue types where available with type labels as the
// fallback.
func (s *Service) Bootstrap(ctx context.Context, repo core.RepoRef) (*BootstrapResult, error) {
	res := &BootstrapResult{}
	log := s.log.WithRepo(repo.String())

	for _, state := range core.AllStates {
		label := core.Label{Name: state.StatusLabel(), Color: statusLabelColors[state]}
		desc := fmt.Sprintf("Workflow state: %s", state)
		created, err := s.client.EnsureLabel(ctx, repo, label, desc)
		switch {
		case err != nil:
			log.Error("label creation failed", "label", label.Name, "error", err)
			res.Failed = append(res.Failed, fmt.Sprintf("label %s: %v", label.Name, err))
		case created:
			res.Created = append(res.Created, "label "+label.Name)
		default:
			res.Existing = append(res.Existing, "label "+label.Name)
		}
	}

	kinds := []core.IssueType{core.TypeEpic, core.TypeTask, core.TypeSubTask}
	for _, kind := range kinds {
		desc := fmt.Sprintf("Hierarchy level: %s", kind.DisplayName())
		created, err := s.client.EnsureIssueType(ctx, repo, kind, desc)
		switch {
		case err == nil && created:
			res.Created = append(res.Created, "issue type "+kind.DisplayName())
			continue
		case err == nil:
			res.Existing = append(res.Existing, "issue type "+kind.DisplayName())
			continue
		case core.FeatureOf(err) == "":
			log.Error("issue type creation failed", "type", kind.DisplayName(), "error", err)
			res.Failed = append(res.Failed, fmt.Sprintf("issue type %s: %v", kind.DisplayName(), err))
			continue
		}

		// No native types on this installation; fall back to type labels.
		label := core.Label{Name: kind.TypeLabel(), Color: typeLabelColors[kind]}
		created, err = s.client.EnsureLabel(ctx, repo, label, desc)
		switch {
		case err != nil:
			log.Error("fallback label creation failed", "label", label.Name, "error", err)
			res.Failed = append(res.Failed, fmt.Sprintf("label %s: %v", label.Name, err))
		case created:
			res.Fallbacks = append(res.Fallbacks, "label "+label.Name)
		default:
			res.Existing = append(res.Existing, "label "+label.Name)
		}
	}

	log.Info("repository bootstrap finished",
		"created", len(res.Created), "existing", len(res.Existing),
		"fallbacks", len(res.Fallbacks), "failed", len(res.Failed))
	return res, nil
}
