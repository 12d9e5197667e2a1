// Package issues implements the issue-facing operations behind the CLI:
// hierarchy-aware creation, enriched retrieval, body editing and repository
// bootstrap.
package issues

import (
	"errors"
	"sort"

	"github.com/sahilm/fuzzy"

	"github.com/justynbrt/ghoo/internal/config"
	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
	"github.com/justynbrt/ghoo/internal/workflow"
)

// Service composes the remote client with the workflow engine.
type Service struct {
	client core.Client
	cfg    *config.Config
	engine *workflow.Engine
	log    *logging.Logger
}

// NewService creates an issue service.
func NewService(client core.Client, cfg *config.Config, log *logging.Logger) *Service {
	return &Service{
		client: client,
		cfg:    cfg,
		engine: workflow.NewEngine(client, cfg, log),
		log:    log,
	}
}

// Engine exposes the shared workflow engine, so transitions executed through
// the CLI reuse the service's degraded-status memory.
func (s *Service) Engine() *workflow.Engine {
	return s.engine
}

// rankOptions reorders candidate names by fuzzy similarity to the query, so
// "did you mean" output leads with the closest match. Non-matching candidates
// keep their original order after the matches.
func rankOptions(query string, options []string) []string {
	matches := fuzzy.Find(query, options)
	if len(matches) == 0 {
		return options
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	ranked := make([]string, 0, len(options))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		ranked = append(ranked, options[m.Index])
		seen[m.Index] = true
	}
	for i, opt := range options {
		if !seen[i] {
			ranked = append(ranked, opt)
		}
	}
	return ranked
}

// rerankedSectionErr reorders the valid_options detail of a section lookup
// failure by similarity to the requested title.
func rerankedSectionErr(err error, query string) error {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		return err
	}
	if opts, ok := domErr.Detail("valid_options").([]string); ok && len(opts) > 1 {
		domErr.WithDetail("valid_options", rankOptions(query, opts))
	}
	return err
}
