// Package config loads and validates ghoo.yaml.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/justynbrt/ghoo/internal/core"
)

// Status projection methods.
const (
	StatusMethodLabels = "labels"
	StatusMethodField  = "status_field"
)

var (
	repoURLPattern    = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/?$`)
	projectURLPattern = regexp.MustCompile(`^https://github\.com/(orgs|users)/([^/]+)/projects/(\d+)/?$`)
)

// ProjectRef identifies a Projects V2 board by its owner and number.
type ProjectRef struct {
	OwnerKind string // "orgs" or "users"
	Owner     string
	Number    int
}

// IsZero reports whether the reference is unset.
func (p ProjectRef) IsZero() bool { return p.Owner == "" }

func (p ProjectRef) String() string {
	return fmt.Sprintf("https://github.com/%s/%s/projects/%d", p.OwnerKind, p.Owner, p.Number)
}

// Config is the validated contents of ghoo.yaml.
type Config struct {
	ProjectURL       string              `yaml:"project_url"`
	StatusMethod     string              `yaml:"status_method"`
	RequiredSections map[string][]string `yaml:"required_sections"`

	// Derived from ProjectURL during validation.
	Repo    core.RepoRef `yaml:"-"`
	Project ProjectRef   `yaml:"-"`
}

// defaultRequiredSections applies when ghoo.yaml does not set the map.
var defaultRequiredSections = map[core.IssueType][]string{
	core.TypeEpic:    {"Summary", "Acceptance Criteria", "Milestone Plan"},
	core.TypeTask:    {"Summary", "Acceptance Criteria", "Implementation Plan"},
	core.TypeSubTask: {"Summary", "Acceptance Criteria"},
}

// Validate checks the document and fills the derived fields. The loader calls
// it after decoding; tests constructing a Config by hand call it directly.
func (c *Config) Validate() error {
	c.ProjectURL = strings.TrimSpace(c.ProjectURL)
	if c.ProjectURL == "" {
		return core.ErrValidation(core.CodeConfigMissingField,
			"ghoo.yaml is missing required field project_url")
	}

	isProject := false
	switch {
	case repoURLPattern.MatchString(c.ProjectURL):
		m := repoURLPattern.FindStringSubmatch(c.ProjectURL)
		c.Repo = core.RepoRef{Owner: m[1], Name: m[2]}
	case projectURLPattern.MatchString(c.ProjectURL):
		m := projectURLPattern.FindStringSubmatch(c.ProjectURL)
		n, _ := strconv.Atoi(m[3])
		c.Project = ProjectRef{OwnerKind: m[1], Owner: m[2], Number: n}
		isProject = true
	default:
		return core.ErrValidation(core.CodeConfigInvalid,
			fmt.Sprintf("project_url %q is not a GitHub repository or project URL", c.ProjectURL)).
			WithDetail("valid_options", []string{
				"https://github.com/<owner>/<repo>",
				"https://github.com/orgs/<org>/projects/<number>",
			})
	}

	switch c.StatusMethod {
	case "":
		if isProject {
			c.StatusMethod = StatusMethodField
		} else {
			c.StatusMethod = StatusMethodLabels
		}
	case StatusMethodLabels, StatusMethodField:
	default:
		return core.ErrValidation(core.CodeConfigInvalid,
			fmt.Sprintf("invalid status_method %q", c.StatusMethod)).
			WithDetail("valid_options", []string{StatusMethodLabels, StatusMethodField})
	}
	if c.StatusMethod == StatusMethodField && !isProject {
		return core.ErrValidation(core.CodeConfigInvalid,
			"status_method status_field requires project_url to be a project board URL")
	}

	// Normalise required_sections keys to canonical type names.
	if len(c.RequiredSections) > 0 {
		norm := make(map[string][]string, len(c.RequiredSections))
		for key, sections := range c.RequiredSections {
			kind, err := core.ParseIssueType(key)
			if err != nil || kind == core.TypeIssue {
				return core.ErrValidation(core.CodeConfigInvalid,
					fmt.Sprintf("required_sections has unknown issue type %q", key)).
					WithDetail("valid_options", []string{"epic", "task", "sub-task"})
			}
			for _, s := range sections {
				if strings.TrimSpace(s) == "" {
					return core.ErrValidation(core.CodeConfigInvalid,
						fmt.Sprintf("required_sections.%s contains an empty section name", key))
				}
			}
			norm[string(kind)] = sections
		}
		c.RequiredSections = norm
	}
	return nil
}

// RequiredSectionsFor returns the section titles a body of the given kind
// must carry before plan submission. Types absent from a configured map
// require nothing; the built-in defaults apply only when the map is unset.
func (c *Config) RequiredSectionsFor(kind core.IssueType) []string {
	if c.RequiredSections == nil {
		return defaultRequiredSections[kind]
	}
	return c.RequiredSections[string(kind)]
}

// UsesProjectField reports whether status is projected onto the board field.
func (c *Config) UsesProjectField() bool {
	return c.StatusMethod == StatusMethodField
}
