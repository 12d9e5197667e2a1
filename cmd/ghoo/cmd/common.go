package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/justynbrt/ghoo/internal/adapters/github"
	"github.com/justynbrt/ghoo/internal/config"
	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/logging"
	"github.com/justynbrt/ghoo/internal/service/issues"
)

// Output styles. Plain text when --no-color is set or stdout is piped.
var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	styleTitle   = lipgloss.NewStyle().Bold(true)
)

// deps holds everything a command needs after wiring.
type deps struct {
	cfg    *config.Config
	log    *logging.Logger
	client *github.Hybrid
	svc    *issues.Service
}

// initDeps loads configuration, resolves credentials and wires the client
// stack. Every command except version goes through here.
func initDeps() (*deps, error) {
	loader := config.NewLoader(config.WithConfigFile(cfgFile))
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	})

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, core.ErrAuth(core.CodeMissingCredential,
			"GITHUB_TOKEN is not set; export a token with repo and project scopes")
	}

	rest := github.NewRESTClient(token, logger)
	graph := github.NewGraphQLClient(token, logger)

	var opts []github.HybridOption
	if cfg.UsesProjectField() {
		opts = append(opts, github.WithProject(
			cfg.Project.OwnerKind == "orgs", cfg.Project.Owner, cfg.Project.Number))
	}
	client := github.NewHybrid(rest, graph, logger, opts...)

	return &deps{
		cfg:    cfg,
		log:    logger,
		client: client,
		svc:    issues.NewService(client, cfg, logger),
	}, nil
}

// resolveRepo picks the target repository: --repo beats ghoo.yaml.
func (d *deps) resolveRepo() (core.RepoRef, error) {
	if repoFlag != "" {
		return core.ParseRepoRef(repoFlag)
	}
	if !d.cfg.Repo.IsZero() {
		return d.cfg.Repo, nil
	}
	return core.RepoRef{}, core.ErrValidation(core.CodeConfigMissingField,
		"no repository: pass --repo or point project_url at a repository")
}

// parseIssueNumber validates a positional issue number argument.
func parseIssueNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, core.ErrValidation(core.CodeInvalidArgument,
			fmt.Sprintf("invalid issue number %q", arg))
	}
	return n, nil
}

// envelope is the machine-readable result wrapper behind --json.
type envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// emitJSON writes one success envelope to stdout.
func emitJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{OK: true, Data: data})
}

// PrintError renders an error for humans or machines and is called from main
// before exiting with the mapped code.
func PrintError(err error) {
	if jsonOut {
		printErrorJSON(os.Stdout, err)
		return
	}
	fmt.Fprintln(os.Stderr, render(styleError, "error: ")+err.Error())
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		if opts, ok := domErr.Detail("valid_options").([]string); ok && len(opts) > 0 {
			fmt.Fprintln(os.Stderr, render(styleMuted, "valid options: ")+strings.Join(opts, ", "))
		}
	}
}

func printErrorJSON(w io.Writer, err error) {
	env := envelope{OK: false, Error: &errorEnvelope{
		Category: "internal",
		Code:     core.CodeInternal,
		Message:  err.Error(),
	}}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		env.Error.Category = string(domErr.Category)
		env.Error.Code = domErr.Code
		env.Error.Message = domErr.Message
		env.Error.Details = domErr.Details
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(env)
}


func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	return string(data), err
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

// render applies a style unless color output is disabled.
func render(style lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

func printSuccess(format string, args ...any) {
	fmt.Println(render(styleSuccess, "✓ ") + fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Println(render(styleWarning, "! ") + fmt.Sprintf(format, args...))
}
