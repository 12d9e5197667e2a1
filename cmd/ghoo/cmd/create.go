package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/service/issues"
)

var (
	createTitle     string
	createBody      string
	createBodyFile  string
	createParent    int
	createLabels    []string
	createAssignees []string
	createMilestone string
)

var createEpicCmd = &cobra.Command{
	Use:   "create-epic --title <t>",
	Short: "Create an epic at the top of the hierarchy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCreate(cmd, core.TypeEpic)
	},
}

var createTaskCmd = &cobra.Command{
	Use:   "create-task --parent-epic <n> --title <t>",
	Short: "Create a task under an epic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCreate(cmd, core.TypeTask)
	},
}

var createSubTaskCmd = &cobra.Command{
	Use:   "create-sub-task --parent-task <n> --title <t>",
	Short: "Create a sub-task under a task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCreate(cmd, core.TypeSubTask)
	},
}

func init() {
	for _, c := range []*cobra.Command{createEpicCmd, createTaskCmd, createSubTaskCmd} {
		c.Flags().StringVar(&createTitle, "title", "", "issue title (required)")
		c.Flags().StringVar(&createBody, "body", "", "issue body (default: kind template)")
		c.Flags().StringVar(&createBodyFile, "body-file", "", "read the body from a file, - for stdin")
		c.Flags().StringSliceVar(&createLabels, "labels", nil, "extra labels, comma separated")
		c.Flags().StringSliceVar(&createAssignees, "assignees", nil, "assignees, comma separated")
		c.Flags().StringVar(&createMilestone, "milestone", "", "milestone title")
		_ = c.MarkFlagRequired("title")
		rootCmd.AddCommand(c)
	}
	createTaskCmd.Flags().IntVar(&createParent, "parent-epic", 0, "epic to create the task under (required)")
	createSubTaskCmd.Flags().IntVar(&createParent, "parent-task", 0, "task to create the sub-task under (required)")
	_ = createTaskCmd.MarkFlagRequired("parent-epic")
	_ = createSubTaskCmd.MarkFlagRequired("parent-task")
}

func runCreate(cmd *cobra.Command, kind core.IssueType) error {
	d, err := initDeps()
	if err != nil {
		return err
	}
	repo, err := d.resolveRepo()
	if err != nil {
		return err
	}
	body, err := readTextInput(cmd, "--body", createBody, createBodyFile)
	if err != nil {
		return err
	}

	created, err := d.svc.Create(cmd.Context(), issues.CreateRequest{
		Repo:      repo,
		Kind:      kind,
		Title:     createTitle,
		Body:      body,
		Parent:    createParent,
		Labels:    createLabels,
		Assignees: createAssignees,
		Milestone: createMilestone,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(map[string]any{
			"number":    created.Issue.Number,
			"title":     created.Issue.Title,
			"kind":      kind,
			"url":       created.Issue.URL,
			"fallbacks": created.Fallbacks,
		})
	}
	printSuccess("created %s #%d: %s", kind, created.Issue.Number, createTitle)
	if created.Issue.URL != "" {
		fmt.Println(render(styleMuted, "  "+created.Issue.URL))
	}
	for _, fb := range created.Fallbacks {
		printWarning("degraded path: %s", describeFallback(fb))
	}
	return nil
}

// describeFallback turns a fallback marker into a sentence.
func describeFallback(marker string) string {
	switch marker {
	case core.FallbackTypeLabel:
		return "native issue types unavailable, used a type label"
	case core.FallbackBodyReference:
		return "native sub-issues unavailable, linked via a body reference"
	case core.FallbackStatusLabel:
		return "project board unreachable, used a status label"
	}
	return marker
}

// readTextInput resolves the three sources every free-text option supports:
// the inline flag, a file, or stdin via "-" as the file name. Inline and file
// together is an error. flagName names the inline flag for the message.
func readTextInput(cmd *cobra.Command, flagName, inline, file string) (string, error) {
	if inline != "" && file != "" {
		return "", core.ErrValidation(core.CodeInvalidArgument,
			fmt.Sprintf("%s and %s-file are mutually exclusive", flagName, flagName))
	}
	if file == "" {
		return inline, nil
	}
	if file == "-" {
		data, err := readAll(cmd.InOrStdin())
		if err != nil {
			return "", core.ErrValidation(core.CodeInvalidArgument,
				"reading from stdin").WithCause(err)
		}
		return data, nil
	}
	data, err := readFile(file)
	if err != nil {
		return "", core.ErrValidation(core.CodeInvalidArgument,
			fmt.Sprintf("reading %s", file)).WithCause(err)
	}
	return data, nil
}
