package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/service/issues"
)

var getID int

var getCmd = &cobra.Command{
	Use:   "get <kind> --id <n>",
	Short: "Show an issue with its hierarchy, sections and workflow state",
	Long: `Fetches one issue by number and renders its workflow state, parent,
children with completion, sections and audit log. <kind> is epic, task,
sub-task, or issue; naming a specific kind fails when the issue turns out
to be something else.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := core.ParseIssueType(args[0])
		if err != nil {
			return err
		}
		if getID <= 0 {
			return core.ErrValidation(core.CodeInvalidArgument,
				"--id must be a positive issue number")
		}
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}

		view, err := d.svc.Get(cmd.Context(), repo, getID)
		if err != nil {
			return err
		}
		if kind != core.TypeIssue && view.Kind != kind {
			return core.ErrValidation(core.CodeInvalidIssueType,
				fmt.Sprintf("issue #%d is a %s, not a %s", getID, view.Kind, kind)).
				WithDetail("actual", string(view.Kind))
		}
		if jsonOut {
			return emitJSON(view)
		}
		printIssueView(view)
		return nil
	},
}

var (
	getSectionID    int
	getSectionTitle string
)

var getSectionCmd = &cobra.Command{
	Use:   "section --id <n> --title <title>",
	Short: "Show one section of an issue body",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}
		sec, err := d.svc.GetSection(cmd.Context(), repo, getSectionID, getSectionTitle)
		if err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(sec)
		}
		printSection(sec)
		return nil
	},
}

var (
	getTodoID      int
	getTodoSection string
	getTodoMatch   string
)

var getTodoCmd = &cobra.Command{
	Use:   "todo --id <n> --section <title> --match <text>",
	Short: "Show one todo of an issue section",
	Long: `Finds the todo in the named section whose text contains --match.
Exactly one todo must match; several candidates is an error listing them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}
		todo, err := d.svc.GetTodo(cmd.Context(), repo, getTodoID, getTodoSection, getTodoMatch)
		if err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(todo)
		}
		fmt.Println(todoLine(todo))
		return nil
	},
}

var getMilestoneID int

var getMilestoneCmd = &cobra.Command{
	Use:   "milestone --id <n>",
	Short: "Show a milestone and the issues attached to it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}
		ms, err := d.client.GetMilestone(cmd.Context(), repo, getMilestoneID)
		if err != nil {
			return err
		}
		attached, err := d.client.MilestoneIssues(cmd.Context(), repo, getMilestoneID)
		if err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(struct {
				Milestone *core.Milestone `json:"milestone"`
				Issues    []core.Issue    `json:"issues"`
			}{ms, attached})
		}
		printMilestone(ms, attached)
		return nil
	},
}

func init() {
	getCmd.Flags().IntVar(&getID, "id", 0, "issue number (required)")
	_ = getCmd.MarkFlagRequired("id")

	getSectionCmd.Flags().IntVar(&getSectionID, "id", 0, "issue number (required)")
	getSectionCmd.Flags().StringVar(&getSectionTitle, "title", "", "section title (required)")
	_ = getSectionCmd.MarkFlagRequired("id")
	_ = getSectionCmd.MarkFlagRequired("title")
	getCmd.AddCommand(getSectionCmd)

	getTodoCmd.Flags().IntVar(&getTodoID, "id", 0, "issue number (required)")
	getTodoCmd.Flags().StringVar(&getTodoSection, "section", "", "section title (required)")
	getTodoCmd.Flags().StringVar(&getTodoMatch, "match", "", "todo text to match (required)")
	_ = getTodoCmd.MarkFlagRequired("id")
	_ = getTodoCmd.MarkFlagRequired("section")
	_ = getTodoCmd.MarkFlagRequired("match")
	getCmd.AddCommand(getTodoCmd)

	getMilestoneCmd.Flags().IntVar(&getMilestoneID, "id", 0, "milestone number (required)")
	_ = getMilestoneCmd.MarkFlagRequired("id")
	getCmd.AddCommand(getMilestoneCmd)

	rootCmd.AddCommand(getCmd)
}

func printIssueView(view *issues.IssueView) {
	fmt.Printf("%s #%d %s\n",
		render(styleTitle, view.Kind.DisplayName()),
		view.Issue.Number,
		render(styleTitle, view.Issue.Title))
	fmt.Println(render(styleMuted, "state: ") + string(view.State))
	if view.Fallback != "" {
		printWarning("%s", describeFallback(view.Fallback))
	}
	if view.Issue.Milestone != "" {
		fmt.Println(render(styleMuted, "milestone: ") + view.Issue.Milestone)
	}
	if view.Parent != nil {
		fmt.Printf("%s#%d %s\n", render(styleMuted, "parent: "),
			view.Parent.Number, view.Parent.Title)
	}

	if view.Summary != nil {
		fmt.Printf("%s%d/%d closed (%.0f%%)\n", render(styleMuted, "children: "),
			view.Summary.Closed, view.Summary.Total, view.Summary.Completion)
		for _, c := range view.Children {
			fmt.Println("  " + childLine(c))
		}
	}

	if len(view.Sections) > 0 {
		fmt.Println()
		for _, sec := range view.Sections {
			line := "## " + sec.Title
			if total := sec.TotalTodos(); total > 0 {
				line += fmt.Sprintf(" (%d/%d todos)", sec.CompletedTodos(), total)
			}
			fmt.Println(render(styleTitle, line))
		}
	}

	if len(view.Log) > 0 {
		fmt.Println()
		fmt.Println(render(styleTitle, "Log"))
		for _, e := range view.Log {
			fmt.Printf("  %s  %s -> %s  @%s\n",
				render(styleMuted, e.Timestamp.Format("2006-01-02 15:04")),
				e.From, e.To, e.Actor)
		}
	}
}

func printSection(sec *core.Section) {
	line := "## " + sec.Title
	if total := sec.TotalTodos(); total > 0 {
		line += fmt.Sprintf(" (%d/%d todos)", sec.CompletedTodos(), total)
	}
	fmt.Println(render(styleTitle, line))
	if sec.Body != "" {
		fmt.Println(sec.Body)
	}
}

func todoLine(td *core.Todo) string {
	box := "[ ]"
	if td.Checked {
		box = render(styleSuccess, "[x]")
	}
	return box + " " + td.Text
}

func printMilestone(ms *core.Milestone, attached []core.Issue) {
	fmt.Printf("%s #%d %s\n",
		render(styleTitle, "Milestone"), ms.Number, render(styleTitle, ms.Title))
	fmt.Println(render(styleMuted, "state: ") + ms.State)
	if ms.DueOn != nil {
		fmt.Println(render(styleMuted, "due: ") + ms.DueOn.Format("2006-01-02"))
	}
	if len(attached) == 0 {
		return
	}
	open := 0
	for _, is := range attached {
		if is.Open {
			open++
		}
	}
	fmt.Printf("%s%d open, %d closed\n", render(styleMuted, "issues: "),
		open, len(attached)-open)
	for _, is := range attached {
		box := "[ ]"
		if !is.Open {
			box = render(styleSuccess, "[x]")
		}
		fmt.Printf("  %s #%d %s\n", box, is.Number, is.Title)
	}
}

func childLine(c core.ChildIssue) string {
	box := "[ ]"
	if c.Closed {
		box = render(styleSuccess, "[x]")
	}
	ref := fmt.Sprintf("#%d", c.Number)
	if c.Repo != "" {
		ref = c.Repo + ref
	}
	return fmt.Sprintf("%s %s %s", box, ref, c.Title)
}
