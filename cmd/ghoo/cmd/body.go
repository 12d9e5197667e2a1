package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/justynbrt/ghoo/internal/core"
	"github.com/justynbrt/ghoo/internal/service/issues"
)

var (
	setBodyText    string
	setBodyFile    string
	setBodyDropLog bool
	todoText       string
	todoTextFile   string
	todoCreateSec  bool
	checkTodoMatch string
	checkTodoOn    bool
	checkTodoOff   bool
)

var setBodyCmd = &cobra.Command{
	Use:   "set-body <number>",
	Short: "Replace an issue body, preserving the audit log",
	Long: `Replaces the issue body from --body, --body-file, or stdin
(--body-file -). The existing audit log is carried over unless the new body
brings its own or --drop-log is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseIssueNumber(args[0])
		if err != nil {
			return err
		}
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}
		body, err := readTextInput(cmd, "--body", setBodyText, setBodyFile)
		if err != nil {
			return err
		}
		if body == "" {
			return core.ErrValidation(core.CodeInvalidArgument,
				"no body given: use --body, --body-file, or --body-file - for stdin")
		}

		if !setBodyDropLog {
			current, err := d.client.GetIssue(cmd.Context(), repo, number)
			if err != nil {
				return err
			}
			body = issues.PreservingLog(current.Body, body)
		}
		if err := d.svc.SetBody(cmd.Context(), repo, number, body); err != nil {
			return err
		}

		if jsonOut {
			return emitJSON(map[string]any{"number": number, "updated": true})
		}
		printSuccess("updated body of #%d", number)
		return nil
	},
}

var createTodoCmd = &cobra.Command{
	Use:   "create-todo <number> <section>",
	Short: "Append an unchecked todo to a section",
	Long: `Adds "- [ ] <text>" to the named section (case-insensitive match).
The text comes from --text, --text-file, or stdin (--text-file -).
--create-section creates the section when it does not exist yet.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseIssueNumber(args[0])
		if err != nil {
			return err
		}
		text, err := readTextInput(cmd, "--text", todoText, todoTextFile)
		if err != nil {
			return err
		}
		// A todo is a single checkbox line; stray newlines from file or
		// stdin input would split it.
		text = strings.TrimSpace(text)
		if text == "" {
			return core.ErrValidation(core.CodeInvalidArgument,
				"no todo text given: use --text, --text-file, or --text-file - for stdin")
		}
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}
		if err := d.svc.CreateTodo(cmd.Context(), repo, number, args[1], text, todoCreateSec); err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(map[string]any{"number": number, "section": args[1], "text": text})
		}
		printSuccess("added todo to %q in #%d", args[1], number)
		return nil
	},
}

var checkTodoCmd = &cobra.Command{
	Use:   "check-todo <number> <section> --match <substring>",
	Short: "Toggle a todo by substring match",
	Long: `Finds the single todo in the section whose text contains the --match
substring (case-insensitive) and flips its checkbox. --on and --off force a
state instead of toggling. An ambiguous match lists every candidate instead
of guessing.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseIssueNumber(args[0])
		if err != nil {
			return err
		}
		if checkTodoOn && checkTodoOff {
			return core.ErrValidation(core.CodeInvalidArgument,
				"--on and --off are mutually exclusive")
		}
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}

		var want *bool
		if checkTodoOn || checkTodoOff {
			v := checkTodoOn
			want = &v
		}
		todo, err := d.svc.CheckTodo(cmd.Context(), repo, number, args[1], checkTodoMatch, want)
		if err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(map[string]any{
				"number": number, "section": args[1],
				"text": todo.Text, "checked": todo.Checked,
			})
		}
		state := "unchecked"
		if todo.Checked {
			state = "checked"
		}
		printSuccess("%s %q in #%d", state, todo.Text, number)
		return nil
	},
}

var createSectionCmd = &cobra.Command{
	Use:   "create-section <number> <title>",
	Short: "Add an empty section ahead of the audit log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := parseIssueNumber(args[0])
		if err != nil {
			return err
		}
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}
		if err := d.svc.CreateSection(cmd.Context(), repo, number, args[1]); err != nil {
			return err
		}
		if jsonOut {
			return emitJSON(map[string]any{"number": number, "section": args[1]})
		}
		printSuccess("added section %q to #%d", args[1], number)
		return nil
	},
}

func init() {
	setBodyCmd.Flags().StringVar(&setBodyText, "body", "", "new body text")
	setBodyCmd.Flags().StringVar(&setBodyFile, "body-file", "", "read the new body from a file, - for stdin")
	setBodyCmd.Flags().BoolVar(&setBodyDropLog, "drop-log", false, "do not carry over the existing audit log")

	createTodoCmd.Flags().StringVar(&todoText, "text", "", "todo text")
	createTodoCmd.Flags().StringVar(&todoTextFile, "text-file", "", "read the todo text from a file, - for stdin")
	createTodoCmd.Flags().BoolVar(&todoCreateSec, "create-section", false, "create the section if it does not exist")

	checkTodoCmd.Flags().StringVar(&checkTodoMatch, "match", "", "substring identifying the todo (required)")
	checkTodoCmd.Flags().BoolVar(&checkTodoOn, "on", false, "check instead of toggling")
	checkTodoCmd.Flags().BoolVar(&checkTodoOff, "off", false, "uncheck instead of toggling")
	_ = checkTodoCmd.MarkFlagRequired("match")

	rootCmd.AddCommand(setBodyCmd, createTodoCmd, checkTodoCmd, createSectionCmd)
}
