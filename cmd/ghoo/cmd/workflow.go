package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/justynbrt/ghoo/internal/workflow"
)

var (
	transitionMessage     string
	transitionMessageFile string
)

// transitionShorts gives each verb command its one-line help.
var transitionShorts = map[workflow.Verb]string{
	workflow.VerbStartPlan:   "Move an issue from backlog into planning",
	workflow.VerbSubmitPlan:  "Submit a plan for approval (required sections must exist)",
	workflow.VerbApprovePlan: "Approve a submitted plan",
	workflow.VerbStartWork:   "Start work on an approved plan",
	workflow.VerbSubmitWork:  "Submit finished work for approval",
	workflow.VerbApproveWork: "Approve finished work and close the issue",
}

func init() {
	for _, verb := range workflow.Verbs {
		verb := verb
		c := &cobra.Command{
			Use:   string(verb) + " <number>",
			Short: transitionShorts[verb],
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTransition(cmd, verb, args[0])
			},
		}
		c.Flags().StringVarP(&transitionMessage, "message", "m", "",
			"reason recorded in the audit log")
		c.Flags().StringVar(&transitionMessageFile, "message-file", "",
			"read the reason from a file, - for stdin")
		rootCmd.AddCommand(c)
	}
}

func runTransition(cmd *cobra.Command, verb workflow.Verb, arg string) error {
	number, err := parseIssueNumber(arg)
	if err != nil {
		return err
	}
	message, err := readTextInput(cmd, "--message", transitionMessage, transitionMessageFile)
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

	res, err := d.svc.Engine().Execute(cmd.Context(), repo, number, verb, strings.TrimSpace(message))
	if err != nil {
		return err
	}

	if jsonOut {
		return emitJSON(res)
	}
	printSuccess("#%d: %s -> %s", res.Issue, res.From, res.To)
	if res.Message != "" {
		fmt.Println(render(styleMuted, "  reason: ") + res.Message)
	}
	if res.Fallback != "" {
		printWarning("%s", describeFallback(res.Fallback))
	}
	return nil
}
