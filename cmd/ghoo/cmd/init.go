package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justynbrt/ghoo/internal/core"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare a repository: status labels and issue types",
	Long: `Creates one status label per workflow state and the three hierarchy
issue types. Installations without native issue types get type labels
instead. Init keeps going past individual failures and reports every asset
in one of four buckets: created, existing, fallback, failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		d, err := initDeps()
		if err != nil {
			return err
		}
		repo, err := d.resolveRepo()
		if err != nil {
			return err
		}

		res, err := d.svc.Bootstrap(cmd.Context(), repo)
		if err != nil {
			return err
		}

		if jsonOut {
			if err := emitJSON(res); err != nil {
				return err
			}
		} else {
			for _, name := range res.Created {
				printSuccess("created %s", name)
			}
			for _, name := range res.Existing {
				fmt.Println(render(styleMuted, "= ") + name + " already exists")
			}
			for _, name := range res.Fallbacks {
				printWarning("fallback: created %s", name)
			}
			for _, msg := range res.Failed {
				fmt.Println(render(styleError, "x ") + msg)
			}
		}

		if !res.Ok() {
			return core.ErrRemote(core.CodeBootstrapIncomplete,
				fmt.Sprintf("init finished with %d failed assets", len(res.Failed))).
				WithDetail("failed", res.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
