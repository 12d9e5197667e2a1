package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if jsonOut {
			return emitJSON(map[string]string{
				"version": appVersion,
				"commit":  appCommit,
				"date":    appDate,
			})
		}
		fmt.Printf("ghoo %s (commit %s, built %s)\n", appVersion, appCommit, appDate)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
