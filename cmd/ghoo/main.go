package main

import (
	"os"

	"github.com/justynbrt/ghoo/cmd/ghoo/cmd"
	"github.com/justynbrt/ghoo/internal/core"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		cmd.PrintError(err)
		os.Exit(core.ExitCode(err))
	}
}
