package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// These variables are set via ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for ralphctl.

This shows the version number, git commit SHA, and build date.
The version is set at build time via git tags.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ralphctl version %s\n", Version)
			if Commit != "" && Commit != "unknown" {
				fmt.Fprintf(out, "commit: %s\n", Commit)
			}
			if BuildDate != "" && BuildDate != "unknown" {
				fmt.Fprintf(out, "built at: %s\n", BuildDate)
			}
			return nil
		},
	}
}
