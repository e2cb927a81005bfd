package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Print the settings ralphctl resolved from the config file, RALPH_*
environment variables and flags, followed by the resulting file locations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.cfg.Encode()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, string(data))
			paths := c.cfg.Resolver()
			fmt.Fprintf(out, "# request/reply dir: %s\n# summary dir: %s\n", paths.Dir, paths.SummaryDir)
			return nil
		},
	}
	return cmd
}
