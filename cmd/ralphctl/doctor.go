package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/federiconeri/wiggum/pkg/preflight"
)

func (c *cli) doctorCmd() *cobra.Command {
	var repoDir, logPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the coordination setup is usable",
		Long: `Check the request/reply and summary directories, git and the activity log.

Missing git or an unreadable repository only produce warnings: run summaries
are still written, without commit metadata. The command fails when a
directory cannot be written or the log cannot be read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath == "" {
				logPath = c.cfg.Activity.Log
			}
			checker := preflight.NewChecker(preflight.Config{
				Paths:       c.cfg.Resolver(),
				RepoDir:     repoDir,
				ActivityLog: logPath,
				Quiet:       true,
			})
			results, err := checker.Run(cmd.Context())

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Check", "Status", "Detail"})
			for _, r := range results {
				tw.AppendRow(table.Row{r.Name, r.Level, r.Message})
			}
			tw.Render()
			return err
		},
	}
	cmd.Flags().StringVar(&repoDir, "repo", ".", "repository run summaries are resolved against")
	cmd.Flags().StringVarP(&logPath, "log", "l", "", "loop log file (default activity.log from config)")
	return cmd
}
