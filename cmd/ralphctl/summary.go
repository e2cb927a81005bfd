package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/federiconeri/wiggum/pkg/handoff"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
)

func (c *cli) summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Write or read a loop's run summary",
	}
	cmd.AddCommand(c.summaryWriteCmd())
	cmd.AddCommand(c.summaryShowCmd())
	return cmd
}

func (c *cli) summaryWriteCmd() *cobra.Command {
	var (
		feature, status, repo, from, to, runErr, started string
		iterations                                        int
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write the run summary (loop side)",
		Long: `Write the run summary for a finished loop.

With --repo, the short HEAD hash is recorded and, when --from is given, the
commit range and per-file diff stats between --from and --to (default HEAD).
If the directory is not a git repository or a revision cannot be resolved,
the summary is written without commit metadata.`,
		Example: `  ralphctl summary write -f auth --status success --repo . --from $START_SHA`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := handoff.CompleteOptions{
				Status:     status,
				RepoDir:    repo,
				From:       from,
				To:         to,
				Iterations: iterations,
			}
			if runErr != "" {
				opts.Err = errors.New(runErr)
			}
			if started != "" {
				t, err := time.Parse(time.RFC3339, started)
				if err != nil {
					return fmt.Errorf("invalid --started: %w", err)
				}
				opts.StartedAt = t
			}

			summary, err := c.store().Complete(cmd.Context(), feature, opts)
			if err != nil {
				return err
			}
			path, _ := c.cfg.Resolver().SummaryPath(feature)
			ralphlog.Info("run summary written", "feature", feature, "path", path)
			fmt.Fprintf(cmd.OutOrStdout(), "%s summary written to %s\n", summary.Status, path)
			return nil
		},
	}
	requireFeature(cmd, &feature)
	cmd.Flags().StringVarP(&status, "status", "s", "", "terminal status: success, failure, abandoned (default from --error)")
	cmd.Flags().StringVar(&repo, "repo", "", "git working directory to read commit metadata from")
	cmd.Flags().StringVar(&from, "from", "", "revision the run started from")
	cmd.Flags().StringVar(&to, "to", "", "revision the run ended at (default HEAD)")
	cmd.Flags().StringVar(&runErr, "error", "", "error message for a failed run")
	cmd.Flags().StringVar(&started, "started", "", "start time (RFC3339)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "number of loop iterations")
	return cmd
}

func (c *cli) summaryShowCmd() *cobra.Command {
	var feature string
	var asJSON, keep bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the run summary and delete it",
		Long: `Show the run summary for a feature.

The summary is handed over once: it is deleted after a successful read unless
--keep is given. A missing or unreadable summary is reported as "no summary
available".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := c.store()
			summary, err := store.ReadSummary(feature)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, summary); err != nil {
					return err
				}
			} else if summary == nil {
				fmt.Fprintf(out, "no summary available for %s\n", feature)
			} else {
				renderSummary(out, summary)
			}
			if summary == nil || keep {
				return nil
			}
			return store.DeleteSummary(feature)
		},
	}
	requireFeature(cmd, &feature)
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().BoolVar(&keep, "keep", false, "leave the summary file in place")
	return cmd
}

func renderSummary(out io.Writer, s *handoff.RunSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendRow(table.Row{"Feature", s.Feature})
	tw.AppendRow(table.Row{"Status", s.Status})
	if s.Iterations > 0 {
		tw.AppendRow(table.Row{"Iterations", s.Iterations})
	}
	if d := s.Duration(); d > 0 {
		tw.AppendRow(table.Row{"Duration", d.Round(time.Second)})
	}
	if s.HeadCommit != "" {
		tw.AppendRow(table.Row{"HEAD", s.HeadCommit})
	}
	if s.CommitRange != nil {
		tw.AppendRow(table.Row{"Commits", s.CommitRange.From + ".." + s.CommitRange.To})
	} else {
		tw.AppendRow(table.Row{"Commits", "unknown"})
	}
	if s.Error != "" {
		tw.AppendRow(table.Row{"Error", s.Error})
	}
	tw.Render()

	if len(s.DiffStats) > 0 {
		dt := table.NewWriter()
		dt.SetOutputMirror(out)
		dt.AppendHeader(table.Row{"File", "Added", "Removed"})
		for _, d := range s.DiffStats {
			dt.AppendRow(table.Row{d.Path, d.Added, d.Removed})
		}
		t := handoff.Totals(s.DiffStats)
		dt.AppendFooter(table.Row{fmt.Sprintf("%d files", t.Files), t.Added, t.Removed})
		dt.Render()
	}

	if len(s.Commits) > 0 {
		ct := table.NewWriter()
		ct.SetOutputMirror(out)
		ct.AppendHeader(table.Row{"Commit", "Subject", "Author"})
		for _, cm := range s.Commits {
			ct.AppendRow(table.Row{cm.Hash, cm.Subject, cm.Author})
		}
		ct.Render()
	}
}
