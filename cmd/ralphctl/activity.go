package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/federiconeri/wiggum/pkg/activity"
	"github.com/federiconeri/wiggum/pkg/logtail"
)

func (c *cli) activityCmd() *cobra.Command {
	var (
		logPath   string
		maxEvents int
		follow    bool
		width     int
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the recent activity derived from a loop log",
		Long: `Derive a short activity feed from a loop's log file.

Lines are classified as success, error or in-progress; phase markers
(PHASE: name, PHASE_DONE: name, PHASE_FAILED: name, === name ===) track the
current phase. Lines with nothing displayable are skipped. Secrets are
masked according to activity.redact (off, basic or aggressive).

With --follow, new events are printed as the loop appends to the log until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath == "" {
				logPath = c.cfg.Activity.Log
			}
			if logPath == "" {
				return errors.New("no log file: pass --log or set activity.log in the config")
			}
			if maxEvents <= 0 {
				maxEvents = c.cfg.Activity.MaxEvents
			}

			tail := logtail.New(logPath, logtail.Options{FromStart: true, PollInterval: time.Duration(c.cfg.Poll.Interval)})
			deriver := activity.NewDeriver(maxEvents)
			deriver.SetRedactor(c.cfg.Redactor())
			out := cmd.OutOrStdout()

			lines, err := tail.ReadNew()
			if err != nil {
				return err
			}
			deriver.IngestAll(lines)
			renderFeed(out, deriver, time.Now(), width)
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = tail.Follow(ctx, func(line string) {
				if ev, ok := deriver.Ingest(line); ok {
					fmt.Fprintln(out, formatEvent(ev, time.Now(), width))
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&logPath, "log", "l", "", "loop log file (default activity.log from config)")
	cmd.Flags().IntVarP(&maxEvents, "max", "n", 0, "events to keep (default activity.max_events from config)")
	cmd.Flags().BoolVarP(&follow, "follow", "F", false, "keep printing new events")
	cmd.Flags().IntVar(&width, "width", activity.DisplayWidth, "message width before truncation")
	return cmd
}

func renderFeed(out io.Writer, d *activity.Deriver, now time.Time, width int) {
	events := d.Events()
	if len(events) == 0 {
		fmt.Fprintln(out, "no activity yet")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"When", "Status", "Message"})
	for _, ev := range events {
		tw.AppendRow(table.Row{activity.RelativeTime(ev.Timestamp, now.UnixMilli()), ev.Status, ev.Display(width)})
	}
	tw.Render()
	if phase := d.Phase(); phase != "" {
		fmt.Fprintf(out, "phase: %s\n", phase)
	}
}

func formatEvent(ev activity.Event, now time.Time, width int) string {
	return fmt.Sprintf("%-8s %-11s %s", activity.RelativeTime(ev.Timestamp, now.UnixMilli()), ev.Status, ev.Display(width))
}
