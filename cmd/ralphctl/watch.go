package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/federiconeri/wiggum/pkg/logtail"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/tui"
)

func (c *cli) watchCmd() *cobra.Command {
	var (
		feature, logPath, logFile string
		refresh                   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Terminal UI for a running loop",
		Long: `Watch a loop: its activity feed, the pending action request and, once the
loop finishes, its run summary. Pending actions are answered from the UI.

The summary is consumed (deleted) when the UI first shows it.`,
		Example: `  ralphctl watch -f auth --log .ralph/auth.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath == "" {
				logPath = c.cfg.Activity.Log
			}
			if refresh <= 0 {
				refresh = time.Duration(c.cfg.Poll.Interval)
			}

			// The UI owns the terminal; logs go to a file.
			if logFile == "" {
				logFile = filepath.Join(os.TempDir(), fmt.Sprintf("ralphctl-watch-%s.log", feature))
			}
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			logCfg := c.cfg.LogConfig()
			logCfg.Output = f
			if err := ralphlog.Init(logCfg); err != nil {
				return err
			}

			var tail *logtail.Follower
			if logPath != "" {
				tail = logtail.New(logPath, logtail.Options{FromStart: true})
			}
			source := tui.NewFileSource(feature, c.inbox(), c.store(), tail, c.cfg.Activity.MaxEvents)
			source.Deriver().SetRedactor(c.cfg.Redactor())
			p := tea.NewProgram(tui.NewApp(source, refresh), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("failed to run TUI: %w", err)
			}
			return nil
		},
	}
	requireFeature(cmd, &feature)
	cmd.Flags().StringVarP(&logPath, "log", "l", "", "loop log file (default activity.log from config)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "where ralphctl writes its own logs while the UI runs")
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "poll interval (default poll.interval from config)")
	return cmd
}
