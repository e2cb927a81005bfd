package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/federiconeri/wiggum/pkg/config"
	"github.com/federiconeri/wiggum/pkg/handoff"
	"github.com/federiconeri/wiggum/pkg/inbox"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
)

// cli carries state shared by every subcommand of one root command.
type cli struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "ralphctl",
		Short: "Control surface for ralph loops",
		Long: `ralphctl talks to a running ralph loop through the files it shares with it:
the pending action request and its reply, the run summary written when the
loop finishes, and the loop's log.

Every file lives in a shared temporary directory (RALPH_TMP_DIR, default the
system temp dir) and is named after the feature the loop is working on.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}

	c.v.SetEnvPrefix("RALPH")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default .ralph/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, progress, minimal, warn, error")
	pf.String("log-format", "", "log format: console or json")
	pf.String("tmp-dir", "", "directory for action request and reply files")
	pf.String("summary-dir", "", "directory for run summary files")
	for _, name := range []string{"config", "log-level", "log-format", "tmp-dir", "summary-dir"} {
		_ = c.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(c.actionCmd())
	root.AddCommand(c.summaryCmd())
	root.AddCommand(c.activityCmd())
	root.AddCommand(c.watchCmd())
	root.AddCommand(c.configCmd())
	root.AddCommand(c.doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// load resolves settings: config file, then RALPH_* env, then flags.
func (c *cli) load(logOut io.Writer) error {
	cfg, err := config.Load(c.v.GetString("config"))
	if err != nil {
		return err
	}
	if c.v.IsSet("tmp-dir") {
		cfg.TmpDir = c.v.GetString("tmp-dir")
	}
	if c.v.IsSet("summary-dir") {
		cfg.SummaryDir = c.v.GetString("summary-dir")
	}
	if c.v.IsSet("log-level") {
		cfg.LogLevel = c.v.GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	logCfg := cfg.LogConfig()
	logCfg.Output = logOut
	if f := c.v.GetString("log-format"); f != "" {
		logCfg.Format = f
	}
	return ralphlog.Init(logCfg)
}

func (c *cli) inbox() *inbox.Inbox {
	return inbox.New(c.cfg.Resolver())
}

func (c *cli) store() *handoff.Store {
	return handoff.NewStore(c.cfg.Resolver())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requireFeature registers the --feature flag every per-feature command takes.
func requireFeature(cmd *cobra.Command, feature *string) {
	cmd.Flags().StringVarP(feature, "feature", "f", "", "feature identifier")
	_ = cmd.MarkFlagRequired("feature")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	_ = ralphlog.Sync()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
