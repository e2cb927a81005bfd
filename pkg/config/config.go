// Package config loads ralph control settings from .ralph/config.yaml and
// RALPH_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/federiconeri/wiggum/pkg/activity"
	"github.com/federiconeri/wiggum/pkg/inbox"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/pathutil"
	"github.com/federiconeri/wiggum/pkg/redact"
)

const (
	// Dir is the per-project settings directory.
	Dir = ".ralph"
	// FileName is the settings file inside Dir.
	FileName = "config.yaml"
)

// Environment overrides. RALPH_TMP_DIR and RALPH_SUMMARY_DIR are shared with
// pathutil.FromEnv.
const (
	EnvTmpDir       = pathutil.EnvTmpDir
	EnvSummaryDir   = pathutil.EnvSummaryDir
	EnvLogLevel     = "RALPH_LOG_LEVEL"
	EnvMaxEvents    = "RALPH_MAX_EVENTS"
	EnvPollInterval = "RALPH_POLL_INTERVAL"
	EnvPollTimeout  = "RALPH_POLL_TIMEOUT"
	EnvRedact       = "RALPH_REDACT"
)

// Config models .ralph/config.yaml.
type Config struct {
	TmpDir     string `yaml:"tmp_dir,omitempty"`
	SummaryDir string `yaml:"summary_dir,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`

	Activity struct {
		MaxEvents int    `yaml:"max_events,omitempty"`
		Log       string `yaml:"log,omitempty"`
		// Redact is off, basic or aggressive.
		Redact     string   `yaml:"redact,omitempty"`
		RedactKeys []string `yaml:"redact_keys,omitempty"`
	} `yaml:"activity"`

	Poll struct {
		Interval    Duration `yaml:"interval,omitempty"`
		MaxInterval Duration `yaml:"max_interval,omitempty"`
		Timeout     Duration `yaml:"timeout,omitempty"`
	} `yaml:"poll"`
}

// Duration is a time.Duration that reads "250ms"/"30m" style YAML scalars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in settings.
func Default() *Config {
	poll := inbox.DefaultPollOptions()
	cfg := &Config{LogLevel: string(ralphlog.LevelProgress)}
	cfg.Activity.MaxEvents = activity.DefaultMaxEvents
	cfg.Activity.Redact = string(redact.ModeBasic)
	cfg.Poll.Interval = Duration(poll.Interval)
	cfg.Poll.MaxInterval = Duration(poll.MaxInterval)
	cfg.Poll.Timeout = Duration(poll.Timeout)
	return cfg
}

// Path returns the settings file for a project root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path means .ralph/config.yaml in the working directory; a missing
// default file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = Path(".")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses data over the defaults without consulting the environment.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTmpDir); ok && v != "" {
		c.TmpDir = v
	}
	if v, ok := lookup(EnvSummaryDir); ok && v != "" {
		c.SummaryDir = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvRedact); ok && v != "" {
		c.Activity.Redact = v
	}
	if v, ok := lookup(EnvMaxEvents); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxEvents, err)
		}
		c.Activity.MaxEvents = n
	}
	for _, o := range []struct {
		key string
		dst *Duration
	}{
		{EnvPollInterval, &c.Poll.Interval},
		{EnvPollTimeout, &c.Poll.Timeout},
	} {
		v, ok := lookup(o.key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", o.key, err)
		}
		*o.dst = Duration(d)
	}
	return nil
}

// Validate rejects settings the rest of the system cannot use.
func (c *Config) Validate() error {
	if _, ok := ralphlog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not one of debug, info, progress, minimal, warn, error", c.LogLevel)
	}
	if c.Activity.MaxEvents <= 0 {
		return fmt.Errorf("activity.max_events must be positive, got %d", c.Activity.MaxEvents)
	}
	if _, err := redact.ParseMode(c.Activity.Redact); err != nil {
		return fmt.Errorf("activity.redact: %w", err)
	}
	if c.Poll.Interval <= 0 || c.Poll.Timeout <= 0 {
		return fmt.Errorf("poll.interval and poll.timeout must be positive")
	}
	if c.Poll.MaxInterval > 0 && c.Poll.MaxInterval < c.Poll.Interval {
		return fmt.Errorf("poll.max_interval (%s) is shorter than poll.interval (%s)",
			time.Duration(c.Poll.MaxInterval), time.Duration(c.Poll.Interval))
	}
	return nil
}

// Resolver builds the path resolver for these settings.
func (c *Config) Resolver() *pathutil.Resolver {
	return pathutil.NewResolver(c.TmpDir, c.SummaryDir)
}

// PollOptions returns the loop-side polling policy.
func (c *Config) PollOptions() inbox.PollOptions {
	opts := inbox.DefaultPollOptions()
	opts.Interval = time.Duration(c.Poll.Interval)
	opts.Timeout = time.Duration(c.Poll.Timeout)
	if c.Poll.MaxInterval > 0 {
		opts.MaxInterval = time.Duration(c.Poll.MaxInterval)
	}
	return opts
}

// Redactor returns the masker for activity messages.
func (c *Config) Redactor() *redact.Redactor {
	mode, err := redact.ParseMode(c.Activity.Redact)
	if err != nil {
		mode = redact.ModeBasic
	}
	return redact.New(redact.Config{Mode: mode, Keys: c.Activity.RedactKeys})
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() ralphlog.Config {
	cfg := ralphlog.DefaultConfig()
	if level, ok := ralphlog.ParseLevel(c.LogLevel); ok {
		cfg.Level = level
	}
	return cfg
}

// Encode renders c as YAML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
