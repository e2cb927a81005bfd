package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/federiconeri/wiggum/pkg/activity"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/redact"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvTmpDir, EnvSummaryDir, EnvLogLevel, EnvMaxEvents, EnvPollInterval, EnvPollTimeout, EnvRedact} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Activity.MaxEvents != activity.DefaultMaxEvents {
		t.Errorf("MaxEvents = %d, want %d", cfg.Activity.MaxEvents, activity.DefaultMaxEvents)
	}
	if cfg.LogLevel != string(ralphlog.LevelProgress) {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
tmp_dir: /var/ralph
log_level: debug
activity:
  max_events: 25
  log: .ralph/loop.log
  redact: aggressive
  redact_keys: [DEPLOY_PASS]
poll:
  interval: 100ms
  max_interval: 1s
  timeout: 5m
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}
	if cfg.TmpDir != "/var/ralph" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Activity.MaxEvents != 25 || cfg.Activity.Log != ".ralph/loop.log" {
		t.Errorf("unexpected activity: %+v", cfg.Activity)
	}

	if got := cfg.Redactor().Mode(); got != redact.ModeAggressive {
		t.Errorf("Redactor().Mode() = %q", got)
	}
	if got := cfg.Redactor().String("DEPLOY_PASS: hunter2"); strings.Contains(got, "hunter2") {
		t.Errorf("custom key not masked: %q", got)
	}

	opts := cfg.PollOptions()
	if opts.Interval != 100*time.Millisecond || opts.MaxInterval != time.Second || opts.Timeout != 5*time.Minute {
		t.Errorf("PollOptions() = %+v", opts)
	}
	if cfg.LogConfig().Level != ralphlog.LevelDebug {
		t.Errorf("LogConfig().Level = %q", cfg.LogConfig().Level)
	}
	if got := cfg.Resolver().Dir; got != "/var/ralph" {
		t.Errorf("Resolver().Dir = %q", got)
	}
}

func TestFromYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown field", "tmpdir: /x\n", "tmpdir"},
		{"bad duration", "poll:\n  interval: soon\n", "invalid duration"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"negative events", "activity:\n  max_events: -1\n", "max_events"},
		{"bad redact mode", "activity:\n  redact: paranoid\n", "activity.redact"},
		{"max below interval", "poll:\n  interval: 2s\n  max_interval: 1s\n", "max_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFromYAMLEmpty(t *testing.T) {
	cfg, err := FromYAML([]byte("  \n"))
	if err != nil {
		t.Fatalf("FromYAML(empty) error = %v", err)
	}
	if cfg.Activity.MaxEvents != activity.DefaultMaxEvents {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	if _, err := Load(""); err != nil {
		t.Errorf("Load(\"\") without a default file error = %v", err)
	}
	if _, err := Load("nope.yaml"); err == nil {
		t.Error("Load() of a missing explicit file should fail")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("tmp_dir: /from/file\nactivity:\n  max_events: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvTmpDir, "/from/env")
	t.Setenv(EnvMaxEvents, "12")
	t.Setenv(EnvPollTimeout, "45s")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvRedact, "off")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TmpDir != "/from/env" {
		t.Errorf("TmpDir = %q, want env override", cfg.TmpDir)
	}
	if cfg.Activity.MaxEvents != 12 {
		t.Errorf("MaxEvents = %d, want 12", cfg.Activity.MaxEvents)
	}
	if time.Duration(cfg.Poll.Timeout) != 45*time.Second {
		t.Errorf("Timeout = %v", time.Duration(cfg.Poll.Timeout))
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Redactor().Mode() != redact.ModeOff {
		t.Errorf("Redact = %q, want env override", cfg.Activity.Redact)
	}
}

func TestLoadEnvErrors(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv(EnvMaxEvents, "ten")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), EnvMaxEvents) {
		t.Errorf("Load() error = %v, want %s error", err, EnvMaxEvents)
	}

	t.Setenv(EnvMaxEvents, "")
	t.Setenv(EnvPollInterval, "fast")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), EnvPollInterval) {
		t.Errorf("Load() error = %v, want %s error", err, EnvPollInterval)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.SummaryDir = "/summaries"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(data), "timeout: 30m0s") {
		t.Errorf("durations not rendered as strings:\n%s", data)
	}
	back, err := FromYAML(data)
	if err != nil {
		t.Fatalf("FromYAML(Encode()) error = %v", err)
	}
	if back.SummaryDir != "/summaries" || back.Poll.Timeout != cfg.Poll.Timeout {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestPath(t *testing.T) {
	if got := Path("/proj"); got != filepath.Join("/proj", ".ralph", "config.yaml") {
		t.Errorf("Path() = %q", got)
	}
}
