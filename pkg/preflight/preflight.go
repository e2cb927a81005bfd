package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/federiconeri/wiggum/pkg/git"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/pathutil"
)

// CheckLevel represents the severity level of a preflight check
type CheckLevel int

const (
	// LevelError indicates a setup the loop and control surface cannot work with
	LevelError CheckLevel = iota
	// LevelWarn indicates a degraded setup, such as summaries without git metadata
	LevelWarn
	// LevelInfo indicates informational output
	LevelInfo
)

func (l CheckLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	default:
		return "ok"
	}
}

// CheckResult represents the result of a single preflight check
type CheckResult struct {
	Name    string
	Level   CheckLevel
	Message string
	Error   error
}

// Check represents a single preflight check
type Check interface {
	Name() string
	Run(ctx context.Context) CheckResult
}

// Config selects the checks for a coordination setup.
type Config struct {
	// Paths supplies the request/reply and summary directories.
	Paths *pathutil.Resolver
	// RepoDir is the repository run summaries are resolved against. Empty
	// skips the repository check but still looks for git.
	RepoDir string
	// ActivityLog is the loop log the activity feed reads, if any.
	ActivityLog string
	// Quiet suppresses info-level log lines
	Quiet bool
}

// Checker runs a collection of preflight checks
type Checker struct {
	checks []Check
	quiet  bool
}

// NewChecker creates a checker for cfg.
func NewChecker(cfg Config) *Checker {
	paths := cfg.Paths
	if paths == nil {
		paths = pathutil.FromEnv()
	}
	c := &Checker{quiet: cfg.Quiet}
	c.checks = append(c.checks, &DirCheck{Label: "action-dir", Path: paths.Dir})
	if paths.SummaryDir != paths.Dir {
		c.checks = append(c.checks, &DirCheck{Label: "summary-dir", Path: paths.SummaryDir})
	}
	c.checks = append(c.checks, &GitCheck{Dir: cfg.RepoDir})
	c.checks = append(c.checks, &LogCheck{Path: cfg.ActivityLog})
	return c
}

// Results runs every check in order.
func (c *Checker) Results(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, len(c.checks))
	for _, check := range c.checks {
		results = append(results, check.Run(ctx))
	}
	return results
}

// Run executes all checks, logs each outcome and returns an error if any
// check failed at LevelError.
func (c *Checker) Run(ctx context.Context) ([]CheckResult, error) {
	results := c.Results(ctx)

	var failed []string
	warnings := 0
	for _, result := range results {
		switch result.Level {
		case LevelError:
			ralphlog.Error("preflight check failed", "check", result.Name, "message", result.Message)
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Message))
		case LevelWarn:
			ralphlog.Warn("preflight check warning", "check", result.Name, "message", result.Message)
			warnings++
		case LevelInfo:
			if !c.quiet {
				ralphlog.Info("preflight check", "check", result.Name, "message", result.Message)
			}
		}
	}
	if warnings > 0 {
		ralphlog.Info("preflight warnings", "count", warnings)
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("preflight checks failed:\n  - %s", strings.Join(failed, "\n  - "))
	}
	return results, nil
}

// DirCheck verifies a coordination directory is usable. A missing directory
// is fine because writers create it.
type DirCheck struct {
	Label string
	Path  string
}

func (c *DirCheck) Name() string {
	return c.Label
}

func (c *DirCheck) Run(ctx context.Context) CheckResult {
	info, err := os.Stat(c.Path)
	if os.IsNotExist(err) {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelInfo,
			Message: fmt.Sprintf("%s does not exist yet and will be created on first write", c.Path),
		}
	}
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("cannot access %s", c.Path),
			Error:   err,
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("%s is not a directory", c.Path),
			Error:   fmt.Errorf("not a directory"),
		}
	}

	probe, err := os.CreateTemp(c.Path, ".ralph-preflight-*")
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("%s is not writable", c.Path),
			Error:   err,
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("%s is writable", c.Path),
	}
}

// GitCheck looks for the git binary and, when Dir is set, a repository.
// Both only degrade run summaries, so failures are warnings.
type GitCheck struct {
	Dir string
}

func (c *GitCheck) Name() string {
	return "git"
}

func (c *GitCheck) Run(ctx context.Context) CheckResult {
	if !git.Available() {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: "git command not found; run summaries will carry no commit metadata",
		}
	}
	if c.Dir == "" {
		return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "git is available"}
	}

	client := git.NewClient(c.Dir)
	if !client.IsRepo(ctx) {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("%s is not a git repository; run summaries will carry no commit metadata", c.Dir),
		}
	}
	head, err := client.ShortHead(ctx)
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("%s has no commits yet", c.Dir),
			Error:   err,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("repository at %s, HEAD %s", c.Dir, head),
	}
}

// LogCheck verifies the activity log, when one is configured, can be read.
type LogCheck struct {
	Path string
}

func (c *LogCheck) Name() string {
	return "activity-log"
}

func (c *LogCheck) Run(ctx context.Context) CheckResult {
	if c.Path == "" {
		return CheckResult{Name: c.Name(), Level: LevelInfo, Message: "no activity log configured"}
	}
	f, err := os.Open(c.Path)
	if os.IsNotExist(err) {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelWarn,
			Message: fmt.Sprintf("%s does not exist yet; the feed stays empty until the loop writes it", c.Path),
		}
	}
	if err != nil {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("cannot read %s", c.Path),
			Error:   err,
		}
	}
	defer f.Close()
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		return CheckResult{
			Name:    c.Name(),
			Level:   LevelError,
			Message: fmt.Sprintf("%s is a directory", c.Path),
			Error:   fmt.Errorf("is a directory"),
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Level:   LevelInfo,
		Message: fmt.Sprintf("%s is readable", filepath.Clean(c.Path)),
	}
}
