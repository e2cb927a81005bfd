// Package handoff persists the final summary of a loop run for the control
// surface to pick up, and resolves the commit and diff metadata it carries.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/federiconeri/wiggum/pkg/git"
	"github.com/federiconeri/wiggum/pkg/inbox"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/pathutil"
)

// Terminal statuses a loop reports. Status is free-form; these are the ones
// the loop itself uses.
const (
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusAbandoned = "abandoned"
)

// CommitRange is the span of history a run produced, as short hashes.
type CommitRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RunSummary is the terminal-state document for one loop run.
type RunSummary struct {
	Feature     string       `json:"feature"`
	Status      string       `json:"status"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
	Iterations  int          `json:"iterations,omitempty"`
	HeadCommit  string       `json:"headCommit,omitempty"`
	CommitRange *CommitRange `json:"commitRange,omitempty"`
	DiffStats   []DiffStat   `json:"diffStats,omitempty"`
	Totals      *DiffTotals  `json:"totals,omitempty"`
	Commits     []git.Commit `json:"commits,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero when either end is unknown.
func (s RunSummary) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// ErrNoSummary means no summary file exists for the feature. It matches
// inbox.ErrAbsent so callers can treat every handoff file the same way.
var ErrNoSummary = fmt.Errorf("no run summary: %w", inbox.ErrAbsent)

// Store reads and writes run summaries under the resolver's summary
// directory.
type Store struct {
	paths *pathutil.Resolver
	now   func() time.Time
}

// NewStore returns a Store; a nil resolver means pathutil.FromEnv().
func NewStore(paths *pathutil.Resolver) *Store {
	if paths == nil {
		paths = pathutil.FromEnv()
	}
	return &Store{paths: paths, now: time.Now}
}

// WriteSummary writes summary to the feature's summary path. Feature and
// FinishedAt are filled in when empty. Write errors are returned; the loop is
// expected to log them and carry on.
//
// This is a plain write, not temp+rename like action replies. A reader racing
// the write can see a torn file; LoadSummary reports that as malformed and
// ReadSummary as "no summary yet".
func (s *Store) WriteSummary(feature string, summary RunSummary) error {
	path, err := s.paths.SummaryPath(feature)
	if err != nil {
		return err
	}
	summary.Feature = feature
	if summary.FinishedAt == nil {
		now := s.now()
		summary.FinishedAt = &now
	}
	if summary.Totals == nil && len(summary.DiffStats) > 0 {
		t := Totals(summary.DiffStats)
		summary.Totals = &t
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create summary dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	ralphlog.Debug("run summary written (non-atomic)", "feature", feature, "path", path, "status", summary.Status)
	return nil
}

// LoadSummary returns the summary, ErrNoSummary, an *inbox.MalformedError or
// an *inbox.IOError.
func (s *Store) LoadSummary(feature string) (*RunSummary, error) {
	path, err := s.paths.SummaryPath(feature)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSummary
		}
		return nil, &inbox.IOError{Op: "read", Path: path, Err: err}
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, &inbox.MalformedError{Path: path, Reason: "invalid json", Err: err}
	}
	if summary.Status == "" {
		return nil, &inbox.MalformedError{Path: path, Reason: "missing status"}
	}
	return &summary, nil
}

// ReadSummary is the tolerant read used by the control surface: a missing,
// unreadable or malformed summary yields nil. It does not delete the file.
func (s *Store) ReadSummary(feature string) (*RunSummary, error) {
	summary, err := s.LoadSummary(feature)
	if err == nil {
		return summary, nil
	}
	if errors.Is(err, pathutil.ErrInvalidFeatureID) {
		return nil, err
	}
	if !errors.Is(err, ErrNoSummary) {
		ralphlog.Warn("ignoring run summary", "feature", feature, "error", err)
	}
	return nil, nil
}

// DeleteSummary removes the summary. A missing file is not an error.
func (s *Store) DeleteSummary(feature string) error {
	path, err := s.paths.SummaryPath(feature)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete run summary: %w", err)
	}
	return nil
}

// ConsumeSummary reads the summary once and deletes it when one was found.
func (s *Store) ConsumeSummary(feature string) (*RunSummary, error) {
	summary, err := s.ReadSummary(feature)
	if err != nil || summary == nil {
		return summary, err
	}
	if err := s.DeleteSummary(feature); err != nil {
		return summary, err
	}
	return summary, nil
}
