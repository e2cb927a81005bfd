package handoff

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/federiconeri/wiggum/pkg/git"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
)

// maxCommits caps the commit list carried in a summary.
const maxCommits = 50

// Metadata is what version control knows about a run.
type Metadata struct {
	HeadCommit  string
	CommitRange *CommitRange
	DiffStats   []DiffStat
	Commits     []git.Commit
}

// ResolveMetadata queries git in dir for the short HEAD hash and, when from is
// set, the diff and commits between from and to (empty to means HEAD).
// Nothing is written to the repository. Any failure (not a repository, git
// missing, unknown revision) returns nil after a debug log: callers treat
// nil as "unknown", not as an error.
func ResolveMetadata(ctx context.Context, dir, from, to string) *Metadata {
	client := git.NewClient(dir)
	if to == "" {
		to = "HEAD"
	}

	var (
		m        Metadata
		fromHash string
		toHash   string
		numstat  string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		head, err := client.ShortHead(gctx)
		m.HeadCommit = head
		return err
	})
	if from != "" {
		g.Go(func() error {
			h, err := client.RevParse(gctx, from)
			fromHash = h
			return err
		})
		g.Go(func() error {
			h, err := client.RevParse(gctx, to)
			toHash = h
			return err
		})
		g.Go(func() error {
			out, err := client.DiffNumstat(gctx, from, to)
			numstat = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		ralphlog.Debug("commit metadata unavailable", "dir", dir, "from", from, "to", to, "error", err)
		return nil
	}

	if from == "" {
		return &m
	}
	m.CommitRange = &CommitRange{From: short(fromHash), To: short(toHash)}
	m.DiffStats = ParseNumstat(numstat)

	commits, err := client.CommitLog(fromHash, toHash, maxCommits)
	if err != nil {
		ralphlog.Debug("commit log unavailable", "dir", dir, "error", err)
	} else {
		m.Commits = commits
	}
	return &m
}

// Apply copies known metadata into s. A nil m leaves s untouched.
func (m *Metadata) Apply(s *RunSummary) {
	if m == nil {
		return
	}
	s.HeadCommit = m.HeadCommit
	s.CommitRange = m.CommitRange
	s.DiffStats = m.DiffStats
	s.Commits = m.Commits
	if len(m.DiffStats) > 0 {
		t := Totals(m.DiffStats)
		s.Totals = &t
	}
}

func short(hash string) string {
	if len(hash) > git.ShortHashLen {
		return hash[:git.ShortHashLen]
	}
	return hash
}

// CompleteOptions describes a finished run for Complete.
type CompleteOptions struct {
	Status     string
	RepoDir    string
	From       string
	To         string
	StartedAt  time.Time
	Iterations int
	Err        error
}

// Complete resolves commit metadata (tolerating its absence) and writes the
// summary. It is what a loop or its supervisor calls on reaching a terminal
// state.
func (s *Store) Complete(ctx context.Context, feature string, opts CompleteOptions) (*RunSummary, error) {
	summary := RunSummary{
		Feature:    feature,
		Status:     opts.Status,
		Iterations: opts.Iterations,
	}
	if summary.Status == "" {
		summary.Status = StatusSuccess
		if opts.Err != nil {
			summary.Status = StatusFailure
		}
	}
	if !opts.StartedAt.IsZero() {
		started := opts.StartedAt
		summary.StartedAt = &started
	}
	if opts.Err != nil {
		summary.Error = opts.Err.Error()
	}
	if opts.RepoDir != "" {
		ResolveMetadata(ctx, opts.RepoDir, opts.From, opts.To).Apply(&summary)
	}
	finished := s.now()
	summary.FinishedAt = &finished

	if err := s.WriteSummary(feature, summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
