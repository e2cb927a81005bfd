// Package git is a thin wrapper over the system git binary for the read-only
// queries the completion handoff needs, plus a go-git based history walk.
// Nothing here mutates the repository.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ShortHashLen is the abbreviation length used for commit hashes.
const ShortHashLen = 7

// ErrNotAvailable means the git binary is not on PATH.
var ErrNotAvailable = errors.New("git executable not found")

// CommandError is a failed git invocation with its stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Client runs git in Dir.
type Client struct {
	Dir string
}

// NewClient returns a client for the working tree at dir.
func NewClient(dir string) *Client {
	return &Client{Dir: dir}
}

// Available reports whether the git binary can be found.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if !Available() {
		return "", ErrNotAvailable
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// IsRepo reports whether Dir is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// GetHeadSHA returns the full hash of HEAD.
func (c *Client) GetHeadSHA(ctx context.Context) (string, error) {
	return c.RevParse(ctx, "HEAD")
}

// ShortHead returns the abbreviated hash of HEAD.
func (c *Client) ShortHead(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", fmt.Sprintf("--short=%d", ShortHashLen), "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RevParse resolves rev to a full commit hash. Ambiguous or unknown revisions
// are errors.
func (c *Client) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DiffNumstat returns `git diff --numstat from to` output. An empty to
// compares from against the working tree.
func (c *Client) DiffNumstat(ctx context.Context, from, to string) (string, error) {
	args := []string{"diff", "--numstat", from}
	if to != "" {
		args = append(args, to)
	}
	return c.run(ctx, args...)
}

// Commit is one entry of CommitLog.
type Commit struct {
	Hash    string    `json:"hash"`
	Subject string    `json:"subject"`
	Author  string    `json:"author,omitempty"`
	When    time.Time `json:"when"`
}

// CommitLog lists commits reachable from to, newest first, stopping at from
// (exclusive) or after limit entries. An empty to means HEAD; an empty from
// walks to the root. The walk is depth-first along parents, so for histories
// with merges this approximates `git log from..to`.
func (c *Client) CommitLog(from, to string, limit int) ([]Commit, error) {
	repo, err := gogit.PlainOpenWithOptions(c.Dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	if to == "" {
		to = "HEAD"
	}
	toHash, err := repo.ResolveRevision(plumbing.Revision(to))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", to, err)
	}
	var stop *plumbing.Hash
	if from != "" {
		stop, err = repo.ResolveRevision(plumbing.Revision(from))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", from, err)
		}
	}

	iter, err := repo.Log(&gogit.LogOptions{From: *toHash})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(cm *object.Commit) error {
		if stop != nil && cm.Hash == *stop {
			return storer.ErrStop
		}
		commits = append(commits, Commit{
			Hash:    cm.Hash.String()[:ShortHashLen],
			Subject: firstLine(cm.Message),
			Author:  cm.Author.Name,
			When:    cm.Author.When,
		})
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk log: %w", err)
	}
	return commits, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
