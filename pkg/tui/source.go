package tui

import (
	"errors"
	"fmt"
	"sync"

	"github.com/federiconeri/wiggum/pkg/activity"
	"github.com/federiconeri/wiggum/pkg/handoff"
	"github.com/federiconeri/wiggum/pkg/inbox"
	"github.com/federiconeri/wiggum/pkg/logtail"
)

// Snapshot is what the control surface knows about one feature at a point
// in time.
type Snapshot struct {
	Request *inbox.ActionRequest
	Summary *handoff.RunSummary
	Events  []activity.Event
	Phase   string
}

// Source feeds the App. Implementations must be safe to call from the
// commands bubbletea runs in its own goroutines.
type Source interface {
	Feature() string
	Poll() (Snapshot, error)
	Reply(reply inbox.ActionReply) error
}

// FileSource reads the coordination files and loop log of one feature.
type FileSource struct {
	feature string
	inbox   *inbox.Inbox
	store   *handoff.Store
	tail    *logtail.Follower
	deriver *activity.Deriver

	mu      sync.Mutex
	summary *handoff.RunSummary
}

// NewFileSource returns a source for feature. tail may be nil when there is
// no log to follow.
func NewFileSource(feature string, in *inbox.Inbox, store *handoff.Store, tail *logtail.Follower, maxEvents int) *FileSource {
	return &FileSource{
		feature: feature,
		inbox:   in,
		store:   store,
		tail:    tail,
		deriver: activity.NewDeriver(maxEvents),
	}
}

func (s *FileSource) Feature() string {
	return s.feature
}

// Deriver exposes the activity deriver so callers can inject phase changes.
func (s *FileSource) Deriver() *activity.Deriver {
	return s.deriver
}

// Poll reads new log lines, the pending request and the run summary. The
// summary is consumed (read then deleted) the first time it is seen and kept
// in memory afterwards.
func (s *FileSource) Poll() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.tail != nil {
		lines, err := s.tail.ReadNew()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read log: %w", err))
		}
		s.deriver.IngestAll(lines)
	}

	req, err := s.inbox.ReadRequest(s.feature)
	if err != nil {
		errs = append(errs, err)
	}

	if s.summary == nil {
		summary, err := s.store.ConsumeSummary(s.feature)
		if err != nil {
			errs = append(errs, err)
		}
		s.summary = summary
	}

	return Snapshot{
		Request: req,
		Summary: s.summary,
		Events:  s.deriver.Events(),
		Phase:   s.deriver.Phase(),
	}, errors.Join(errs...)
}

// Reply writes the operator's answer for the loop to pick up.
func (s *FileSource) Reply(reply inbox.ActionReply) error {
	return s.inbox.WriteReply(s.feature, reply)
}
