package activity

import (
	"sync"
	"time"

	"github.com/federiconeri/wiggum/pkg/redact"
)

// Deriver converts log lines and phase changes into feed events. Lines it
// cannot make sense of are dropped; it never returns an error.
type Deriver struct {
	feed     *Feed
	now      func() time.Time
	redactor *redact.Redactor

	mu    sync.Mutex
	phase string
	lines int
}

// NewDeriver returns a deriver whose feed keeps maxEvents entries.
func NewDeriver(maxEvents int) *Deriver {
	return &Deriver{feed: NewFeed(maxEvents), now: time.Now}
}

// SetRedactor masks secrets in every message derived after the call. A nil
// redactor leaves messages as logged.
func (d *Deriver) SetRedactor(r *redact.Redactor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redactor = r
}

// Feed exposes the underlying event window.
func (d *Deriver) Feed() *Feed {
	return d.feed
}

// Events returns the retained events, newest last.
func (d *Deriver) Events() []Event {
	return d.feed.Events()
}

// Phase returns the phase currently in progress, or "" when none is.
func (d *Deriver) Phase() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// LinesSeen counts every line handed to Ingest, including dropped ones.
func (d *Deriver) LinesSeen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines
}

// Ingest derives an event from one log line stamped with the current time,
// unless the line carries its own timestamp.
func (d *Deriver) Ingest(line string) (Event, bool) {
	return d.IngestAt(line, d.now())
}

// IngestAt is Ingest with an explicit arrival time.
func (d *Deriver) IngestAt(line string, at time.Time) (Event, bool) {
	d.mu.Lock()
	d.lines++
	r := d.redactor
	d.mu.Unlock()

	p, ok := parseLine(line, at)
	if !ok {
		return Event{}, false
	}
	if !p.at.IsZero() {
		at = p.at
	}

	switch p.kind {
	case kindPhaseStart:
		d.setPhase(p.phase)
	case kindPhaseEnd:
		d.mu.Lock()
		if d.phase == p.phase {
			d.phase = ""
		}
		d.mu.Unlock()
	}

	e := NewEvent(at, r.String(p.message), p.status)
	d.feed.Append(e)
	return e, true
}

// IngestAll feeds every line and returns how many produced events.
func (d *Deriver) IngestAll(lines []string) int {
	n := 0
	for _, l := range lines {
		if _, ok := d.Ingest(l); ok {
			n++
		}
	}
	return n
}

// PhaseChange records a phase transition reported outside the log. An
// in-progress status starts the phase; success or error ends it.
func (d *Deriver) PhaseChange(name string, status Status, at time.Time) Event {
	var msg string
	switch status {
	case StatusSuccess:
		msg = "Phase complete: " + name
	case StatusError:
		msg = "Phase failed: " + name
	default:
		status = StatusInProgress
		msg = "Phase: " + name
		d.setPhase(name)
	}
	if status != StatusInProgress {
		d.mu.Lock()
		if d.phase == name {
			d.phase = ""
		}
		d.mu.Unlock()
	}

	e := NewEvent(at, msg, status)
	d.feed.Append(e)
	return e
}

func (d *Deriver) setPhase(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phase = name
}
