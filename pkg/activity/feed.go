// Package activity turns a loop's append-only log into a short, ordered feed
// of status events for display.
package activity

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// Status is the outcome an event reports.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusInProgress Status = "in-progress"
)

const (
	// DefaultMaxEvents is the feed size used when none is given.
	DefaultMaxEvents = 10
	// DisplayWidth is the message budget, in runes, for one feed line.
	DisplayWidth = 90

	ellipsis = "…"
)

// Event is one timestamped status entry. Message is never truncated; use
// Display for a width-limited rendering.
type Event struct {
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Message   string `json:"message"`
	Status    Status `json:"status"`
}

// NewEvent stamps message with t.
func NewEvent(t time.Time, message string, status Status) Event {
	return Event{Timestamp: t.UnixMilli(), Message: message, Status: status}
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Display returns the message truncated to width runes.
func (e Event) Display(width int) string {
	return Truncate(e.Message, width)
}

// Truncate shortens s to at most width runes, replacing the tail with a single
// ellipsis. A width of zero or less means DisplayWidth.
func Truncate(s string, width int) string {
	if width <= 0 {
		width = DisplayWidth
	}
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-1]) + ellipsis
}

// RelativeTime renders the time elapsed from timestamp to now (both epoch
// milliseconds) in the coarsest whole unit: "Ns ago", "Nm ago", "Nh ago" or
// "Nd ago". Each unit is floored, so exactly 60000ms is "1m ago".
func RelativeTime(timestamp, now int64) string {
	elapsed := now - timestamp
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := elapsed / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds ago", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	return fmt.Sprintf("%dd ago", hours/24)
}

// Feed keeps the most recent events in arrival order. It is safe for
// concurrent use.
type Feed struct {
	mu     sync.RWMutex
	max    int
	events []Event
}

// NewFeed returns a feed holding at most maxEvents entries; zero or less means
// DefaultMaxEvents.
func NewFeed(maxEvents int) *Feed {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Feed{max: maxEvents, events: make([]Event, 0, maxEvents)}
}

// Append adds e as the newest entry, evicting the oldest beyond the cap.
func (f *Feed) Append(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == f.max {
		copy(f.events, f.events[1:])
		f.events[len(f.events)-1] = e
		return
	}
	f.events = append(f.events, e)
}

// Events returns a copy of the retained events, newest last.
func (f *Feed) Events() []Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Len reports how many events are retained.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.events)
}

// Last returns the newest event, if any.
func (f *Feed) Last() (Event, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.events) == 0 {
		return Event{}, false
	}
	return f.events[len(f.events)-1], true
}

// Max is the feed's capacity.
func (f *Feed) Max() int {
	return f.max
}
