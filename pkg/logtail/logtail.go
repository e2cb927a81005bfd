// Package logtail follows a growing log file and hands each complete line to
// a callback. It watches the file's directory with fsnotify and also polls on
// a fixed interval, since some filesystems never deliver events.
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ralphlog "github.com/federiconeri/wiggum/pkg/log"
)

// DefaultPollInterval is the fallback poll period.
const DefaultPollInterval = time.Second

// maxPartial caps a line that never ends so a runaway writer cannot grow
// memory without bound.
const maxPartial = 1 << 20

// Options controls where following starts and how often to poll.
type Options struct {
	// FromStart replays the existing content instead of starting at the end.
	FromStart    bool
	PollInterval time.Duration
}

// Follower tracks a read offset into one file.
type Follower struct {
	path string
	opts Options

	mu      sync.Mutex
	started bool
	offset  int64
	partial []byte
}

// New returns a follower for path. The file does not have to exist yet.
func New(path string, opts Options) *Follower {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Follower{path: path, opts: opts}
}

// Path returns the followed file.
func (f *Follower) Path() string {
	return f.path
}

// ReadNew returns the complete lines appended since the previous call. A
// missing file yields no lines. If the file shrank it is read again from the
// start.
func (f *Follower) ReadNew() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.started = true
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log: %w", err)
	}

	if !f.started {
		f.started = true
		if !f.opts.FromStart {
			f.offset = info.Size()
			return nil, nil
		}
	}
	if info.Size() < f.offset {
		ralphlog.Debug("log truncated, rereading from start", "path", f.path)
		f.offset = 0
		f.partial = f.partial[:0]
	}
	if info.Size() == f.offset {
		return nil, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek log: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(file, info.Size()-f.offset))
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	var lines []string
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(buf[:i], "\r")))
		buf = buf[i+1:]
	}
	if len(buf) > maxPartial {
		lines = append(lines, string(buf))
		buf = buf[:0]
	}
	f.partial = append(f.partial[:0:0], buf...)
	return lines, nil
}

// Follow calls fn for every new line until ctx is done, then returns
// ctx.Err(). Read errors are logged and retried on the next wake-up.
func (f *Follower) Follow(ctx context.Context, fn func(line string)) error {
	drain := func() {
		lines, err := f.ReadNew()
		if err != nil {
			ralphlog.Warn("failed to read log", "path", f.path, "error", err)
			return
		}
		for _, l := range lines {
			fn(l)
		}
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		ralphlog.Debug("fsnotify unavailable, polling only", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(f.path)); err != nil {
			ralphlog.Debug("cannot watch log directory, polling only", "dir", filepath.Dir(f.path), "error", err)
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	drain()
	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target {
				drain()
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			ralphlog.Debug("fsnotify error", "error", err)
		case <-ticker.C:
			drain()
		}
	}
}
