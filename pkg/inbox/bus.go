package inbox

import (
	"errors"
	"os"
	"path/filepath"
)

// MessageBus holds at most one pending message per topic. Send replaces any
// previous message; TryReceive never blocks and never consumes.
type MessageBus interface {
	Send(topic string, payload []byte) error
	TryReceive(topic string) ([]byte, error)
	Delete(topic string) error
}

// FileBus maps each topic to a file path. Sends are written to "<path>.tmp"
// and renamed into place, so a reader sees either the old file or the whole
// new one.
type FileBus struct {
	// Perm is the mode of newly written files. Zero means 0644.
	Perm os.FileMode
}

// Send atomically replaces the file at topic with payload.
func (b *FileBus) Send(topic string, payload []byte) error {
	perm := b.Perm
	if perm == 0 {
		perm = 0644
	}
	if err := os.MkdirAll(filepath.Dir(topic), 0755); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(topic), Err: err}
	}

	tmpPath := topic + ".tmp"
	if err := os.WriteFile(tmpPath, payload, perm); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, topic); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "rename", Path: topic, Err: err}
	}
	return nil
}

// TryReceive returns the current payload, or ErrAbsent when there is none.
func (b *FileBus) TryReceive(topic string) ([]byte, error) {
	data, err := os.ReadFile(topic)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAbsent
		}
		return nil, &IOError{Op: "read", Path: topic, Err: err}
	}
	return data, nil
}

// Delete removes the topic's file. A missing file is not an error.
func (b *FileBus) Delete(topic string) error {
	if err := os.Remove(topic); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "remove", Path: topic, Err: err}
	}
	return nil
}
