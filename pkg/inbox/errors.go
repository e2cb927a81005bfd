package inbox

import (
	"errors"
	"fmt"
)

var (
	// ErrAbsent means nothing has been written to the topic yet.
	ErrAbsent = errors.New("no message present")
	// ErrMalformed means a file exists but does not decode to the expected shape.
	ErrMalformed = errors.New("malformed message")
	// ErrIO covers filesystem failures other than a missing file.
	ErrIO = errors.New("inbox i/o failure")
	// ErrTimeout is returned by AwaitReply when its deadline passes.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrAbandoned is returned by AwaitReply when the request file disappears
	// before a reply arrives.
	ErrAbandoned = errors.New("action request abandoned")
	// ErrUnknownChoice is returned when a reply names a choice the request
	// never offered.
	ErrUnknownChoice = errors.New("choice not offered by request")
)

// MalformedError describes why a message file was rejected.
type MalformedError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrMalformed, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMalformed, e.Path, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func (e *IOError) Unwrap() error {
	return e.Err
}
