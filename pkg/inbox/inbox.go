// Package inbox implements the file-based request/reply protocol a loop uses
// to pause for an operator decision.
//
// The loop writes an ActionRequest and polls for a reply; the control surface
// reads the request, collects a decision and writes an ActionReply. Each path
// has one writer role and one reader role. The absence of a file is the
// cancellation signal: either side may delete its counterpart's file to
// abandon the interaction.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"

	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/pathutil"
)

// Inbox reads and writes action requests and replies for any feature.
type Inbox struct {
	paths *pathutil.Resolver
	bus   MessageBus
}

// New returns an Inbox backed by files under the resolver's directory.
func New(paths *pathutil.Resolver) *Inbox {
	return NewWithBus(paths, &FileBus{})
}

// NewWithBus returns an Inbox using a custom transport. Topics are the paths
// the resolver derives, so a non-file bus only needs to treat them as keys.
func NewWithBus(paths *pathutil.Resolver, bus MessageBus) *Inbox {
	if paths == nil {
		paths = pathutil.FromEnv()
	}
	return &Inbox{paths: paths, bus: bus}
}

// Paths returns the resolver the inbox derives topics from.
func (in *Inbox) Paths() *pathutil.Resolver {
	return in.paths
}

// LoadRequest returns the pending request or one of ErrAbsent, a
// *MalformedError, an *IOError, or a validation error for the feature id.
func (in *Inbox) LoadRequest(feature string) (*ActionRequest, error) {
	path, err := in.paths.RequestPath(feature)
	if err != nil {
		return nil, err
	}
	data, err := in.bus.TryReceive(path)
	if err != nil {
		return nil, err
	}
	return decodeRequest(path, data)
}

// ReadRequest is the tolerant form of LoadRequest polled by the control
// surface. A missing, unreadable or malformed request yields nil with no
// error; malformed and unreadable files are logged at warn. Only an invalid
// feature id is reported as an error.
func (in *Inbox) ReadRequest(feature string) (*ActionRequest, error) {
	req, err := in.LoadRequest(feature)
	if err == nil {
		return req, nil
	}
	if errors.Is(err, pathutil.ErrInvalidFeatureID) {
		return nil, err
	}
	if !errors.Is(err, ErrAbsent) {
		ralphlog.Warn("ignoring action request", "feature", feature, "error", err)
	}
	return nil, nil
}

// WriteReply publishes the operator's answer. Filesystem failures are
// returned to the caller and never retried. Correlating reply.ID with the
// pending request and checking the choice is the caller's job.
func (in *Inbox) WriteReply(feature string, reply ActionReply) error {
	path, err := in.paths.ReplyPath(feature)
	if err != nil {
		return err
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal action reply: %w", err)
	}
	if err := in.bus.Send(path, data); err != nil {
		return fmt.Errorf("failed to write action reply: %w", err)
	}
	ralphlog.Debug("action reply written", "feature", feature, "id", reply.ID, "choice", reply.Choice)
	return nil
}

// Cleanup deletes both the request and the reply. Missing files are fine;
// every real deletion failure is returned.
func (in *Inbox) Cleanup(feature string) error {
	reqPath, err := in.paths.RequestPath(feature)
	if err != nil {
		return err
	}
	replyPath, err := in.paths.ReplyPath(feature)
	if err != nil {
		return err
	}
	return errors.Join(in.bus.Delete(reqPath), in.bus.Delete(replyPath))
}
