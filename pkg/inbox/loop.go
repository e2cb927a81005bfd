package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ralphlog "github.com/federiconeri/wiggum/pkg/log"
	"github.com/federiconeri/wiggum/pkg/pathutil"
)

// PollOptions bounds AwaitReply. The interval grows by Multiplier after each
// empty poll, capped at MaxInterval.
type PollOptions struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	// Timeout of zero waits until the context is done.
	Timeout time.Duration
}

// DefaultPollOptions returns the backoff used when none is configured.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:    250 * time.Millisecond,
		MaxInterval: 2 * time.Second,
		Multiplier:  1.5,
		Timeout:     30 * time.Minute,
	}
}

func (o PollOptions) normalized() PollOptions {
	def := DefaultPollOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = o.Interval
	}
	if o.Multiplier < 1 {
		o.Multiplier = 1
	}
	return o
}

func (o PollOptions) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * o.Multiplier)
	if n > o.MaxInterval {
		return o.MaxInterval
	}
	return n
}

// WriteRequest publishes a request for the control surface. A request that
// was never consumed is replaced (last write wins) and a warning is logged.
// Any stale reply is removed first so it cannot be mistaken for an answer to
// the new request.
func (in *Inbox) WriteRequest(feature string, req ActionRequest) error {
	reqPath, err := in.paths.RequestPath(feature)
	if err != nil {
		return err
	}
	replyPath, err := in.paths.ReplyPath(feature)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if prev, err := in.LoadRequest(feature); err == nil && prev.ID != req.ID {
		ralphlog.Warn("replacing unconsumed action request", "feature", feature, "previous", prev.ID, "id", req.ID)
	}
	if err := in.bus.Delete(replyPath); err != nil {
		return fmt.Errorf("failed to clear stale action reply: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal action request: %w", err)
	}
	if err := in.bus.Send(reqPath, data); err != nil {
		return fmt.Errorf("failed to write action request: %w", err)
	}
	ralphlog.Debug("action request written", "feature", feature, "id", req.ID, "choices", len(req.Choices))
	return nil
}

// LoadReply returns the current reply or one of ErrAbsent, a
// *MalformedError, or an *IOError.
func (in *Inbox) LoadReply(feature string) (*ActionReply, error) {
	path, err := in.paths.ReplyPath(feature)
	if err != nil {
		return nil, err
	}
	data, err := in.bus.TryReceive(path)
	if err != nil {
		return nil, err
	}
	return decodeReply(path, data)
}

// ReadReply is the tolerant form of LoadReply.
func (in *Inbox) ReadReply(feature string) (*ActionReply, error) {
	reply, err := in.LoadReply(feature)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, pathutil.ErrInvalidFeatureID) {
		return nil, err
	}
	if !errors.Is(err, ErrAbsent) {
		ralphlog.Warn("ignoring action reply", "feature", feature, "error", err)
	}
	return nil, nil
}

// AwaitReply polls until a reply carrying requestID appears. Replies for other
// requests are ignored. It returns ErrTimeout once opts.Timeout elapses,
// ErrAbandoned if the request file is deleted while no reply is present, and
// the context's error if ctx is done first.
func (in *Inbox) AwaitReply(ctx context.Context, feature, requestID string, opts PollOptions) (*ActionReply, error) {
	reqPath, err := in.paths.RequestPath(feature)
	if err != nil {
		return nil, err
	}
	opts = opts.normalized()

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	interval := opts.Interval
	for {
		reply, err := in.LoadReply(feature)
		switch {
		case err == nil:
			if reply.ID == requestID {
				return reply, nil
			}
			ralphlog.Debug("ignoring reply for another request", "feature", feature, "want", requestID, "got", reply.ID)
		case errors.Is(err, ErrAbsent):
			if _, rerr := in.bus.TryReceive(reqPath); errors.Is(rerr, ErrAbsent) {
				// The reply may have landed between the two reads.
				if reply, err := in.LoadReply(feature); err == nil && reply.ID == requestID {
					return reply, nil
				}
				return nil, fmt.Errorf("%w: feature %s request %s", ErrAbandoned, feature, requestID)
			}
		default:
			ralphlog.Warn("unreadable action reply", "feature", feature, "error", err)
		}

		wait := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, fmt.Errorf("%w after %s: feature %s request %s", ErrTimeout, opts.Timeout, feature, requestID)
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		interval = opts.next(interval)
	}
}

// Ask runs one full interaction from the loop's side: publish req, wait for
// the correlated reply, and remove both files whatever the outcome.
func (in *Inbox) Ask(ctx context.Context, feature string, req ActionRequest, opts PollOptions) (string, error) {
	if err := in.WriteRequest(feature, req); err != nil {
		return "", err
	}
	defer func() {
		if err := in.Cleanup(feature); err != nil {
			ralphlog.Warn("failed to clean up action files", "feature", feature, "error", err)
		}
	}()

	reply, err := in.AwaitReply(ctx, feature, req.ID, opts)
	if err != nil {
		return "", err
	}
	if !req.HasChoice(reply.Choice) {
		return "", fmt.Errorf("%w: %q", ErrUnknownChoice, reply.Choice)
	}
	ralphlog.Info("operator decision received", "feature", feature, "id", req.ID, "choice", reply.Choice)
	return reply.Choice, nil
}

// AskOrDefault is Ask that falls back to req.Default when the wait times out.
func (in *Inbox) AskOrDefault(ctx context.Context, feature string, req ActionRequest, opts PollOptions) (string, error) {
	choice, err := in.Ask(ctx, feature, req, opts)
	if errors.Is(err, ErrTimeout) {
		ralphlog.Info("no operator decision, using default", "feature", feature, "id", req.ID, "default", req.Default)
		return req.Default, nil
	}
	return choice, err
}
