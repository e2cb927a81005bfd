package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/federiconeri/wiggum/pkg/pathutil"
)

func newTestInbox(t *testing.T) (*Inbox, string) {
	t.Helper()
	dir := t.TempDir()
	return New(pathutil.NewResolver(dir, "")), dir
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func requestPath(t *testing.T, in *Inbox, feature string) string {
	t.Helper()
	p, err := in.Paths().RequestPath(feature)
	if err != nil {
		t.Fatalf("RequestPath() error = %v", err)
	}
	return p
}

func replyPath(t *testing.T, in *Inbox, feature string) string {
	t.Helper()
	p, err := in.Paths().ReplyPath(feature)
	if err != nil {
		t.Fatalf("ReplyPath() error = %v", err)
	}
	return p
}

func TestReadRequestTreatsBadFilesAsAbsent(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		wantErr error
	}{
		{"missing file", nil, ErrAbsent},
		{"invalid JSON", strPtr(`{"id": "r1",`), ErrMalformed},
		{"not an object", strPtr(`["r1"]`), ErrMalformed},
		{"missing id", strPtr(`{"prompt":"p","choices":[{"id":"y","label":"Yes"}],"default":"y"}`), ErrMalformed},
		{"missing prompt", strPtr(`{"id":"r1","choices":[{"id":"y","label":"Yes"}],"default":"y"}`), ErrMalformed},
		{"missing choices", strPtr(`{"id":"r1","prompt":"p","default":"y"}`), ErrMalformed},
		{"missing default", strPtr(`{"id":"r1","prompt":"p","choices":[{"id":"y","label":"Yes"}]}`), ErrMalformed},
		{"empty choices", strPtr(`{"id":"r1","prompt":"p","choices":[],"default":"y"}`), ErrMalformed},
		{"wrong id type", strPtr(`{"id":7,"prompt":"p","choices":[{"id":"y","label":"Yes"}],"default":"y"}`), ErrMalformed},
		{"choice without label", strPtr(`{"id":"r1","prompt":"p","choices":[{"id":"y"}],"default":"y"}`), ErrMalformed},
		{"default not a choice", strPtr(`{"id":"r1","prompt":"p","choices":[{"id":"y","label":"Yes"}],"default":"n"}`), ErrMalformed},
		{"null document", strPtr(`null`), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := newTestInbox(t)
			if tt.content != nil {
				writeRaw(t, requestPath(t, in, "feat"), *tt.content)
			}

			req, err := in.ReadRequest("feat")
			if err != nil {
				t.Fatalf("ReadRequest() error = %v, want nil", err)
			}
			if req != nil {
				t.Fatalf("ReadRequest() = %+v, want nil", req)
			}

			_, err = in.LoadRequest("feat")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadRequestValid(t *testing.T) {
	in, _ := newTestInbox(t)
	writeRaw(t, requestPath(t, in, "feat"),
		`{"id":"r1","prompt":"Continue?","choices":[{"id":"y","label":"Yes"},{"id":"n","label":"No"}],"default":"y"}`)

	req, err := in.ReadRequest("feat")
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if req == nil {
		t.Fatal("ReadRequest() = nil, want request")
	}
	if req.ID != "r1" || req.Prompt != "Continue?" || req.Default != "y" {
		t.Errorf("unexpected request: %+v", req)
	}
	if len(req.Choices) != 2 || req.Choices[1].ID != "n" || req.Choices[1].Label != "No" {
		t.Errorf("unexpected choices: %+v", req.Choices)
	}
}

func TestLoadRequestIOError(t *testing.T) {
	in, _ := newTestInbox(t)
	// A directory where the file should be makes ReadFile fail with EISDIR.
	if err := os.Mkdir(requestPath(t, in, "feat"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := in.LoadRequest("feat")
	if !errors.Is(err, ErrIO) {
		t.Fatalf("LoadRequest() error = %v, want ErrIO", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "read" {
		t.Errorf("expected *IOError with op read, got %v", err)
	}

	req, err := in.ReadRequest("feat")
	if req != nil || err != nil {
		t.Errorf("ReadRequest() = %v, %v, want nil, nil", req, err)
	}
}

func TestInvalidFeatureRejectedBeforeFilesystem(t *testing.T) {
	in, dir := newTestInbox(t)
	bad := "../escape"

	if _, err := in.ReadRequest(bad); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("ReadRequest() error = %v", err)
	}
	if _, err := in.LoadRequest(bad); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("LoadRequest() error = %v", err)
	}
	if err := in.WriteReply(bad, ActionReply{ID: "r1", Choice: "y"}); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("WriteReply() error = %v", err)
	}
	if err := in.Cleanup(bad); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("Cleanup() error = %v", err)
	}
	req := ActionRequest{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}
	if err := in.WriteRequest(bad, req); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("WriteRequest() error = %v", err)
	}
	if _, err := in.ReadReply(bad); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("ReadReply() error = %v", err)
	}
	if _, err := in.AwaitReply(context.Background(), bad, "r1", PollOptions{Timeout: time.Millisecond}); !errors.Is(err, pathutil.ErrInvalidFeatureID) {
		t.Errorf("AwaitReply() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("filesystem touched: %d entries in %s", len(entries), dir)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape")); !os.IsNotExist(err) {
		t.Errorf("traversal target exists: %v", err)
	}
}

func TestWriteReplyRoundTrip(t *testing.T) {
	in, dir := newTestInbox(t)
	reply := ActionReply{ID: "r-é世-1", Choice: "n \"quoted\""}

	if err := in.WriteReply("feat", reply); err != nil {
		t.Fatalf("WriteReply() error = %v", err)
	}

	data, err := os.ReadFile(replyPath(t, in, "feat"))
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if raw["id"] != reply.ID || raw["choice"] != reply.Choice {
		t.Errorf("round trip = %v, want %+v", raw, reply)
	}

	if _, err := os.Stat(replyPath(t, in, "feat") + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the reply file, found %d entries", len(entries))
	}
}

func TestWriteReplyPropagatesFilesystemErrors(t *testing.T) {
	in, _ := newTestInbox(t)
	// Occupy the temp path with a non-empty directory so the write fails.
	tmp := replyPath(t, in, "feat") + ".tmp"
	if err := os.MkdirAll(filepath.Join(tmp, "child"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err := in.WriteReply("feat", ActionReply{ID: "r1", Choice: "y"})
	if err == nil {
		t.Fatal("WriteReply() error = nil, want filesystem error")
	}
	if !errors.Is(err, ErrIO) {
		t.Errorf("WriteReply() error = %v, want ErrIO", err)
	}
}

func TestCleanup(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		in, _ := newTestInbox(t)
		if err := in.Cleanup("feat"); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	})

	t.Run("removes both", func(t *testing.T) {
		in, _ := newTestInbox(t)
		writeRaw(t, requestPath(t, in, "feat"), `{}`)
		writeRaw(t, replyPath(t, in, "feat"), `{}`)

		if err := in.Cleanup("feat"); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
		for _, p := range []string{requestPath(t, in, "feat"), replyPath(t, in, "feat")} {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("%s still exists", p)
			}
		}
	})

	t.Run("only reply", func(t *testing.T) {
		in, _ := newTestInbox(t)
		writeRaw(t, replyPath(t, in, "feat"), `{}`)
		if err := in.Cleanup("feat"); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	})
}

func TestWriteRequestLastWriteWins(t *testing.T) {
	in, _ := newTestInbox(t)
	first := ActionRequest{ID: "r1", Prompt: "first", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}
	second := ActionRequest{ID: "r2", Prompt: "second", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}

	if err := in.WriteRequest("feat", first); err != nil {
		t.Fatalf("WriteRequest(first) error = %v", err)
	}
	if err := in.WriteReply("feat", ActionReply{ID: "r1", Choice: "y"}); err != nil {
		t.Fatalf("WriteReply() error = %v", err)
	}
	if err := in.WriteRequest("feat", second); err != nil {
		t.Fatalf("WriteRequest(second) error = %v", err)
	}

	req, _ := in.ReadRequest("feat")
	if req == nil || req.ID != "r2" {
		t.Fatalf("ReadRequest() = %+v, want r2", req)
	}
	if reply, _ := in.ReadReply("feat"); reply != nil {
		t.Errorf("stale reply survived a new request: %+v", reply)
	}
}

func TestWriteRequestValidates(t *testing.T) {
	in, _ := newTestInbox(t)
	bad := []ActionRequest{
		{ID: "r1", Prompt: "p", Default: "y"},
		{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "n"},
	}
	for _, req := range bad {
		if err := in.WriteRequest("feat", req); err == nil {
			t.Errorf("WriteRequest(%+v) error = nil", req)
		}
	}
	if _, err := os.Stat(requestPath(t, in, "feat")); !os.IsNotExist(err) {
		t.Errorf("invalid request was written")
	}
}

func TestNewRequest(t *testing.T) {
	choices := []ActionChoice{{ID: "y", Label: "Yes"}, {ID: "n", Label: "No"}}
	a, err := NewRequest("Continue?", choices, "y")
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	b, _ := NewRequest("Continue?", choices, "y")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if _, err := NewRequest("Continue?", choices, "maybe"); err == nil {
		t.Error("NewRequest() with unknown default should fail")
	}
	if a.Label("n") != "No" || a.Label("zzz") != "zzz" {
		t.Errorf("Label() lookup wrong")
	}
}

func TestAwaitReplyTimeout(t *testing.T) {
	in, _ := newTestInbox(t)
	req := ActionRequest{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}
	if err := in.WriteRequest("feat", req); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}

	start := time.Now()
	_, err := in.AwaitReply(context.Background(), "feat", "r1", PollOptions{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("AwaitReply() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned after %s, before the timeout", elapsed)
	}
}

func TestAwaitReplyAbandoned(t *testing.T) {
	in, _ := newTestInbox(t)
	_, err := in.AwaitReply(context.Background(), "feat", "r1", PollOptions{Interval: 5 * time.Millisecond, Timeout: time.Second})
	if !errors.Is(err, ErrAbandoned) {
		t.Fatalf("AwaitReply() error = %v, want ErrAbandoned", err)
	}
}

func TestAwaitReplyContextCancel(t *testing.T) {
	in, _ := newTestInbox(t)
	req := ActionRequest{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}
	if err := in.WriteRequest("feat", req); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := in.AwaitReply(ctx, "feat", "r1", PollOptions{Interval: 5 * time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AwaitReply() error = %v, want context.Canceled", err)
	}
}

func TestAwaitReplyIgnoresOtherRequestIDs(t *testing.T) {
	in, _ := newTestInbox(t)
	req := ActionRequest{ID: "r2", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}
	if err := in.WriteRequest("feat", req); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}
	if err := in.WriteReply("feat", ActionReply{ID: "r1", Choice: "y"}); err != nil {
		t.Fatalf("WriteReply() error = %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = in.WriteReply("feat", ActionReply{ID: "r2", Choice: "y"})
	}()

	reply, err := in.AwaitReply(context.Background(), "feat", "r2", PollOptions{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("AwaitReply() error = %v", err)
	}
	if reply.ID != "r2" {
		t.Errorf("reply id = %s, want r2", reply.ID)
	}
}

func TestPollOptionsBackoff(t *testing.T) {
	o := PollOptions{Interval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond, Multiplier: 2}.normalized()
	d := o.Interval
	var got []time.Duration
	for i := 0; i < 4; i++ {
		d = o.next(d)
		got = append(got, d)
	}
	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, got[i], want[i])
		}
	}

	n := PollOptions{}.normalized()
	if n.Interval != DefaultPollOptions().Interval || n.Multiplier != 1 || n.MaxInterval != n.Interval {
		t.Errorf("normalized zero options = %+v", n)
	}
}

// The loop asks, the control surface answers "n", the loop proceeds and both
// files are gone afterwards.
func TestEndToEndDecision(t *testing.T) {
	dir := t.TempDir()
	loop := New(pathutil.NewResolver(dir, ""))
	surface := New(pathutil.NewResolver(dir, ""))

	req := ActionRequest{
		ID:     "r1",
		Prompt: "Continue?",
		Choices: []ActionChoice{
			{ID: "y", Label: "Yes"},
			{ID: "n", Label: "No"},
		},
		Default: "y",
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			pending, err := surface.ReadRequest("feat")
			if err != nil {
				t.Errorf("ReadRequest() error = %v", err)
				return
			}
			if pending != nil {
				if pending.Prompt != "Continue?" || !pending.HasChoice("n") {
					t.Errorf("unexpected pending request: %+v", pending)
				}
				if err := surface.WriteReply("feat", ActionReply{ID: pending.ID, Choice: "n"}); err != nil {
					t.Errorf("WriteReply() error = %v", err)
				}
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("control surface never saw the request")
	}()

	choice, err := loop.Ask(context.Background(), "feat", req, PollOptions{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second})
	<-done
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if choice != "n" {
		t.Errorf("choice = %q, want n", choice)
	}

	if pending, err := surface.ReadRequest("feat"); pending != nil || err != nil {
		t.Errorf("ReadRequest() after cleanup = %+v, %v", pending, err)
	}
	if _, err := os.Stat(replyPath(t, loop, "feat")); !os.IsNotExist(err) {
		t.Errorf("reply file survived cleanup")
	}
}

func TestAskRejectsUnknownChoice(t *testing.T) {
	in, _ := newTestInbox(t)
	req := ActionRequest{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = in.WriteReply("feat", ActionReply{ID: "r1", Choice: "maybe"})
	}()

	_, err := in.Ask(context.Background(), "feat", req, PollOptions{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second})
	if !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("Ask() error = %v, want ErrUnknownChoice", err)
	}
}

func TestAskOrDefaultFallsBack(t *testing.T) {
	in, _ := newTestInbox(t)
	req := ActionRequest{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}, {ID: "n", Label: "No"}}, Default: "n"}

	choice, err := in.AskOrDefault(context.Background(), "feat", req, PollOptions{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("AskOrDefault() error = %v", err)
	}
	if choice != "n" {
		t.Errorf("choice = %q, want default n", choice)
	}
	if _, err := os.Stat(requestPath(t, in, "feat")); !os.IsNotExist(err) {
		t.Errorf("request not cleaned up after timeout")
	}
}

type memBus struct {
	msgs map[string][]byte
}

func (m *memBus) Send(topic string, payload []byte) error {
	m.msgs[topic] = append([]byte(nil), payload...)
	return nil
}

func (m *memBus) TryReceive(topic string) ([]byte, error) {
	if data, ok := m.msgs[topic]; ok {
		return data, nil
	}
	return nil, ErrAbsent
}

func (m *memBus) Delete(topic string) error {
	delete(m.msgs, topic)
	return nil
}

func TestInboxOverCustomBus(t *testing.T) {
	bus := &memBus{msgs: map[string][]byte{}}
	in := NewWithBus(pathutil.NewResolver(t.TempDir(), ""), bus)

	req := ActionRequest{ID: "r1", Prompt: "p", Choices: []ActionChoice{{ID: "y", Label: "Yes"}}, Default: "y"}
	if err := in.WriteRequest("feat", req); err != nil {
		t.Fatalf("WriteRequest() error = %v", err)
	}
	got, err := in.ReadRequest("feat")
	if err != nil || got == nil || got.ID != "r1" {
		t.Fatalf("ReadRequest() = %+v, %v", got, err)
	}
	if err := in.WriteReply("feat", ActionReply{ID: "r1", Choice: "y"}); err != nil {
		t.Fatalf("WriteReply() error = %v", err)
	}
	reply, err := in.ReadReply("feat")
	if err != nil || reply == nil || !reply.Answers(*got) {
		t.Fatalf("ReadReply() = %+v, %v", reply, err)
	}
	if err := in.Cleanup("feat"); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(bus.msgs) != 0 {
		t.Errorf("bus not empty after cleanup: %v", bus.msgs)
	}
}

func strPtr(s string) *string {
	return &s
}
