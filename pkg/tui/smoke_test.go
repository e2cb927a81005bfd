package tui

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/federiconeri/wiggum/pkg/handoff"
	"github.com/federiconeri/wiggum/pkg/inbox"
	"github.com/federiconeri/wiggum/pkg/logtail"
	"github.com/federiconeri/wiggum/pkg/pathutil"
)

func TestTUISmoke_FileSourceActionFlow(t *testing.T) {
	dir := t.TempDir()
	paths := pathutil.NewResolver(dir, "")
	in := inbox.New(paths)
	store := handoff.NewStore(paths)

	logPath := filepath.Join(dir, "loop.log")
	if err := os.WriteFile(logPath, []byte("PHASE: build\nRunning tests\n"), 0644); err != nil {
		t.Fatal(err)
	}
	src := NewFileSource("feat", in, store, logtail.New(logPath, logtail.Options{FromStart: true}), 10)
	app := NewApp(src, 10*time.Millisecond)

	// Loop side asks a question and waits for the answer.
	req, err := inbox.NewRequest("Continue to next phase?", []inbox.ActionChoice{
		{ID: "y", Label: "Yes"},
		{ID: "n", Label: "No"},
	}, "y")
	if err != nil {
		t.Fatal(err)
	}
	type result struct {
		choice string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		opts := inbox.PollOptions{Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, Timeout: 5 * time.Second}
		choice, err := in.Ask(context.Background(), "feat", req, opts)
		done <- result{choice, err}
	}()

	// Control surface polls until the request shows up.
	deadline := time.Now().Add(5 * time.Second)
	for app.request == nil {
		if time.Now().After(deadline) {
			t.Fatal("request never appeared")
		}
		app = run(t, app, app.pollCmd())
		time.Sleep(5 * time.Millisecond)
	}
	if app.phase != "build" || len(app.events) == 0 {
		t.Errorf("activity not derived: phase=%q events=%+v", app.phase, app.events)
	}

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app = model.(*App)
	model, cmd = app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	app = model.(*App)
	app = run(t, app, cmd)
	if app.sendErr != nil {
		t.Fatalf("reply failed: %v", app.sendErr)
	}

	select {
	case r := <-done:
		if r.err != nil || r.choice != "n" {
			t.Fatalf("Ask() = %q, %v; want n", r.choice, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop never received the reply")
	}

	// Ask cleans up both files; the next poll clears the pending action.
	app = run(t, app, app.pollCmd())
	if app.request != nil {
		t.Errorf("request still pending after loop consumed reply: %+v", app.request)
	}
}

func TestTUISmoke_SummaryConsumedOnce(t *testing.T) {
	dir := t.TempDir()
	paths := pathutil.NewResolver(dir, "")
	store := handoff.NewStore(paths)
	src := NewFileSource("feat", inbox.New(paths), store, nil, 10)

	if err := store.WriteSummary("feat", handoff.RunSummary{Status: handoff.StatusSuccess}); err != nil {
		t.Fatal(err)
	}

	snap, err := src.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if snap.Summary == nil || snap.Summary.Status != handoff.StatusSuccess {
		t.Fatalf("Summary = %+v", snap.Summary)
	}
	path, _ := paths.SummaryPath("feat")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("summary file not deleted after read: %v", err)
	}

	snap, _ = src.Poll()
	if snap.Summary == nil {
		t.Error("summary should stay available after it was consumed")
	}
}
