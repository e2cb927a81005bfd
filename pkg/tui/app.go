package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/federiconeri/wiggum/pkg/activity"
	"github.com/federiconeri/wiggum/pkg/handoff"
	"github.com/federiconeri/wiggum/pkg/inbox"
	ralphlog "github.com/federiconeri/wiggum/pkg/log"
)

// DefaultRefresh is how often the App polls its Source.
const DefaultRefresh = time.Second

// App is the TUI application state
type App struct {
	source     Source
	refresh    time.Duration
	now        func() time.Time
	width      int
	err        error
	lastUpdate time.Time
	quitting   bool
	keys       keyMap
	help       help.Model

	autoRefresh bool

	events  []activity.Event
	phase   string
	summary *handoff.RunSummary

	// Pending action state
	request  *inbox.ActionRequest
	selected int
	sending  bool
	answered map[string]string // request id -> choice sent
	sendErr  error
}

// NewApp creates a new TUI application
func NewApp(source Source, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &App{
		source:      source,
		refresh:     refresh,
		now:         time.Now,
		width:       120,
		keys:        newKeyMap(),
		help:        help.New(),
		autoRefresh: true,
		answered:    make(map[string]string),
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Padding(0, 1)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("blue"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("white")).
			Background(lipgloss.Color("blue")).
			Padding(0, 1)

	choiceStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

// Messages
type snapshotMsg struct {
	snap Snapshot
	err  error
	at   time.Time
}

type replySentMsg struct {
	requestID string
	choice    string
	err       error
}

type tickMsg time.Time

// Init initializes the application
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.pollCmd(), a.tick())
}

// Update handles messages and updates state
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			a.width = msg.Width
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case snapshotMsg:
		a.applySnapshot(msg)
		return a, nil

	case replySentMsg:
		a.sending = false
		if msg.err != nil {
			a.sendErr = msg.err
			ralphlog.Warn("failed to write reply", "feature", a.source.Feature(), "error", msg.err)
			return a, nil
		}
		a.sendErr = nil
		a.answered[msg.requestID] = msg.choice
		return a, a.pollCmd()

	case tickMsg:
		if !a.quitting && a.autoRefresh {
			return a, tea.Batch(a.pollCmd(), a.tick())
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		a.quitting = true
		return a, tea.Quit

	case key.Matches(msg, a.keys.Refresh):
		return a, a.pollCmd()

	case key.Matches(msg, a.keys.Toggle):
		a.autoRefresh = !a.autoRefresh
		if a.autoRefresh {
			return a, a.tick()
		}
		return a, nil

	case key.Matches(msg, a.keys.Up):
		if a.selected > 0 {
			a.selected--
		}
		return a, nil

	case key.Matches(msg, a.keys.Down):
		if a.request != nil && a.selected < len(a.request.Choices)-1 {
			a.selected++
		}
		return a, nil

	case key.Matches(msg, a.keys.Reply):
		if a.request != nil && a.selected < len(a.request.Choices) {
			return a, a.replyCmd(a.request.Choices[a.selected].ID)
		}
		return a, nil

	case key.Matches(msg, a.keys.Default):
		if a.request != nil {
			return a, a.replyCmd(a.request.Default)
		}
		return a, nil

	case key.Matches(msg, a.keys.Pick):
		n, _ := strconv.Atoi(msg.String())
		if a.request != nil && n >= 1 && n <= len(a.request.Choices) {
			a.selected = n - 1
			return a, a.replyCmd(a.request.Choices[n-1].ID)
		}
	}
	return a, nil
}

func (a *App) applySnapshot(msg snapshotMsg) {
	a.err = msg.err
	a.lastUpdate = msg.at
	a.events = msg.snap.Events
	a.phase = msg.snap.Phase
	if msg.snap.Summary != nil {
		a.summary = msg.snap.Summary
	}

	switch {
	case msg.snap.Request == nil:
		a.request = nil
		a.selected = 0
	case a.request == nil || a.request.ID != msg.snap.Request.ID:
		// New request: preselect its default.
		a.request = msg.snap.Request
		a.selected = 0
		for i, c := range a.request.Choices {
			if c.ID == a.request.Default {
				a.selected = i
				break
			}
		}
	default:
		a.request = msg.snap.Request
	}
}

// View renders the UI
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Ralph Loop: %s", a.source.Feature())))
	b.WriteString("\n\n")

	if a.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s", a.err.Error())))
	} else if a.lastUpdate.IsZero() {
		b.WriteString(statusStyle.Render("Waiting for loop..."))
	} else {
		line := fmt.Sprintf("Last Update: %s", a.lastUpdate.Format("15:04:05"))
		if a.phase != "" {
			line = fmt.Sprintf("Phase: %s | %s", a.phase, line)
		}
		if !a.autoRefresh {
			line += " | paused"
		}
		b.WriteString(statusStyle.Render(line))
	}
	b.WriteString("\n\n")

	if a.summary != nil {
		b.WriteString(a.renderSummaryPanel())
		b.WriteString("\n")
	}
	b.WriteString(a.renderActionPanel())
	b.WriteString("\n")
	b.WriteString(a.renderActivityPanel())

	b.WriteString("\n\n")
	b.WriteString(a.renderHelp())

	return b.String()
}

func (a *App) panelWidth() int {
	w := a.width - 2
	if w > 120 {
		w = 120
	}
	if w < 40 {
		w = 40
	}
	return w
}

func (a *App) renderActivityPanel() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Activity"))
	b.WriteString("\n")

	if len(a.events) == 0 {
		b.WriteString(helpStyle.Render("No activity yet"))
		b.WriteString("\n")
	}
	now := a.now().UnixMilli()
	for _, ev := range a.events {
		b.WriteString(renderEvent(ev, now))
		b.WriteString("\n")
	}

	return borderStyle.Width(a.panelWidth()).Render(b.String())
}

func renderEvent(ev activity.Event, now int64) string {
	style := statusStyle
	glyph := "✓"
	switch ev.Status {
	case activity.StatusError:
		style = errorStyle
		glyph = "✗"
	case activity.StatusInProgress:
		style = pendingStyle
		glyph = "…"
	}
	return style.Render(fmt.Sprintf("%s %-8s %s", glyph, activity.RelativeTime(ev.Timestamp, now), ev.Display(activity.DisplayWidth)))
}

func (a *App) renderActionPanel() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Pending Action"))
	b.WriteString("\n")

	if a.request == nil {
		b.WriteString(helpStyle.Render("No pending action"))
		b.WriteString("\n")
		return borderStyle.Width(a.panelWidth()).Render(b.String())
	}

	b.WriteString(pendingStyle.Render(a.request.Prompt))
	b.WriteString("\n")
	for i, c := range a.request.Choices {
		label := fmt.Sprintf("%d. %s", i+1, c.Label)
		if c.ID == a.request.Default {
			label += " (default)"
		}
		if i == a.selected {
			b.WriteString(selectedStyle.Render("> " + label))
		} else {
			b.WriteString(choiceStyle.Render("  " + label))
		}
		b.WriteString("\n")
	}

	switch {
	case a.sending:
		b.WriteString(helpStyle.Render("Sending..."))
		b.WriteString("\n")
	case a.sendErr != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Reply failed: %s", a.sendErr)))
		b.WriteString("\n")
	default:
		if choice, ok := a.answered[a.request.ID]; ok {
			b.WriteString(statusStyle.Render(fmt.Sprintf("Answered %q, waiting for loop", a.request.Label(choice))))
			b.WriteString("\n")
		}
	}

	return borderStyle.Width(a.panelWidth()).Render(b.String())
}

func (a *App) renderSummaryPanel() string {
	var b strings.Builder
	s := a.summary

	b.WriteString(titleStyle.Render("Run Finished"))
	b.WriteString("\n")

	style := statusStyle
	if s.Status != handoff.StatusSuccess {
		style = errorStyle
	}
	b.WriteString(style.Render(fmt.Sprintf("Status: %s", s.Status)))
	b.WriteString("\n")
	if s.CommitRange != nil {
		b.WriteString(statusStyle.Render(fmt.Sprintf("Commits: %s..%s", s.CommitRange.From, s.CommitRange.To)))
		b.WriteString("\n")
	}
	if len(s.DiffStats) > 0 {
		t := handoff.Totals(s.DiffStats)
		b.WriteString(statusStyle.Render(fmt.Sprintf("Changed: %d files, +%d -%d", t.Files, t.Added, t.Removed)))
		b.WriteString("\n")
	}
	if d := s.Duration(); d > 0 {
		b.WriteString(statusStyle.Render(fmt.Sprintf("Duration: %s", d.Round(time.Second))))
		b.WriteString("\n")
	}
	if s.Error != "" {
		b.WriteString(errorStyle.Render(activity.Truncate(s.Error, activity.DisplayWidth)))
		b.WriteString("\n")
	}

	return borderStyle.Width(a.panelWidth()).Render(b.String())
}

func (a *App) renderHelp() string {
	a.help.Width = a.width
	return a.help.ShortHelpView(a.keys.bindings(a.request != nil))
}

// Commands
func (a *App) pollCmd() tea.Cmd {
	source := a.source
	now := a.now
	return func() tea.Msg {
		snap, err := source.Poll()
		return snapshotMsg{snap: snap, err: err, at: now()}
	}
}

func (a *App) replyCmd(choice string) tea.Cmd {
	if a.request == nil || a.sending {
		return nil
	}
	a.sending = true
	reply := inbox.ActionReply{ID: a.request.ID, Choice: choice}
	source := a.source
	return func() tea.Msg {
		err := source.Reply(reply)
		return replySentMsg{requestID: reply.ID, choice: reply.Choice, err: err}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
