// Package monitor provides a live view of a client connection: its state,
// lifecycle events, server pushes and a running tally of task statuses.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/task"
	"github.com/drewfead/tascade/internal/tui"
)

// maxLines bounds the event log.
const maxLines = 500

// Model is the bubbletea model of the monitor.
type Model struct {
	client *control.Client
	events chan control.Event
	unsub  func()

	state    control.ClientState
	url      string
	counts   map[task.Status]int
	lines    []EventLine
	lastErr  error
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool
	follow   bool
}

// EventLine is one formatted row of the event log.
type EventLine struct {
	Time    time.Time
	Type    string
	Content string
}

type (
	eventMsg   control.Event
	countsMsg  map[task.Status]int
	errMsg     error
	connectMsg struct{}
)

// New creates a monitor for client. The client's events are buffered and
// dropped when the UI falls behind.
func New(client *control.Client) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = tui.StyleAccent

	m := Model{
		client:  client,
		events:  make(chan control.Event, 256),
		state:   control.StateDisconnected,
		counts:  map[task.Status]int{},
		spinner: sp,
		follow:  true,
	}
	if client != nil {
		m.url = client.URL()
		events := m.events
		m.unsub = client.Subscribe(func(e control.Event) {
			select {
			case events <- e:
			default:
			}
		})
	}
	return m
}

// Close detaches the monitor from the client.
func (m Model) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent, m.connect)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f":
			m.follow = !m.follow
		case "r":
			cmds = append(cmds, m.fetchCounts)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, max(1, msg.Height-6))
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = max(1, msg.Height-6)
		}
		m.updateContent()

	case connectMsg:
		cmds = append(cmds, m.fetchCounts)

	case eventMsg:
		e := control.Event(msg)
		m.apply(e)
		cmds = append(cmds, m.waitForEvent)
		if e.Type == control.EventConnected || isTaskUpdate(e) {
			cmds = append(cmds, m.fetchCounts)
		}

	case countsMsg:
		m.counts = msg

	case errMsg:
		m.lastErr = msg
		m.appendLine(EventLine{Time: time.Now(), Type: "error", Content: msg.Error()})

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// apply folds a client event into the model.
func (m *Model) apply(e control.Event) {
	switch e.Type {
	case control.EventConnecting:
		m.state = control.StateConnecting
	case control.EventConnected:
		m.state = control.StateConnected
		m.lastErr = nil
	case control.EventReconnecting:
		m.state = control.StateReconnecting
	case control.EventDisconnected, control.EventReconnectFailed:
		m.state = control.StateDisconnected
	}
	if e.URL != "" {
		m.url = e.URL
	}
	m.appendLine(FormatEvent(e))
}

func (m *Model) appendLine(l EventLine) {
	m.lines = append(m.lines, l)
	if over := len(m.lines) - maxLines; over > 0 {
		m.lines = slices.Delete(m.lines, 0, over)
	}
	m.updateContent()
}

func isTaskUpdate(e control.Event) bool {
	if e.Type != control.EventMessage {
		return false
	}
	var push struct {
		Event string `json:"event"`
	}
	return e.Decode(&push) == nil && push.Event == "task-updated"
}

// FormatEvent renders a client event as a log row.
func FormatEvent(e control.Event) EventLine {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	l := EventLine{Time: ts, Type: string(e.Type)}

	switch e.Type {
	case control.EventConnecting, control.EventConnected:
		l.Content = e.URL
		if e.SessionID != "" {
			l.Content += "  session " + e.SessionID
		}
	case control.EventReconnecting:
		l.Content = fmt.Sprintf("attempt %d in %s", e.Attempt, e.Delay)
	case control.EventWelcome:
		var w control.Welcome
		if e.Decode(&w) == nil {
			l.Content = w.Message
		}
	case control.EventMessage:
		var push struct {
			Event  string `json:"event"`
			Type   string `json:"type"`
			TaskID string `json:"task_id"`
		}
		if e.Decode(&push) == nil && push.Event != "" {
			l.Type = push.Event
			l.Content = strings.TrimSpace(push.Type + " " + push.TaskID)
		} else {
			l.Content = compact(e.Payload)
		}
	}
	if e.Err != nil {
		l.Content = strings.TrimSpace(l.Content + " " + e.Err.Error())
	}
	return l
}

func compact(raw json.RawMessage) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return m.spinner.View() + " Starting monitor..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderCounts())
	b.WriteString("\n")
	b.WriteString(tui.StyleMuted.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(tui.StyleMuted.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	indicator := "●"
	if m.state == control.StateConnecting || m.state == control.StateReconnecting {
		indicator = m.spinner.View()
	}
	state := m.state.String()
	return fmt.Sprintf("%s  %s  %s  %s",
		tui.StatusStyle(state).Render(indicator),
		tui.StyleTitle.Render("tascade monitor"),
		tui.StatusStyle(state).Render(state),
		tui.StyleMuted.Render(m.url))
}

func (m Model) renderCounts() string {
	parts := make([]string, 0, len(task.Statuses))
	for _, s := range task.Statuses {
		n := m.counts[s]
		style := tui.StyleMuted
		if n > 0 {
			style = tui.StatusStyle(string(s))
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", s, n)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderFooter() string {
	follow := "follow: ON"
	if !m.follow {
		follow = "follow: OFF"
	}
	help := "[q] quit  [g/G] top/bottom  [f] toggle follow  [r] refresh"
	return tui.StyleMuted.Render(fmt.Sprintf("%s  │  %s", help, follow))
}

func (m *Model) updateContent() {
	if !m.ready {
		return
	}
	lines := make([]string, len(m.lines))
	for i, e := range m.lines {
		lines[i] = fmt.Sprintf("%s %s %s",
			tui.StyleMuted.Render(e.Time.Format("15:04:05")),
			styleForType(e.Type).Render(fmt.Sprintf("%-16s", e.Type)),
			e.Content)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func styleForType(t string) lipgloss.Style {
	switch t {
	case string(control.EventConnected), string(control.EventWelcome):
		return lipgloss.NewStyle().Foreground(tui.ColorSuccess)
	case string(control.EventConnecting), string(control.EventReconnecting):
		return lipgloss.NewStyle().Foreground(tui.ColorWarning)
	case string(control.EventDisconnected), string(control.EventReconnectFailed), string(control.EventError):
		return lipgloss.NewStyle().Foreground(tui.ColorDanger)
	case "task-updated":
		return lipgloss.NewStyle().Foreground(tui.ColorAccent)
	default:
		return lipgloss.NewStyle().Foreground(tui.ColorInfo)
	}
}

func (m Model) waitForEvent() tea.Msg {
	return eventMsg(<-m.events)
}

func (m Model) connect() tea.Msg {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Connect(ctx); err != nil {
		return errMsg(err)
	}
	return connectMsg{}
}

func (m Model) fetchCounts() tea.Msg {
	if m.client == nil || m.client.State() != control.StateConnected {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := m.client.SendCommand(ctx, "get-tasks", nil)
	if err != nil {
		return errMsg(err)
	}
	var out struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := res.Decode(&out); err != nil {
		return errMsg(err)
	}
	counts := make(map[task.Status]int)
	for _, t := range out.Tasks {
		counts[t.Status]++
	}
	return countsMsg(counts)
}
