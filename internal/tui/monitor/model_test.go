package monitor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/task"
	"github.com/drewfead/tascade/internal/tui"
)

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name     string
		event    control.Event
		wantType string
		want     string
	}{
		{
			name:     "connected",
			event:    control.Event{Type: control.EventConnected, Timestamp: ts, URL: "ws://localhost:8765/ws", SessionID: "session_1"},
			wantType: "connected",
			want:     "ws://localhost:8765/ws  session session_1",
		},
		{
			name:     "reconnecting",
			event:    control.Event{Type: control.EventReconnecting, Timestamp: ts, Attempt: 2, Delay: 4 * time.Second},
			wantType: "reconnecting",
			want:     "attempt 2 in 4s",
		},
		{
			name:     "welcome",
			event:    control.Event{Type: control.EventWelcome, Timestamp: ts, Payload: json.RawMessage(`{"type":"welcome","message":"Welcome to tascade v0.1.0"}`)},
			wantType: "welcome",
			want:     "Welcome to tascade v0.1.0",
		},
		{
			name:     "task push",
			event:    control.Event{Type: control.EventMessage, Timestamp: ts, Payload: json.RawMessage(`{"event":"task-updated","type":"updated","task_id":"t1"}`)},
			wantType: "task-updated",
			want:     "updated t1",
		},
		{
			name:     "other push",
			event:    control.Event{Type: control.EventMessage, Timestamp: ts, Payload: json.RawMessage("{\"hello\":\n \"world\"}")},
			wantType: "message",
			want:     `{"hello": "world"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := FormatEvent(tt.event)
			if l.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", l.Type, tt.wantType)
			}
			if l.Content != tt.want {
				t.Errorf("Content = %q, want %q", l.Content, tt.want)
			}
			if !l.Time.Equal(ts) {
				t.Errorf("Time = %v, want %v", l.Time, ts)
			}
		})
	}
}

func TestModelTracksState(t *testing.T) {
	var m tea.Model = New(nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	m, _ = m.Update(eventMsg(control.Event{Type: control.EventConnecting, URL: "ws://localhost:8765/ws"}))
	if got := m.(Model).state; got != control.StateConnecting {
		t.Fatalf("state = %v, want connecting", got)
	}

	m, cmd := m.Update(eventMsg(control.Event{Type: control.EventConnected, URL: "ws://localhost:3000/ws"}))
	if cmd == nil {
		t.Fatal("expected follow-up commands after connected event")
	}
	mm := m.(Model)
	if mm.state != control.StateConnected {
		t.Errorf("state = %v, want connected", mm.state)
	}
	if mm.url != "ws://localhost:3000/ws" {
		t.Errorf("url = %q, want the connected url", mm.url)
	}
	if len(mm.lines) != 2 {
		t.Errorf("lines = %d, want 2", len(mm.lines))
	}

	m, _ = m.Update(countsMsg{task.StatusPending: 3, task.StatusCompleted: 1})
	view := m.View()
	for _, want := range []string{"tascade monitor", "connected", "pending 3", "completed 1", "[q] quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m, _ = m.Update(eventMsg(control.Event{Type: control.EventReconnectFailed}))
	if got := m.(Model).state; got != control.StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestModelBoundsLog(t *testing.T) {
	m := New(nil)
	for range maxLines + 25 {
		m.appendLine(EventLine{Time: time.Now(), Type: "message", Content: "x"})
	}
	if len(m.lines) != maxLines {
		t.Errorf("lines = %d, want %d", len(m.lines), maxLines)
	}
}

func TestModelQuit(t *testing.T) {
	m := New(nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestIsTaskUpdate(t *testing.T) {
	push := control.Event{Type: control.EventMessage, Payload: json.RawMessage(`{"event":"task-updated"}`)}
	if !isTaskUpdate(push) {
		t.Error("task-updated push not recognized")
	}
	welcome := control.Event{Type: control.EventWelcome, Payload: json.RawMessage(`{"event":"task-updated"}`)}
	if isTaskUpdate(welcome) {
		t.Error("welcome treated as task update")
	}
}

func TestStyleForFailures(t *testing.T) {
	for _, typ := range []string{
		string(control.EventDisconnected),
		string(control.EventReconnectFailed),
		string(control.EventError),
	} {
		if got := styleForType(typ).GetForeground(); got != tui.ColorDanger {
			t.Errorf("styleForType(%q) foreground = %v, want danger", typ, got)
		}
	}
	if got := styleForType("message").GetForeground(); got != tui.ColorInfo {
		t.Errorf("styleForType(message) foreground = %v, want info", got)
	}
}
