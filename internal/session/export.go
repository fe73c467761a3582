package session

import (
	"fmt"
	"time"
)

// TimestampFormat is the textual form of every exported timestamp.
const TimestampFormat = time.RFC3339Nano

// Export is the serializable form of a context.
type Export struct {
	ID      string           `json:"id"`
	Created string           `json:"created"`
	Updated string           `json:"updated"`
	Data    map[string]any   `json:"data"`
	Steps   []ExportedStep   `json:"steps"`
	History []ExportedRecord `json:"history"`
}

// ExportedStep is a step with a textual timestamp.
type ExportedStep struct {
	Index     int            `json:"index"`
	Name      string         `json:"name"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// ExportedRecord is a history snapshot with a textual timestamp.
type ExportedRecord struct {
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(TimestampFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s timestamp %q: %w", field, s, err)
	}
	return t.UTC(), nil
}

// ExportContext converts a context snapshot to its serializable form.
func ExportContext(c Context) Export {
	exp := Export{
		ID:      c.ID,
		Created: formatTime(c.Created),
		Updated: formatTime(c.Updated),
		Data:    nonNil(cloneMap(c.Data)),
		Steps:   make([]ExportedStep, len(c.Steps)),
		History: make([]ExportedRecord, len(c.History)),
	}
	for i, st := range c.Steps {
		exp.Steps[i] = ExportedStep{
			Index:     st.Index,
			Name:      st.Name,
			Timestamp: formatTime(st.Timestamp),
			Data:      nonNil(cloneMap(st.Data)),
		}
	}
	for i, h := range c.History {
		exp.History[i] = ExportedRecord{Timestamp: formatTime(h.Timestamp), Data: nonNil(cloneMap(h.Data))}
	}
	return exp
}

// Export serializes the context with the given id.
func (m *Manager) Export(id string) (Export, error) {
	c, ok := m.Get(id)
	if !ok {
		return Export{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ExportContext(c), nil
}

// Import restores an exported context, replacing any live context with the
// same id. Steps keep their exported order; history beyond the manager's
// bound keeps only the most recent entries.
func (m *Manager) Import(exp Export) (Context, error) {
	if exp.ID == "" {
		return Context{}, fmt.Errorf("import: missing context id")
	}
	created, err := parseTime("created", exp.Created)
	if err != nil {
		return Context{}, fmt.Errorf("import %s: %w", exp.ID, err)
	}
	updated, err := parseTime("updated", exp.Updated)
	if err != nil {
		return Context{}, fmt.Errorf("import %s: %w", exp.ID, err)
	}

	s := &session{
		id:      exp.ID,
		created: created,
		updated: updated,
		data:    nonNil(cloneMap(exp.Data)),
		steps:   make([]Step, 0, len(exp.Steps)),
		history: NewRing[Snapshot](m.maxHistory),
	}
	for i, st := range exp.Steps {
		ts, err := parseTime(fmt.Sprintf("step %d", i), st.Timestamp)
		if err != nil {
			return Context{}, fmt.Errorf("import %s: %w", exp.ID, err)
		}
		s.steps = append(s.steps, Step{Index: st.Index, Name: st.Name, Timestamp: ts, Data: nonNil(cloneMap(st.Data))})
	}
	for i, h := range exp.History {
		ts, err := parseTime(fmt.Sprintf("history %d", i), h.Timestamp)
		if err != nil {
			return Context{}, fmt.Errorf("import %s: %w", exp.ID, err)
		}
		s.history.Push(Snapshot{Timestamp: ts, Data: nonNil(cloneMap(h.Data))})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
	return s.snapshot(), nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
