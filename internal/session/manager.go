// Package session tracks named contexts: a bag of state, an append-only step
// log and a bounded history of prior states.
package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxHistory bounds both per-context history and the tombstone list.
const DefaultMaxHistory = 10

// ErrNotFound is returned for operations on an unknown context id.
var ErrNotFound = errors.New("context not found")

// Step is one entry of a context's audit trail.
type Step struct {
	Index     int
	Name      string
	Timestamp time.Time
	Data      map[string]any
}

// Snapshot is the data of a context as it was before an update.
type Snapshot struct {
	Timestamp time.Time
	Data      map[string]any
}

// Context is a point-in-time copy of a session. Mutating it does not affect the manager.
type Context struct {
	ID      string
	Created time.Time
	Updated time.Time
	Data    map[string]any
	Steps   []Step
	History []Snapshot
}

// Summary is the short listing form of a context.
type Summary struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
	Steps   int       `json:"steps"`
	Active  bool      `json:"active"`
}

// Tombstone records a deleted context.
type Tombstone struct {
	Context   Context
	DeletedAt time.Time
}

type session struct {
	id      string
	created time.Time
	updated time.Time
	data    map[string]any
	steps   []Step
	history *Ring[Snapshot]
}

func (s *session) snapshot() Context {
	steps := make([]Step, len(s.steps))
	for i, st := range s.steps {
		steps[i] = Step{Index: st.Index, Name: st.Name, Timestamp: st.Timestamp, Data: cloneMap(st.Data)}
	}
	history := s.history.Items()
	for i := range history {
		history[i].Data = cloneMap(history[i].Data)
	}
	return Context{
		ID:      s.id,
		Created: s.created,
		Updated: s.updated,
		Data:    cloneMap(s.data),
		Steps:   steps,
		History: history,
	}
}

// Options configures a Manager.
type Options struct {
	MaxHistory int
	Now        func() time.Time
}

// Manager owns every live context and the "active" pointer.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*session
	active     string
	tombstones *Ring[Tombstone]
	maxHistory int
	now        func() time.Time
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		sessions:   make(map[string]*session),
		tombstones: NewRing[Tombstone](opts.MaxHistory),
		maxHistory: opts.MaxHistory,
		now:        opts.Now,
	}
}

// MaxHistory returns the configured history bound.
func (m *Manager) MaxHistory() int { return m.maxHistory }

// NewID returns an id of the form ctx_<unixmillis>_<random>.
func (m *Manager) NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("ctx_%d_%s", m.now().UnixMilli(), suffix)
}

func (m *Manager) newSessionLocked(id string, data map[string]any) *session {
	now := m.now()
	s := &session{
		id:      id,
		created: now,
		updated: now,
		data:    cloneMap(data),
		history: NewRing[Snapshot](m.maxHistory),
	}
	if s.data == nil {
		s.data = map[string]any{}
	}
	m.sessions[id] = s
	return s
}

// Create starts a new context and makes it active. An empty id gets a
// generated one. Creating an id that already exists merges initial into it.
func (m *Manager) Create(id string, initial map[string]any) Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.NewID()
	}
	if _, ok := m.sessions[id]; ok {
		return m.updateLocked(id, initial, true)
	}
	s := m.newSessionLocked(id, initial)
	m.active = id
	return s.snapshot()
}

// Update changes a context's data, creating the context if needed. The prior
// data is pushed onto the history ring first. With merge the new keys are
// laid over the existing ones; otherwise data replaces them.
func (m *Manager) Update(id string, data map[string]any, merge bool) Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, data, merge)
}

func (m *Manager) updateLocked(id string, data map[string]any, merge bool) Context {
	s, ok := m.sessions[id]
	if !ok {
		s = m.newSessionLocked(id, nil)
	}

	now := m.now()
	s.history.Push(Snapshot{Timestamp: now, Data: cloneMap(s.data)})

	if merge {
		for k, v := range data {
			s.data[k] = cloneValue(v)
		}
	} else {
		s.data = cloneMap(data)
		if s.data == nil {
			s.data = map[string]any{}
		}
	}
	s.updated = now
	return s.snapshot()
}

// AddStep appends a step to the context's audit trail, creating the context if needed.
func (m *Manager) AddStep(id, name string, data map[string]any) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = m.newSessionLocked(id, nil)
	}
	if data == nil {
		data = map[string]any{}
	}
	now := m.now()
	step := Step{Index: len(s.steps), Name: name, Timestamp: now, Data: cloneMap(data)}
	s.steps = append(s.steps, step)
	s.updated = now
	return Step{Index: step.Index, Name: name, Timestamp: now, Data: cloneMap(step.Data)}
}

// Get returns a copy of the context.
func (m *Manager) Get(id string) (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Context{}, false
	}
	return s.snapshot(), true
}

// Delete moves the context to the tombstone list. It reports whether the id existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	m.tombstones.Push(Tombstone{Context: s.snapshot(), DeletedAt: m.now()})
	delete(m.sessions, id)
	if m.active == id {
		m.active = ""
	}
	return true
}

// SetActive marks an existing context as active.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.active = id
	return nil
}

// Active returns the active context, if any.
func (m *Manager) Active() (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return Context{}, false
	}
	s, ok := m.sessions[m.active]
	if !ok {
		return Context{}, false
	}
	return s.snapshot(), true
}

// ActiveID returns the active context id, or "".
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// List summarizes every live context, oldest first.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Summary{
			ID:      s.id,
			Created: s.created,
			Updated: s.updated,
			Steps:   len(s.steps),
			Active:  s.id == m.active,
		})
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Summary) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Tombstones returns deleted contexts, oldest first.
func (m *Manager) Tombstones() []Tombstone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tombstones.Items()
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
