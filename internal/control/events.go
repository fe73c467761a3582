package control

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType categorizes client lifecycle and push events.
type EventType string

const (
	EventConnecting      EventType = "connecting"
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventReconnecting    EventType = "reconnecting"
	EventReconnectFailed EventType = "reconnect_failed"
	EventWelcome         EventType = "welcome"
	EventMessage         EventType = "message" // unsolicited server push
	EventError           EventType = "error"
)

// Event is delivered to client subscribers.
type Event struct {
	Type      EventType
	Timestamp time.Time
	URL       string
	SessionID string
	// Attempt and Delay are set on reconnecting events.
	Attempt int
	Delay   time.Duration
	// Payload holds the raw message for welcome and message events.
	Payload json.RawMessage
	Err     error
}

func newEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now()}
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// eventBus fans events out to subscribers synchronously, in subscription order.
type eventBus struct {
	mu     sync.RWMutex
	nextID int
	order  []int
	subs   map[int]func(Event)
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]func(Event))}
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
