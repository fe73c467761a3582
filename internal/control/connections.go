package control

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is one live WebSocket connection. Writes are serialized because
// gorilla/websocket supports a single concurrent writer.
type Conn struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	ws      *websocket.Conn
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func newConn(ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:          uuid.NewString(),
		RemoteAddr:  ws.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		ws:          ws,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send writes one text frame.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close cancels in-flight handler contexts and closes the socket.
func (c *Conn) Close() error {
	c.cancel()
	return c.ws.Close()
}

// ConnectionInfo is the public view of a connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ConnectionRegistry tracks live connections by id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*Conn)}
}

func (r *ConnectionRegistry) add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

func (r *ConnectionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the live connections ordered by connect time.
func (r *ConnectionRegistry) Snapshot() []*Conn {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(conns, func(a, b *Conn) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return conns
}

// Info lists the public details of every live connection.
func (r *ConnectionRegistry) Info() []ConnectionInfo {
	conns := r.Snapshot()
	infos := make([]ConnectionInfo, len(conns))
	for i, c := range conns {
		infos[i] = ConnectionInfo{ID: c.ID, RemoteAddr: c.RemoteAddr, ConnectedAt: c.ConnectedAt}
	}
	return infos
}
