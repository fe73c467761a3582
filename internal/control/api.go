// Package control implements the WebSocket command protocol: the server-side
// dispatcher with its registries, and the reconnecting RPC client.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drewfead/tascade/internal/logging"
)

// DefaultPath is the HTTP path the WebSocket endpoint is mounted on.
const DefaultPath = "/ws"

// ServerOptions configures a Server.
type ServerOptions struct {
	Name    string
	Version string
	Path    string
	// Now is used for response timestamps; defaults to time.Now.
	Now func() time.Time
}

// Server accepts WebSocket connections and dispatches commands to the
// handlers in its registry. Each Server owns its registries.
type Server struct {
	name    string
	version string
	path    string
	now     func() time.Time

	commands  *Registry
	resources *ResourceStore
	conns     *ConnectionRegistry

	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	done     chan struct{}
	stopped  bool
}

// NewServer creates a server with the built-in discovery commands registered.
func NewServer(opts ServerOptions) *Server {
	if opts.Name == "" {
		opts.Name = "tascade"
	}
	if opts.Version == "" {
		opts.Version = "0.0.0"
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		name:      opts.Name,
		version:   opts.Version,
		path:      opts.Path,
		now:       opts.Now,
		commands:  NewRegistry(),
		resources: NewResourceStore(),
		conns:     NewConnectionRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	s.registerBuiltins()
	return s
}

// Name returns the advertised server name.
func (s *Server) Name() string { return s.name }

// Version returns the advertised server version.
func (s *Server) Version() string { return s.version }

// Commands returns the server's command registry.
func (s *Server) Commands() *Registry { return s.commands }

// Resources returns the server's resource store.
func (s *Server) Resources() *ResourceStore { return s.resources }

// Connections returns the registry of live connections.
func (s *Server) Connections() *ConnectionRegistry { return s.conns }

// Handle registers a command handler.
func (s *Server) Handle(name string, handler HandlerFunc, schema Schema) {
	s.commands.Register(name, handler, schema)
}

// Start listens on addr and serves the WebSocket endpoint in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s)

	s.mu.Lock()
	s.listener = listener
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpSrv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("websocket server stopped", "addr", addr, "error", err)
		}
	}()

	logging.Info("websocket server listening", "addr", listener.Addr().String(), "path", s.path)
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every live connection.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	srv := s.httpSrv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range s.conns.Snapshot() {
		c.Close()
	}
	return err
}

// Broadcast sends an unsolicited payload to every live connection.
func (s *Server) Broadcast(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	for _, c := range s.conns.Snapshot() {
		if err := c.Send(data); err != nil {
			logging.Debug("broadcast write failed", "conn", c.ID, "error", err)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.handleConnection(newConn(ws))
}

func (s *Server) handleConnection(conn *Conn) {
	s.conns.add(conn)
	logging.Info("client connected", "conn", conn.ID, "remote", conn.RemoteAddr)

	defer func() {
		s.conns.remove(conn.ID)
		conn.Close()
		logging.Info("client disconnected", "conn", conn.ID)
	}()

	welcome, _ := json.Marshal(newWelcome(s.name, s.version, s.now()))
	if err := conn.Send(welcome); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("connection read ended", "conn", conn.ID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		go s.dispatch(conn, data)
	}
}

// dispatch handles one inbound message. It always writes exactly one response.
func (s *Server) dispatch(conn *Conn, data []byte) {
	resp := s.process(conn, data)
	if err := conn.Send(resp); err != nil {
		logging.Debug("response write failed", "conn", conn.ID, "error", err)
	}
}

func (s *Server) process(conn *Conn, data []byte) []byte {
	var req inboundRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeError(nil, ErrorBody{Code: CodeInvalidJSON, Message: "Invalid JSON: " + err.Error()}, s.now())
	}
	if req.Command == "" {
		return encodeError(req.ID, ErrorBody{Code: CodeMissingCommand, Message: "Missing command"}, s.now())
	}

	logging.Info("command received", "command", req.Command, "conn", conn.ID, "id", requestIDString(req.ID))

	cmd, ok := s.commands.Lookup(req.Command)
	if !ok {
		return encodeError(req.ID, ErrorBody{
			Code:    CodeUnknownCommand,
			Message: "Unknown command: " + req.Command,
		}, s.now())
	}

	call := &Call{
		Command:   req.Command,
		RequestID: requestIDString(req.ID),
		Sequence:  req.Sequence,
		Conn:      conn,
	}
	if req.Context != nil {
		call.SessionID = *req.Context
	}

	result, err := s.invoke(conn.Context(), cmd, req.Params, call)
	if err != nil {
		var coded *Error
		if errors.As(err, &coded) {
			return encodeError(req.ID, ErrorBody{Code: coded.Code, Message: coded.Message}, s.now())
		}
		return encodeError(req.ID, err.Error(), s.now())
	}

	encoded, err := encodeSuccess(req.ID, result, s.now())
	if err != nil {
		logging.Error("failed to encode response", "command", req.Command, "error", err)
		return encodeError(req.ID, ErrorBody{Code: CodeInternalError, Message: err.Error()}, s.now())
	}
	return encoded
}

// invoke runs the handler, converting a panic into an error.
func (s *Server) invoke(ctx context.Context, cmd Command, params json.RawMessage, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "command", cmd.Name, "stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return cmd.Handler(ctx, params, call)
}

func requestIDString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
