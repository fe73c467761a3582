package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drewfead/tascade/internal/logging"
)

// Client defaults.
const (
	DefaultRequestTimeout       = 30 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectBaseDelay   = 2 * time.Second
	DefaultProbeTimeout         = time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
)

// ClientState is the connection state of a Client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ClientOptions configures a Client.
type ClientOptions struct {
	URL            string
	RequestTimeout time.Duration
	// MaxReconnectAttempts bounds automatic reconnection. Negative disables it.
	MaxReconnectAttempts int
	// ReconnectBaseDelay is multiplied by the attempt number.
	ReconnectBaseDelay time.Duration
	// PortProviders supply alternate ports probed from the second reconnect
	// attempt onward. Nil selects DefaultPortProviders; an empty slice disables probing.
	PortProviders    []PortProvider
	ProbeTimeout     time.Duration
	HandshakeTimeout time.Duration
	// SessionID is sent as the request context. One is generated on connect when empty.
	SessionID string
}

func (o *ClientOptions) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	switch {
	case o.MaxReconnectAttempts == 0:
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	case o.MaxReconnectAttempts < 0:
		o.MaxReconnectAttempts = 0
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.PortProviders == nil {
		o.PortProviders = DefaultPortProviders()
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Result is a successful response with the handler fields merged at top level.
type Result map[string]any

// Decode converts the result into v.
func (r Result) Decode(v any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SendOption customizes a single SendCommand call.
type SendOption func(*sendConfig)

type sendConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the request timeout for one call.
func WithTimeout(d time.Duration) SendOption {
	return func(c *sendConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type response struct {
	payload map[string]json.RawMessage
	raw     []byte
	err     error
}

type pendingRequest struct {
	id      string
	command string
	sentAt  time.Time
	order   uint64
	timer   *time.Timer
	result  chan response
	once    sync.Once
}

func (p *pendingRequest) settle(r response) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.result <- r
	})
}

// Client is a reconnecting RPC client for the command protocol.
//
// Responses are matched to requests by id. A response that carries no id but
// names a command is matched to the earliest outstanding request for that
// command; with several concurrent requests for the same command this is
// best effort only.
type Client struct {
	opts ClientOptions
	bus  *eventBus

	connectMu sync.Mutex
	writeMu   sync.Mutex
	sequence  atomic.Int64

	mu              sync.Mutex
	url             *url.URL
	state           ClientState
	ws              *websocket.Conn
	sessionID       string
	intentional     bool
	attempts        int
	pending         map[string]*pendingRequest
	nextOrder       uint64
	tools           []ToolInfo
	reconnectCancel context.CancelFunc
}

// NewClient creates a client. It does not connect.
func NewClient(opts ClientOptions) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", opts.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be ws or wss", opts.URL)
	}
	opts.applyDefaults()
	return &Client{
		opts:      opts,
		bus:       newEventBus(),
		url:       u,
		sessionID: opts.SessionID,
		pending:   make(map[string]*pendingRequest),
	}, nil
}

// Subscribe registers fn for every client event and returns a function that
// removes it. Listeners run on the client's read goroutine and must not block.
func (c *Client) Subscribe(fn func(Event)) func() {
	return c.bus.subscribe(fn)
}

// State returns the current connection state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the server URL currently in use, which changes after a port switch.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url.String()
}

// SessionID returns the session id sent with every request.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID changes the session id sent with subsequent requests.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Pending returns the number of outstanding requests.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Tools returns a copy of the last successful discovery.
func (c *Client) Tools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connect dials the server. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	return c.dial(ctx, StateConnecting)
}

func (c *Client) dial(ctx context.Context, during ClientState) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = during
	target := c.url.String()
	c.mu.Unlock()

	if during == StateConnecting {
		c.bus.publish(Event{Type: EventConnecting, Timestamp: time.Now(), URL: target})
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.mu.Lock()
		if c.state == during {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	c.mu.Lock()
	if during == StateReconnecting && ctx.Err() != nil {
		// Disconnect won the race against this reconnect.
		if c.state == during {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		ws.Close()
		return fmt.Errorf("failed to connect to %s: %w", target, ctx.Err())
	}
	c.ws = ws
	c.state = StateConnected
	c.attempts = 0
	if c.sessionID == "" {
		c.sessionID = newSessionID()
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	logging.Debug("connected to server", "url", target, "session", sessionID)
	c.bus.publish(Event{Type: EventConnected, Timestamp: time.Now(), URL: target, SessionID: sessionID})

	go c.readLoop(ws)
	return nil
}

// Disconnect closes the connection, rejects every pending request with
// ErrConnectionClosed and suppresses the automatic reconnect for this close.
func (c *Client) Disconnect(reason string) error {
	c.mu.Lock()
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	if ws != nil {
		c.intentional = true
	}
	pending := c.drainPendingLocked()
	c.mu.Unlock()

	for _, p := range pending {
		p.settle(response{err: ErrConnectionClosed})
	}
	if ws == nil {
		return nil
	}

	if reason == "" {
		reason = "client disconnect"
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return ws.Close()
}

// Close is Disconnect with a default reason.
func (c *Client) Close() error {
	return c.Disconnect("client closed")
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleClose(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	intentional := c.intentional
	c.intentional = false
	current := c.ws == ws
	var pending []*pendingRequest
	if current {
		c.ws = nil
		c.state = StateDisconnected
		pending = c.drainPendingLocked()
	}
	// The reconnect context is installed before any listener runs so that a
	// Disconnect issued from a disconnected-event handler cancels it.
	var reconnectCtx context.Context
	if current && !intentional {
		if c.reconnectCancel != nil {
			c.reconnectCancel()
		}
		var cancel context.CancelFunc
		reconnectCtx, cancel = context.WithCancel(context.Background())
		c.reconnectCancel = cancel
	}
	target := c.url.String()
	c.mu.Unlock()

	ws.Close()
	for _, p := range pending {
		p.settle(response{err: ErrConnectionClosed})
	}

	c.bus.publish(Event{Type: EventDisconnected, Timestamp: time.Now(), URL: target, Err: cause})

	if reconnectCtx != nil {
		logging.Warn("connection lost", "url", target, "error", cause)
		go c.attemptReconnect(reconnectCtx)
	}
}

// attemptReconnect retries with a linear backoff until the attempt budget is
// spent or ctx is cancelled by Disconnect.
func (c *Client) attemptReconnect(ctx context.Context) {
	for {
		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.opts.MaxReconnectAttempts {
			c.state = StateDisconnected
			attempts := c.attempts
			target := c.url.String()
			c.mu.Unlock()
			logging.Error("giving up reconnecting", "url", target, "attempts", attempts)
			e := newEvent(EventReconnectFailed)
			e.URL = target
			e.Attempt = attempts
			e.Err = ErrReconnectFailed
			c.bus.publish(e)
			return
		}
		c.attempts++
		attempt := c.attempts
		c.state = StateReconnecting
		c.mu.Unlock()

		delay := c.opts.ReconnectBaseDelay * time.Duration(attempt)
		e := newEvent(EventReconnecting)
		e.URL = c.URL()
		e.Attempt = attempt
		e.Delay = delay
		c.bus.publish(e)
		logging.Info("reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if attempt >= 2 {
			c.probeAlternatePorts(ctx)
		}

		err := c.dial(ctx, StateReconnecting)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		logging.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
		e = newEvent(EventError)
		e.Attempt = attempt
		e.Err = err
		c.bus.publish(e)
	}
}

// probeAlternatePorts switches the client URL to the first candidate port that accepts a TCP connection.
func (c *Client) probeAlternatePorts(ctx context.Context) {
	c.mu.Lock()
	current := c.url
	c.mu.Unlock()

	for _, port := range candidatePorts(c.opts.PortProviders, urlPort(current)) {
		if ctx.Err() != nil {
			return
		}
		if !probePort(ctx, current.Hostname(), port, c.opts.ProbeTimeout) {
			continue
		}
		next := withPort(current, port)
		c.mu.Lock()
		c.url = next
		c.mu.Unlock()
		logging.Info("switching to alternate port", "from", current.String(), "to", next.String())
		return
	}
}

func (c *Client) handleMessage(data []byte) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		e := newEvent(EventError)
		e.Payload = data
		e.Err = fmt.Errorf("invalid message from server: %w", err)
		c.bus.publish(e)
		return
	}

	if isWelcome(payload) {
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = newSessionID()
		}
		sessionID := c.sessionID
		c.mu.Unlock()
		e := newEvent(EventWelcome)
		e.SessionID = sessionID
		e.Payload = data
		c.bus.publish(e)
		return
	}

	resp := response{payload: payload, raw: data}

	if id := rawString(payload, "id"); id != "" {
		c.mu.Lock()
		p, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			p.settle(resp)
			return
		}
	} else if _, hasID := payload["id"]; !hasID {
		if command := rawString(payload, "command"); command != "" {
			if p := c.takeByCommand(command); p != nil {
				p.settle(resp)
				return
			}
		}
	}

	e := newEvent(EventMessage)
	e.Payload = data
	c.bus.publish(e)
}

// takeByCommand removes and returns the earliest outstanding request for command.
// With several in-flight requests of the same name the pairing may be wrong;
// it only serves servers that omit the response id.
func (c *Client) takeByCommand(command string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var match *pendingRequest
	for _, p := range c.pending {
		if p.command != command {
			continue
		}
		if match == nil || p.order < match.order {
			match = p
		}
	}
	if match != nil {
		delete(c.pending, match.id)
	}
	return match
}

func (c *Client) drainPendingLocked() []*pendingRequest {
	pending := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		pending = append(pending, p)
		delete(c.pending, id)
	}
	return pending
}

func (c *Client) expire(id string, after time.Duration) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		p.settle(response{err: &TimeoutError{Command: p.command, ID: id, After: after}})
	}
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// SendCommand sends a command and waits for its response, connecting first
// if needed. Server-reported failures are returned as *CommandError and
// timeouts as *TimeoutError.
func (c *Client) SendCommand(ctx context.Context, command string, params any, opts ...SendOption) (Result, error) {
	cfg := sendConfig{timeout: c.opts.RequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if c.State() != StateConnected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	rawParams := json.RawMessage(`{}`)
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params for %s: %w", command, err)
		}
		rawParams = encoded
	}

	id := uuid.NewString()
	seq := c.sequence.Add(1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	var sessionID *string
	if c.sessionID != "" {
		s := c.sessionID
		sessionID = &s
	}
	c.nextOrder++
	p := &pendingRequest{
		id:      id,
		command: command,
		sentAt:  time.Now(),
		order:   c.nextOrder,
		result:  make(chan response, 1),
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(cfg.timeout, func() { c.expire(id, cfg.timeout) })
	c.mu.Unlock()

	data, err := json.Marshal(Request{
		ID:       id,
		Command:  command,
		Params:   rawParams,
		Context:  sessionID,
		Sequence: seq,
	})
	if err != nil {
		c.removePending(id)
		p.settle(response{err: err})
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		p.settle(response{err: err})
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case r := <-p.result:
		return decodeResponse(command, r)
	case <-ctx.Done():
		c.removePending(id)
		p.settle(response{err: ctx.Err()})
		return nil, ctx.Err()
	}
}

func decodeResponse(command string, r response) (Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	if hasError(r.payload) {
		return nil, decodeCommandError(command, r.payload["error"])
	}
	var result Result
	if err := json.Unmarshal(r.raw, &result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", command, err)
	}
	return result, nil
}

// DiscoverTools fetches the server's command list and replaces the local
// cache. On failure the previous cache is kept.
func (c *Client) DiscoverTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := c.SendCommand(ctx, "list-tools", nil)
	if err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	var body struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}

	tools := make([]ToolInfo, len(body.Tools))
	copy(tools, body.Tools)
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return body.Tools, nil
}

// BatchCommand is one entry of a batch.
type BatchCommand struct {
	Command string `json:"command" yaml:"command"`
	Params  any    `json:"params,omitempty" yaml:"params,omitempty"`
}

// BatchResult records the outcome of one batch entry.
type BatchResult struct {
	Command string
	Result  Result
	Err     error
}

// BatchOptions controls BatchCommands. The zero value stops at the first error.
type BatchOptions struct {
	ContinueOnError bool
	Timeout         time.Duration
}

// BatchCommands sends commands one at a time, in order. Unless
// ContinueOnError is set, the first failure ends the batch and later
// commands are not sent.
func (c *Client) BatchCommands(ctx context.Context, cmds []BatchCommand, opts BatchOptions) []BatchResult {
	var sendOpts []SendOption
	if opts.Timeout > 0 {
		sendOpts = append(sendOpts, WithTimeout(opts.Timeout))
	}

	results := make([]BatchResult, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := c.SendCommand(ctx, cmd.Command, cmd.Params, sendOpts...)
		results = append(results, BatchResult{Command: cmd.Command, Result: res, Err: err})
		if err != nil && !opts.ContinueOnError {
			break
		}
	}
	return results
}

func newSessionID() string {
	return "session_" + uuid.NewString()
}
