package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects client events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	signal chan EventType
}

func recordEvents(c *Client) *eventRecorder {
	r := &eventRecorder{signal: make(chan EventType, 64)}
	c.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		select {
		case r.signal <- e.Type:
		default:
		}
	})
	return r
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, want EventType, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case got := <-r.signal:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestClientEcho(t *testing.T) {
	_, _, url := newTestServer(t)
	c := newTestClient(t, url)

	res, err := c.SendCommand(context.Background(), "echo", map[string]any{"value": 42})
	require.NoError(t, err)
	assert.EqualValues(t, 42, res["value"])
	assert.Contains(t, res, "timestamp")
	assert.NotContains(t, res, "error")
	assert.Equal(t, StateConnected, c.State())
	assert.NotEmpty(t, c.SessionID())
	assert.Zero(t, c.Pending())
}

func TestClientUnknownCommand(t *testing.T) {
	_, _, url := newTestServer(t)
	c := newTestClient(t, url)

	_, err := c.SendCommand(context.Background(), "does-not-exist", map[string]any{})
	require.Error(t, err)
	assert.Regexp(t, `Unknown command: does-not-exist`, err.Error())

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, CodeUnknownCommand, cmdErr.Code)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestClientEnvelope(t *testing.T) {
	srv, _, url := newTestServer(t)

	var mu sync.Mutex
	var calls []Call
	srv.Handle("record", func(_ context.Context, _ json.RawMessage, call *Call) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, *call)
		return nil, nil
	}, Schema{})

	c := newTestClient(t, url, func(o *ClientOptions) { o.SessionID = "session-abc" })
	for range 3 {
		_, err := c.SendCommand(context.Background(), "record", nil)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.EqualValues(t, i+1, call.Sequence)
		assert.Equal(t, "session-abc", call.SessionID)
		assert.NotEmpty(t, call.RequestID)
	}
	assert.NotEqual(t, calls[0].RequestID, calls[1].RequestID)
}

func TestClientTimeout(t *testing.T) {
	srv, _, url := newTestServer(t)
	srv.Handle("hang", func(ctx context.Context, _ json.RawMessage, _ *Call) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Schema{})

	c := newTestClient(t, url)
	require.NoError(t, c.Connect(context.Background()))

	timeout := 80 * time.Millisecond
	start := time.Now()
	_, err := c.SendCommand(context.Background(), "hang", nil, WithTimeout(timeout))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "hang", te.Command)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
	assert.Zero(t, c.Pending())
}

func TestClientDisconnectRejectsPending(t *testing.T) {
	srv, _, url := newTestServer(t)
	srv.Handle("hang", func(ctx context.Context, _ json.RawMessage, _ *Call) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Schema{})

	c := newTestClient(t, url)
	events := recordEvents(c)
	require.NoError(t, c.Connect(context.Background()))

	const n = 3
	errs := make(chan error, n)
	for range n {
		go func() {
			_, err := c.SendCommand(context.Background(), "hang", nil)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return c.Pending() == n }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect("test"))

	for range n {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrConnectionClosed)
		case <-time.After(time.Second):
			t.Fatal("pending request was not rejected")
		}
	}
	assert.Zero(t, c.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, events.ofType(EventReconnecting))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientReconnectBackoff(t *testing.T) {
	srv, ts, url := newTestServer(t)

	base := 20 * time.Millisecond
	c := newTestClient(t, url, func(o *ClientOptions) {
		o.MaxReconnectAttempts = 3
		o.ReconnectBaseDelay = base
	})
	events := recordEvents(c)
	require.NoError(t, c.Connect(context.Background()))

	ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	events.waitFor(t, EventReconnectFailed, 3*time.Second)

	reconnecting := events.ofType(EventReconnecting)
	require.Len(t, reconnecting, 3)
	for i, e := range reconnecting {
		assert.Equal(t, i+1, e.Attempt)
		assert.Equal(t, base*time.Duration(i+1), e.Delay)
	}
	for i := 1; i < len(reconnecting); i++ {
		assert.Greater(t, reconnecting[i].Delay, reconnecting[i-1].Delay)
	}

	failed := events.ofType(EventReconnectFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrReconnectFailed)
	assert.Len(t, events.ofType(EventConnected), 1)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientReconnectSucceeds(t *testing.T) {
	srv, _, url := newTestServer(t)

	c := newTestClient(t, url)
	events := recordEvents(c)
	require.NoError(t, c.Connect(context.Background()))
	sessionID := c.SessionID()

	// Drop the server side of the connection while the listener stays up.
	for _, conn := range srv.Connections().Snapshot() {
		conn.Close()
	}

	require.Eventually(t, func() bool {
		return len(events.ofType(EventConnected)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sessionID, c.SessionID())

	res, err := c.SendCommand(context.Background(), "echo", map[string]any{"value": "again"})
	require.NoError(t, err)
	assert.Equal(t, "again", res["value"])
}

func TestClientDisconnectDuringDropStopsReconnect(t *testing.T) {
	srv, _, url := newTestServer(t)

	c := newTestClient(t, url)
	events := recordEvents(c)
	c.Subscribe(func(e Event) {
		if e.Type == EventDisconnected {
			c.Disconnect("user quit")
		}
	})
	require.NoError(t, c.Connect(context.Background()))

	for _, conn := range srv.Connections().Snapshot() {
		conn.Close()
	}
	events.waitFor(t, EventDisconnected, 2*time.Second)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, events.ofType(EventReconnecting))
	assert.Len(t, events.ofType(EventConnected), 1)
}

func TestClientPortProbe(t *testing.T) {
	primary, primaryTS, url := newTestServer(t)
	_, fallbackTS, _ := newTestServer(t)
	fallbackPort := fallbackTS.Listener.Addr().(*net.TCPAddr).Port

	c := newTestClient(t, url, func(o *ClientOptions) {
		o.MaxReconnectAttempts = 3
		o.PortProviders = []PortProvider{StaticPorts{fallbackPort}}
	})
	events := recordEvents(c)
	require.NoError(t, c.Connect(context.Background()))

	primaryTS.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, primary.Stop(ctx))

	require.Eventually(t, func() bool {
		return len(events.ofType(EventConnected)) == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.Contains(t, c.URL(), ":"+strconv.Itoa(fallbackPort))
	// The first attempt retries the original port; probing starts on the second.
	assert.Len(t, events.ofType(EventReconnecting), 2)
	assert.Empty(t, events.ofType(EventReconnectFailed))
}

func TestClientDiscoverTools(t *testing.T) {
	srv, _, url := newTestServer(t)
	c := newTestClient(t, url)

	tools, err := c.DiscoverTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 4)
	assert.Equal(t, tools, c.Tools())

	t.Run("failure keeps the cache", func(t *testing.T) {
		srv.Handle("list-tools", func(context.Context, json.RawMessage, *Call) (any, error) {
			return nil, errors.New("discovery unavailable")
		}, Schema{})

		_, err := c.DiscoverTools(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "discovery unavailable")
		assert.Equal(t, tools, c.Tools())
	})

	t.Run("success replaces the cache", func(t *testing.T) {
		srv.Handle("list-tools", func(context.Context, json.RawMessage, *Call) (any, error) {
			return map[string]any{
				"success": true,
				"tools":   []ToolInfo{{Name: "only", Description: "the only tool", Parameters: []Param{}}},
			}, nil
		}, Schema{})

		replaced, err := c.DiscoverTools(context.Background())
		require.NoError(t, err)
		require.Len(t, replaced, 1)

		cached := c.Tools()
		require.Len(t, cached, 1)
		assert.Equal(t, "only", cached[0].Name)
	})
}

func TestClientBatchCommands(t *testing.T) {
	srv, _, url := newTestServer(t)

	var mu sync.Mutex
	var seen []string
	srv.Handle("mark", func(_ context.Context, params json.RawMessage, _ *Call) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		json.Unmarshal(params, &p)
		mu.Lock()
		seen = append(seen, p.Name)
		mu.Unlock()
		if p.Name == "bad" {
			return nil, errors.New("bad mark")
		}
		return map[string]string{"marked": p.Name}, nil
	}, Schema{})

	batch := []BatchCommand{
		{Command: "mark", Params: map[string]string{"name": "one"}},
		{Command: "mark", Params: map[string]string{"name": "bad"}},
		{Command: "mark", Params: map[string]string{"name": "three"}},
	}

	c := newTestClient(t, url)

	t.Run("stops on first error by default", func(t *testing.T) {
		mu.Lock()
		seen = nil
		mu.Unlock()

		results := c.BatchCommands(context.Background(), batch, BatchOptions{})
		require.Len(t, results, 2)
		assert.NoError(t, results[0].Err)
		assert.Equal(t, "one", results[0].Result["marked"])
		assert.EqualError(t, results[1].Err, "bad mark")

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"one", "bad"}, seen)
	})

	t.Run("continue on error", func(t *testing.T) {
		mu.Lock()
		seen = nil
		mu.Unlock()

		results := c.BatchCommands(context.Background(), batch, BatchOptions{ContinueOnError: true})
		require.Len(t, results, 3)
		assert.Error(t, results[1].Err)
		assert.Equal(t, "three", results[2].Result["marked"])

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"one", "bad", "three"}, seen)
	})
}

// idlessServer replies without ids, naming the command instead.
func idlessServer(t *testing.T, handle func(ws *websocket.Conn, received <-chan map[string]any)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteJSON(map[string]string{"message": "Welcome to idless v0.0.1", "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})

		received := make(chan map[string]any, 16)
		go func() {
			defer close(received)
			for {
				var msg map[string]any
				if err := ws.ReadJSON(&msg); err != nil {
					return
				}
				received <- msg
			}
		}()
		handle(ws, received)
	}))
	t.Cleanup(ts.Close)
	return wsURL(ts)
}

func TestClientMatchByCommandName(t *testing.T) {
	firstSeen := make(chan struct{})
	url := idlessServer(t, func(ws *websocket.Conn, received <-chan map[string]any) {
		<-received
		close(firstSeen)
		<-received
		ws.WriteJSON(map[string]any{"command": "ping", "n": 1})
		ws.WriteJSON(map[string]any{"command": "ping", "n": 2})
		for range received {
		}
	})

	c := newTestClient(t, url)
	require.NoError(t, c.Connect(context.Background()))

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		res, err := c.SendCommand(context.Background(), "ping", nil)
		first <- outcome{res, err}
	}()
	<-firstSeen
	go func() {
		res, err := c.SendCommand(context.Background(), "ping", nil)
		second <- outcome{res, err}
	}()

	a := <-first
	require.NoError(t, a.err)
	assert.EqualValues(t, 1, a.res["n"])

	b := <-second
	require.NoError(t, b.err)
	assert.EqualValues(t, 2, b.res["n"])
}

func TestClientWelcomeAndPush(t *testing.T) {
	url := idlessServer(t, func(ws *websocket.Conn, received <-chan map[string]any) {
		ws.WriteJSON(map[string]any{"event": "task-updated", "task": map[string]any{"id": "1"}})
		ws.WriteJSON(map[string]any{"id": "not-pending", "value": 1})
		for range received {
		}
	})

	c := newTestClient(t, url)
	events := recordEvents(c)
	require.NoError(t, c.Connect(context.Background()))

	events.waitFor(t, EventWelcome, time.Second)
	require.Eventually(t, func() bool {
		return len(events.ofType(EventMessage)) == 2
	}, time.Second, 10*time.Millisecond)

	welcome := events.ofType(EventWelcome)[0]
	assert.Equal(t, c.SessionID(), welcome.SessionID)

	var push struct {
		Event string `json:"event"`
	}
	require.NoError(t, events.ofType(EventMessage)[0].Decode(&push))
	assert.Equal(t, "task-updated", push.Event)
}

func TestClientSubscribeUnsubscribe(t *testing.T) {
	_, _, url := newTestServer(t)
	c := newTestClient(t, url)

	var mu sync.Mutex
	count := 0
	unsubscribe := c.Subscribe(func(e Event) {
		if e.Type == EventConnected {
			mu.Lock()
			count++
			mu.Unlock()
		}
	})
	require.NoError(t, c.Connect(context.Background()))
	unsubscribe()
	unsubscribe()

	require.NoError(t, c.Disconnect("done"))
	require.NoError(t, c.Connect(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(ClientOptions{URL: "http://localhost:1"})
	assert.Error(t, err)

	_, err = NewClient(ClientOptions{URL: "://"})
	assert.Error(t, err)
}
