package control

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	srv := NewServer(ServerOptions{Name: "test-server", Version: "1.2.3"})
	srv.Handle("echo", func(_ context.Context, params json.RawMessage, _ *Call) (any, error) {
		var p struct {
			Value any `json:"value"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return map[string]any{"value": p.Value}, nil
	}, Schema{
		Description: "Echo a value back",
		Params:      []Param{{Name: "value", Type: "any", Required: true}},
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, ts, wsURL(ts)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + DefaultPath
}

func newTestClient(t *testing.T, url string, mutate ...func(*ClientOptions)) *Client {
	t.Helper()
	opts := ClientOptions{
		URL:                url,
		RequestTimeout:     2 * time.Second,
		ReconnectBaseDelay: 10 * time.Millisecond,
		PortProviders:      []PortProvider{},
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// dialRaw opens a bare WebSocket and consumes the welcome push.
func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	welcome := readJSON(t, ws)
	require.Contains(t, welcome["message"], "Welcome")
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func readRaw(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func writeRaw(t *testing.T, ws *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(payload)))
}
