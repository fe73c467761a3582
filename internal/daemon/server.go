package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/drewfead/tascade/internal/control"
)

const (
	ResourceServerInfo = "tascade://server/info"
	ResourceProtocol   = "tascade://docs/protocol"
)

const protocolDoc = `Requests are JSON text frames: {"id": "...", "command": "...", "params": {...}, "context": "...", "sequence": n}.
Responses echo "id" and carry "timestamp". Success responses merge the command result into the top level;
failures carry "error", either a string or {"code", "message"}.
On connect the server pushes {"type": "welcome", "message", "timestamp"}.
Task changes are pushed to every connection as {"event": "task-updated", "type", "task_id", "task", "timestamp"}.
Use list-tools for the command catalog and list-resources / get-resource for static documents.`

func (d *Daemon) registerServerHandlers() {
	d.server.Handle("get-server-info", d.handleGetServerInfo, control.Schema{
		Description: "Describe the server, its commands and live connections",
	})
	d.server.Handle("get-task-events", d.handleGetTaskEvents, control.Schema{
		Description: "List recent change events for a task, newest first",
		Params: []control.Param{
			{Name: "id", Type: "string", Description: "Task ID", Required: true},
			{Name: "limit", Type: "number", Description: "Maximum number of events (default 50)"},
		},
	})
}

func (d *Daemon) registerResources() {
	d.server.Resources().Register(ResourceServerInfo, map[string]any{
		"name":       d.server.Name(),
		"version":    d.server.Version(),
		"path":       d.config.Server.Path,
		"started_at": d.startedAt.UTC().Format(control.TimestampFormat),
	})
	d.server.Resources().Register(ResourceProtocol, protocolDoc)
}

func (d *Daemon) handleGetServerInfo(_ context.Context, _ json.RawMessage, _ *control.Call) (any, error) {
	provider := ""
	if p := d.aiProvider(); p != nil {
		provider = p.Name()
	}
	return map[string]any{
		"success":        true,
		"name":           d.server.Name(),
		"version":        d.server.Version(),
		"commands":       d.server.Commands().Names(),
		"resources":      d.server.Resources().URIs(),
		"connections":    d.server.Connections().Info(),
		"active_context": d.sessions.ActiveID(),
		"ai_provider":    provider,
		"uptime_seconds": int(time.Since(d.startedAt).Seconds()),
	}, nil
}

func (d *Daemon) handleGetTaskEvents(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID    string `json:"id"`
		Limit int    `json:"limit"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errTaskIDRequired
	}
	events, err := d.store.ListTaskEvents(ctx, req.ID, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "events": events}, nil
}
