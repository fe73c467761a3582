package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/session"
)

var errContextIDRequired = errors.New("context id is required")

func (d *Daemon) registerContextHandlers() {
	idParam := control.Param{Name: "id", Type: "string", Description: "Context ID; defaults to the request context, then the active context"}
	dataParam := control.Param{Name: "data", Type: "object", Description: "Context data"}

	d.server.Handle("create-context", d.handleCreateContext, control.Schema{
		Description: "Create a context and make it active",
		Params: []control.Param{
			{Name: "id", Type: "string", Description: "Context ID; generated when empty"},
			dataParam,
		},
	})
	d.server.Handle("get-context", d.handleGetContext, control.Schema{
		Description: "Get a context with its steps and history",
		Params:      []control.Param{idParam},
	})
	d.server.Handle("update-context", d.handleUpdateContext, control.Schema{
		Description: "Update context data, recording the prior state in history",
		Params: []control.Param{
			idParam,
			{Name: "data", Type: "object", Description: "New data", Required: true},
			{Name: "merge", Type: "boolean", Description: "Merge into existing data (default true)"},
		},
	})
	d.server.Handle("add-step", d.handleAddStep, control.Schema{
		Description: "Append a step to a context",
		Params: []control.Param{
			idParam,
			{Name: "name", Type: "string", Description: "Step name", Required: true},
			{Name: "data", Type: "object", Description: "Step data"},
		},
	})
	d.server.Handle("delete-context", d.handleDeleteContext, control.Schema{
		Description: "Delete a context",
		Params:      []control.Param{{Name: "id", Type: "string", Description: "Context ID", Required: true}},
	})
	d.server.Handle("list-contexts", d.handleListContexts, control.Schema{
		Description: "List live and archived contexts",
	})
	d.server.Handle("set-active-context", d.handleSetActiveContext, control.Schema{
		Description: "Make a context the active one",
		Params:      []control.Param{{Name: "id", Type: "string", Description: "Context ID", Required: true}},
	})
	d.server.Handle("export-context", d.handleExportContext, control.Schema{
		Description: "Export a context as a portable document",
		Params:      []control.Param{idParam},
	})
	d.server.Handle("import-context", d.handleImportContext, control.Schema{
		Description: "Import an exported context, replacing any context with the same ID",
		Params:      []control.Param{{Name: "context", Type: "object", Description: "Exported context", Required: true}},
	})
	d.server.Handle("archive-context", d.handleArchiveContext, control.Schema{
		Description: "Persist a context to the database",
		Params: []control.Param{
			idParam,
			{Name: "remove", Type: "boolean", Description: "Delete the live context after archiving"},
		},
	})
	d.server.Handle("restore-context", d.handleRestoreContext, control.Schema{
		Description: "Load an archived context back into memory",
		Params:      []control.Param{{Name: "id", Type: "string", Description: "Context ID", Required: true}},
	})
}

// resolveContextID picks the explicit id, then the request's session when a
// context by that name exists, then the active context.
func (d *Daemon) resolveContextID(id string, call *control.Call) (string, error) {
	if id != "" {
		return id, nil
	}
	if call != nil && call.SessionID != "" {
		if _, ok := d.sessions.Get(call.SessionID); ok {
			return call.SessionID, nil
		}
	}
	if active := d.sessions.ActiveID(); active != "" {
		return active, nil
	}
	return "", errContextIDRequired
}

func (d *Daemon) lookupContext(id string, call *control.Call) (session.Context, error) {
	id, err := d.resolveContextID(id, call)
	if err != nil {
		return session.Context{}, err
	}
	c, ok := d.sessions.Get(id)
	if !ok {
		return session.Context{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return c, nil
}

func (d *Daemon) handleCreateContext(_ context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	c := d.sessions.Create(req.ID, req.Data)
	return map[string]any{"success": true, "context_id": c.ID, "context": session.ExportContext(c)}, nil
}

func (d *Daemon) handleGetContext(_ context.Context, params json.RawMessage, call *control.Call) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	c, err := d.lookupContext(req.ID, call)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "context": session.ExportContext(c)}, nil
}

func (d *Daemon) handleUpdateContext(_ context.Context, params json.RawMessage, call *control.Call) (any, error) {
	var req struct {
		ID    string         `json:"id"`
		Data  map[string]any `json:"data"`
		Merge *bool          `json:"merge"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Data == nil {
		return nil, errors.New("data is required")
	}
	id, err := d.resolveContextID(req.ID, call)
	if err != nil {
		return nil, err
	}
	merge := req.Merge == nil || *req.Merge
	c := d.sessions.Update(id, req.Data, merge)
	return map[string]any{"success": true, "context": session.ExportContext(c)}, nil
}

func (d *Daemon) handleAddStep(_ context.Context, params json.RawMessage, call *control.Call) (any, error) {
	var req struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Data map[string]any `json:"data"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, errors.New("step name is required")
	}
	id, err := d.resolveContextID(req.ID, call)
	if err != nil {
		return nil, err
	}
	st := d.sessions.AddStep(id, req.Name, req.Data)
	return map[string]any{
		"success":    true,
		"context_id": id,
		"step": session.ExportedStep{
			Index:     st.Index,
			Name:      st.Name,
			Timestamp: st.Timestamp.UTC().Format(session.TimestampFormat),
			Data:      st.Data,
		},
	}, nil
}

func (d *Daemon) handleDeleteContext(_ context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errContextIDRequired
	}
	if !d.sessions.Delete(req.ID) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, req.ID)
	}
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleListContexts(ctx context.Context, _ json.RawMessage, _ *control.Call) (any, error) {
	archived, err := d.store.ListArchivedContexts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  true,
		"active":   d.sessions.ActiveID(),
		"contexts": d.sessions.List(),
		"archived": archived,
	}, nil
}

func (d *Daemon) handleSetActiveContext(_ context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errContextIDRequired
	}
	if err := d.sessions.SetActive(req.ID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "active": req.ID}, nil
}

func (d *Daemon) handleExportContext(_ context.Context, params json.RawMessage, call *control.Call) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	c, err := d.lookupContext(req.ID, call)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "context": session.ExportContext(c)}, nil
}

func (d *Daemon) handleImportContext(_ context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		Context *session.Export `json:"context"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Context == nil {
		return nil, errors.New("context is required")
	}
	c, err := d.sessions.Import(*req.Context)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "context_id": c.ID}, nil
}

func (d *Daemon) handleArchiveContext(ctx context.Context, params json.RawMessage, call *control.Call) (any, error) {
	var req struct {
		ID     string `json:"id"`
		Remove bool   `json:"remove"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	c, err := d.lookupContext(req.ID, call)
	if err != nil {
		return nil, err
	}
	if err := d.store.ArchiveContext(ctx, session.ExportContext(c)); err != nil {
		return nil, err
	}
	if req.Remove {
		d.sessions.Delete(c.ID)
	}
	return map[string]any{"success": true, "context_id": c.ID, "removed": req.Remove}, nil
}

func (d *Daemon) handleRestoreContext(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errContextIDRequired
	}
	exp, err := d.store.GetArchivedContext(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, fmt.Errorf("no archived context: %s", req.ID)
	}
	c, err := d.sessions.Import(*exp)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "context": session.ExportContext(c)}, nil
}
