package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/task"
)

var errTaskIDRequired = errors.New("task id is required")

func (d *Daemon) registerTaskHandlers() {
	idParam := control.Param{Name: "id", Type: "string", Description: "Task ID", Required: true}
	depParam := control.Param{Name: "depends_on", Type: "string", Description: "ID of the task depended on", Required: true}

	d.server.Handle("get-tasks", d.handleGetTasks, control.Schema{
		Description: "List tasks, optionally filtered by status or parent",
		Params: []control.Param{
			{Name: "status", Type: "string", Description: "Only tasks with this status"},
			{Name: "parent_id", Type: "string", Description: "Only subtasks of this task"},
		},
	})
	d.server.Handle("get-task", d.handleGetTask, control.Schema{
		Description: "Get a task by ID",
		Params:      []control.Param{idParam},
	})
	d.server.Handle("add-task", d.handleAddTask, control.Schema{
		Description: "Create a task",
		Params: []control.Param{
			{Name: "title", Type: "string", Description: "Task title", Required: true},
			{Name: "description", Type: "string", Description: "Task description"},
			{Name: "priority", Type: "string", Description: "low, medium or high"},
			{Name: "status", Type: "string", Description: "Initial status"},
			{Name: "dependencies", Type: "array", Description: "IDs of tasks this task depends on"},
			{Name: "verification_criteria", Type: "string", Description: "One criterion per line"},
			{Name: "implementation_guide", Type: "string", Description: "Free-form guidance"},
		},
	})
	d.server.Handle("update-task", d.handleUpdateTask, control.Schema{
		Description: "Update the title, description, priority or guidance of a task",
		Params: []control.Param{
			idParam,
			{Name: "title", Type: "string"},
			{Name: "description", Type: "string"},
			{Name: "priority", Type: "string"},
			{Name: "verification_criteria", Type: "string"},
			{Name: "implementation_guide", Type: "string"},
		},
	})
	d.server.Handle("delete-task", d.handleDeleteTask, control.Schema{
		Description: "Delete a task",
		Params:      []control.Param{idParam},
	})
	d.server.Handle("set-task-status", d.handleSetTaskStatus, control.Schema{
		Description: "Change the status of a task",
		Params: []control.Param{
			idParam,
			{Name: "status", Type: "string", Description: "New status", Required: true},
			{Name: "user", Type: "string", Description: "Who made the change"},
		},
	})
	d.server.Handle("get-task-dependencies", d.handleGetTaskDependencies, control.Schema{
		Description: "List the tasks a task depends on",
		Params:      []control.Param{idParam},
	})
	d.server.Handle("add-task-dependency", d.handleAddTaskDependency, control.Schema{
		Description: "Make a task depend on another",
		Params:      []control.Param{idParam, depParam},
	})
	d.server.Handle("remove-task-dependency", d.handleRemoveTaskDependency, control.Schema{
		Description: "Remove a dependency from a task",
		Params:      []control.Param{idParam, depParam},
	})
	d.server.Handle("analyze-complexity", d.handleAnalyzeComplexity, control.Schema{
		Description: "Score the complexity of a task and store the result",
		Params:      []control.Param{idParam},
	})
	d.server.Handle("split-task", d.handleSplitTask, control.Schema{
		Description: "Split a task into ordered subtasks",
		Params: []control.Param{
			idParam,
			{Name: "strategy", Type: "string", Description: "functional, technical, development_stage, risk_based or auto"},
			{Name: "num_subtasks", Type: "number", Description: "Number of subtasks"},
		},
	})
	d.server.Handle("verify-task", d.handleVerifyTask, control.Schema{
		Description: "Score a task's verification criteria against artifacts",
		Params: []control.Param{
			idParam,
			{Name: "artifacts", Type: "object", Description: "Named artifacts; string values are matched"},
		},
	})
	d.server.Handle("generate-tasks", d.handleGenerateTasks, control.Schema{
		Description: "Generate tasks from a requirements document with the AI provider",
		Params: []control.Param{
			{Name: "prd", Type: "string", Description: "Requirements document text", Required: true},
			{Name: "num_tasks", Type: "number", Description: "Maximum number of tasks"},
		},
	})
}

type idParams struct {
	ID string `json:"id"`
}

// loadTask fetches a task that must exist.
func (d *Daemon) loadTask(ctx context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, errTaskIDRequired
	}
	t, err := d.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return t, nil
}

func (d *Daemon) saveTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	saved, err := d.store.UpdateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	d.broadcastTask(task.EventUpdated, saved.ID, saved)
	return saved, nil
}

func (d *Daemon) handleGetTasks(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		Status   string  `json:"status"`
		ParentID *string `json:"parent_id"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	var filters task.Filters
	if req.Status != "" {
		s, err := task.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		filters.Status = &s
	}
	filters.ParentID = req.ParentID

	tasks, err := d.store.ListTasks(ctx, filters)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "tasks": tasks}, nil
}

func (d *Daemon) handleGetTask(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req idParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": t}, nil
}

func (d *Daemon) handleAddTask(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		Title                string   `json:"title"`
		Description          string   `json:"description"`
		Priority             string   `json:"priority"`
		Status               string   `json:"status"`
		ParentID             string   `json:"parent_id"`
		Dependencies         []string `json:"dependencies"`
		VerificationCriteria string   `json:"verification_criteria"`
		ImplementationGuide  string   `json:"implementation_guide"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Title == "" {
		return nil, errors.New("task title is required")
	}

	t := task.New(req.Title, req.Description)
	var err error
	if t.Priority, err = task.ParsePriority(req.Priority); err != nil {
		return nil, err
	}
	if req.Status != "" {
		if t.Status, err = task.ParseStatus(req.Status); err != nil {
			return nil, err
		}
	}
	t.ParentID = req.ParentID
	t.VerificationCriteria = req.VerificationCriteria
	t.ImplementationGuide = req.ImplementationGuide
	if req.Dependencies != nil {
		t.Dependencies = req.Dependencies
	}

	created, err := d.store.CreateTask(ctx, t)
	if err != nil {
		return nil, err
	}
	d.broadcastTask(task.EventCreated, created.ID, created)
	return map[string]any{"success": true, "task_id": created.ID, "task": created}, nil
}

func (d *Daemon) handleUpdateTask(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID                   string  `json:"id"`
		Title                *string `json:"title"`
		Description          *string `json:"description"`
		Priority             *string `json:"priority"`
		VerificationCriteria *string `json:"verification_criteria"`
		ImplementationGuide  *string `json:"implementation_guide"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Priority != nil {
		if t.Priority, err = task.ParsePriority(*req.Priority); err != nil {
			return nil, err
		}
	}
	if req.VerificationCriteria != nil {
		t.VerificationCriteria = *req.VerificationCriteria
	}
	if req.ImplementationGuide != nil {
		t.ImplementationGuide = *req.ImplementationGuide
	}
	t.Touch()

	saved, err := d.saveTask(ctx, t)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": saved}, nil
}

func (d *Daemon) handleDeleteTask(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req idParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errTaskIDRequired
	}
	if err := d.store.DeleteTask(ctx, req.ID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return nil, fmt.Errorf("task not found: %s", req.ID)
		}
		return nil, err
	}
	d.broadcastTask(task.EventDeleted, req.ID, nil)
	return map[string]any{"success": true}, nil
}

func (d *Daemon) handleSetTaskStatus(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		User   string `json:"user"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.Status == "" {
		return nil, errors.New("status is required")
	}
	status, err := task.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	t.SetStatus(status, req.User)
	saved, err := d.saveTask(ctx, t)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": saved}, nil
}

func (d *Daemon) handleGetTaskDependencies(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req idParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	deps := make([]*task.Task, 0, len(t.Dependencies))
	var missing []string
	for _, id := range t.Dependencies {
		dep, err := d.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if dep == nil {
			missing = append(missing, id)
			continue
		}
		deps = append(deps, dep)
	}
	if missing == nil {
		missing = []string{}
	}
	return map[string]any{"success": true, "dependencies": deps, "missing": missing}, nil
}

type dependencyParams struct {
	ID        string `json:"id"`
	DependsOn string `json:"depends_on"`
	User      string `json:"user"`
}

func (d *Daemon) handleAddTaskDependency(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req dependencyParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.DependsOn == "" {
		return nil, errors.New("dependency task id is required")
	}
	if req.DependsOn == req.ID {
		return nil, errors.New("a task cannot depend on itself")
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if _, err := d.loadTask(ctx, req.DependsOn); err != nil {
		return nil, err
	}
	if dependsOn(ctx, d.store, req.DependsOn, req.ID) {
		return nil, fmt.Errorf("dependency cycle: %s already depends on %s", req.DependsOn, req.ID)
	}

	if !t.AddDependency(req.DependsOn, req.User) {
		return map[string]any{"success": true, "task": t, "changed": false}, nil
	}
	saved, err := d.saveTask(ctx, t)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": saved, "changed": true}, nil
}

// dependsOn reports whether from transitively depends on target.
func dependsOn(ctx context.Context, st task.Store, from, target string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		t, err := st.GetTask(ctx, id)
		if err != nil || t == nil {
			continue
		}
		stack = append(stack, t.Dependencies...)
	}
	return false
}

func (d *Daemon) handleRemoveTaskDependency(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req dependencyParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if req.DependsOn == "" {
		return nil, errors.New("dependency task id is required")
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if !t.RemoveDependency(req.DependsOn, req.User) {
		return map[string]any{"success": true, "task": t, "changed": false}, nil
	}
	saved, err := d.saveTask(ctx, t)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "task": saved, "changed": true}, nil
}

func (d *Daemon) handleAnalyzeComplexity(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req idParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	analysis := task.AnalyzeComplexityWithProvider(ctx, d.aiProvider(), t)
	task.ApplyComplexity(t, analysis)
	if _, err := d.saveTask(ctx, t); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "analysis": analysis}, nil
}

func (d *Daemon) handleSplitTask(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID          string `json:"id"`
		Strategy    string `json:"strategy"`
		NumSubtasks int    `json:"num_subtasks"`
		User        string `json:"user"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	strategy, err := task.ParseStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	parent, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	subtasks, chosen, err := task.SplitWithProvider(ctx, d.aiProvider(), parent, strategy, req.NumSubtasks)
	if err != nil {
		return nil, err
	}

	created := make([]*task.Task, 0, len(subtasks))
	for _, sub := range subtasks {
		if existing, err := d.store.GetTask(ctx, sub.ID); err != nil {
			return nil, err
		} else if existing != nil {
			return nil, fmt.Errorf("task %s already has subtask %s", parent.ID, sub.ID)
		}
	}
	for _, sub := range subtasks {
		c, err := d.store.CreateTask(ctx, sub)
		if err != nil {
			return nil, err
		}
		parent.AddSubtask(c.ID, req.User)
		created = append(created, c)
		d.broadcastTask(task.EventCreated, c.ID, c)
	}
	if _, err := d.saveTask(ctx, parent); err != nil {
		return nil, err
	}

	return map[string]any{
		"success":  true,
		"task_id":  parent.ID,
		"strategy": chosen,
		"subtasks": created,
	}, nil
}

func (d *Daemon) handleVerifyTask(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		ID        string         `json:"id"`
		Artifacts map[string]any `json:"artifacts"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	t, err := d.loadTask(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	v := task.Verify(t, req.Artifacts)
	return map[string]any{"success": true, "verification": v}, nil
}

func (d *Daemon) handleGenerateTasks(ctx context.Context, params json.RawMessage, _ *control.Call) (any, error) {
	var req struct {
		PRD      string `json:"prd"`
		NumTasks int    `json:"num_tasks"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	generated, err := task.GenerateTasks(ctx, d.aiProvider(), req.PRD, req.NumTasks)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(generated))
	for _, t := range generated {
		c, err := d.store.CreateTask(ctx, t)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, c)
		d.broadcastTask(task.EventCreated, c.ID, c)
	}
	return map[string]any{"success": true, "tasks": tasks}, nil
}
