package daemon

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewfead/tascade/internal/ai"
	"github.com/drewfead/tascade/internal/config"
	"github.com/drewfead/tascade/internal/control"
	"github.com/drewfead/tascade/internal/store"
	"github.com/drewfead/tascade/internal/task"
)

func setupTestDaemon(t *testing.T, provider ai.Provider) (*Daemon, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Daemon.Database = filepath.Join(t.TempDir(), "test.db")
	cfg.Daemon.ShutdownTimeout = time.Second

	st, err := store.New(cfg.Daemon.Database)
	require.NoError(t, err)

	d := newDaemon(cfg, st, provider)
	require.NoError(t, d.Start())
	t.Cleanup(d.Shutdown)

	return d, "ws://" + d.server.Addr() + cfg.Server.Path
}

func connect(t *testing.T, url string) *control.Client {
	t.Helper()
	c, err := control.NewClient(control.ClientOptions{
		URL:                  url,
		RequestTimeout:       2 * time.Second,
		MaxReconnectAttempts: -1,
		PortProviders:        []control.PortProvider{},
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *control.Client, command string, params any) control.Result {
	t.Helper()
	res, err := c.SendCommand(context.Background(), command, params)
	require.NoError(t, err, command)
	return res
}

func decodeTask(t *testing.T, v any) *task.Task {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var tk task.Task
	require.NoError(t, json.Unmarshal(data, &tk))
	return &tk
}

func TestTaskCommands(t *testing.T) {
	_, url := setupTestDaemon(t, nil)
	c := connect(t, url)

	res := send(t, c, "add-task", map[string]any{"title": "Schema", "priority": "high"})
	schemaID, _ := res["task_id"].(string)
	require.NotEmpty(t, schemaID)
	assert.Equal(t, schemaID, decodeTask(t, res["task"]).ID)
	assert.NotEqual(t, schemaID, res["id"], "task id must not be the request id")

	res = send(t, c, "add-task", map[string]any{"title": "API", "description": "Expose the API"})
	apiID := res["task_id"].(string)

	t.Run("created id resolves", func(t *testing.T) {
		for _, id := range []string{schemaID, apiID} {
			res := send(t, c, "get-task", map[string]any{"id": id})
			assert.Equal(t, id, decodeTask(t, res["task"]).ID)
		}
	})

	t.Run("get", func(t *testing.T) {
		res := send(t, c, "get-task", map[string]any{"id": schemaID})
		tk := decodeTask(t, res["task"])
		assert.Equal(t, "Schema", tk.Title)
		assert.Equal(t, task.PriorityHigh, tk.Priority)

		_, err := c.SendCommand(context.Background(), "get-task", map[string]any{"id": "missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task not found: missing")

		_, err = c.SendCommand(context.Background(), "get-task", nil)
		assert.ErrorContains(t, err, "task id is required")
	})

	t.Run("status", func(t *testing.T) {
		res := send(t, c, "set-task-status", map[string]any{"id": schemaID, "status": "in_progress", "user": "alice"})
		tk := decodeTask(t, res["task"])
		assert.Equal(t, task.StatusInProgress, tk.Status)
		require.Len(t, tk.History, 1)
		assert.Equal(t, "alice", tk.History[0].User)

		_, err := c.SendCommand(context.Background(), "set-task-status", map[string]any{"id": schemaID, "status": "done"})
		assert.ErrorContains(t, err, "invalid status")

		res = send(t, c, "get-tasks", map[string]any{"status": "in_progress"})
		assert.Len(t, res["tasks"], 1)
		res = send(t, c, "get-tasks", nil)
		assert.Len(t, res["tasks"], 2)
	})

	t.Run("update", func(t *testing.T) {
		res := send(t, c, "update-task", map[string]any{"id": apiID, "title": "Public API"})
		tk := decodeTask(t, res["task"])
		assert.Equal(t, "Public API", tk.Title)
		assert.Equal(t, "Expose the API", tk.Description)
	})

	t.Run("dependencies", func(t *testing.T) {
		res := send(t, c, "add-task-dependency", map[string]any{"id": apiID, "depends_on": schemaID})
		assert.Equal(t, true, res["changed"])

		res = send(t, c, "add-task-dependency", map[string]any{"id": apiID, "depends_on": schemaID})
		assert.Equal(t, false, res["changed"])

		_, err := c.SendCommand(context.Background(), "add-task-dependency", map[string]any{"id": schemaID, "depends_on": apiID})
		assert.ErrorContains(t, err, "dependency cycle")

		res = send(t, c, "get-task-dependencies", map[string]any{"id": apiID})
		deps := res["dependencies"].([]any)
		require.Len(t, deps, 1)
		assert.Equal(t, schemaID, decodeTask(t, deps[0]).ID)

		res = send(t, c, "remove-task-dependency", map[string]any{"id": apiID, "depends_on": schemaID})
		assert.Equal(t, true, res["changed"])
	})

	t.Run("events", func(t *testing.T) {
		res := send(t, c, "get-task-events", map[string]any{"id": apiID})
		events := res["events"].([]any)
		assert.GreaterOrEqual(t, len(events), 3)
	})

	t.Run("delete", func(t *testing.T) {
		send(t, c, "delete-task", map[string]any{"id": apiID})
		_, err := c.SendCommand(context.Background(), "delete-task", map[string]any{"id": apiID})
		assert.ErrorContains(t, err, "task not found")
	})
}

func TestSplitVerifyComplexity(t *testing.T) {
	_, url := setupTestDaemon(t, nil)
	c := connect(t, url)

	res := send(t, c, "add-task", map[string]any{
		"title":                 "Login",
		"description":           "Harden the security of login",
		"verification_criteria": "Passwords hashed with bcrypt\nLockout after failures",
	})
	id := res["task_id"].(string)

	t.Run("complexity", func(t *testing.T) {
		res := send(t, c, "analyze-complexity", map[string]any{"id": id})
		var out struct {
			Analysis task.ComplexityAnalysis `json:"analysis"`
		}
		require.NoError(t, res.Decode(&out))
		assert.Equal(t, "heuristic", out.Analysis.Source)

		tk := decodeTask(t, send(t, c, "get-task", map[string]any{"id": id})["task"])
		require.NotNil(t, tk.ComplexityScore)
	})

	t.Run("split", func(t *testing.T) {
		res := send(t, c, "split-task", map[string]any{"id": id, "num_subtasks": 3})
		assert.Equal(t, string(task.StrategyRiskBased), res["strategy"])
		subs := res["subtasks"].([]any)
		require.Len(t, subs, 3)
		assert.Equal(t, id+".1", decodeTask(t, subs[0]).ID)

		parent := decodeTask(t, send(t, c, "get-task", map[string]any{"id": id})["task"])
		assert.Equal(t, []string{id + ".1", id + ".2", id + ".3"}, parent.Subtasks)

		res = send(t, c, "get-tasks", map[string]any{"parent_id": id})
		assert.Len(t, res["tasks"], 3)

		_, err := c.SendCommand(context.Background(), "split-task", map[string]any{"id": id, "num_subtasks": 3})
		assert.ErrorContains(t, err, "already has subtask")

		_, err = c.SendCommand(context.Background(), "split-task", map[string]any{"id": id, "strategy": "chaotic"})
		assert.ErrorContains(t, err, "invalid strategy")
	})

	t.Run("verify", func(t *testing.T) {
		res := send(t, c, "verify-task", map[string]any{
			"id":        id,
			"artifacts": map[string]any{"code": "passwords are hashed with bcrypt; lockout after five failures"},
		})
		var out struct {
			Verification task.Verification `json:"verification"`
		}
		require.NoError(t, res.Decode(&out))
		assert.True(t, out.Verification.Verified)
		assert.Equal(t, 100, out.Verification.Score)
	})
}

func TestGenerateTasks(t *testing.T) {
	t.Run("without provider", func(t *testing.T) {
		_, url := setupTestDaemon(t, nil)
		c := connect(t, url)
		_, err := c.SendCommand(context.Background(), "generate-tasks", map[string]any{"prd": "Build a shop"})
		assert.ErrorContains(t, err, ai.ErrNoProvider.Error())
	})

	t.Run("with provider", func(t *testing.T) {
		p := ai.ProviderFunc(func(ctx context.Context, req ai.Request) (map[string]any, error) {
			return map[string]any{"tasks": []any{
				map[string]any{"title": "Catalog"},
				map[string]any{"title": "Cart", "dependencies": []any{1.0}},
			}}, nil
		})
		_, url := setupTestDaemon(t, p)
		c := connect(t, url)

		res := send(t, c, "generate-tasks", map[string]any{"prd": "Build a shop", "num_tasks": 5})
		tasks := res["tasks"].([]any)
		require.Len(t, tasks, 2)
		cart := decodeTask(t, tasks[1])
		assert.Equal(t, []string{decodeTask(t, tasks[0]).ID}, cart.Dependencies)

		res = send(t, c, "get-tasks", nil)
		assert.Len(t, res["tasks"], 2)
	})
}

func TestContextCommands(t *testing.T) {
	d, url := setupTestDaemon(t, nil)
	c := connect(t, url)

	res := send(t, c, "create-context", map[string]any{"id": "plan", "data": map[string]any{"goal": "ship"}})
	assert.Equal(t, "plan", res["context_id"])
	assert.Equal(t, "plan", d.sessions.ActiveID())

	send(t, c, "add-step", map[string]any{"name": "outline"})
	send(t, c, "update-context", map[string]any{"data": map[string]any{"owner": "bob"}})

	res = send(t, c, "get-context", nil)
	ctxDoc := res["context"].(map[string]any)
	data := ctxDoc["data"].(map[string]any)
	assert.Equal(t, "ship", data["goal"])
	assert.Equal(t, "bob", data["owner"])
	assert.Len(t, ctxDoc["steps"], 1)
	assert.Len(t, ctxDoc["history"], 1)

	t.Run("request context wins over active", func(t *testing.T) {
		send(t, c, "create-context", map[string]any{"id": "other"})
		c.SetSessionID("plan")
		res := send(t, c, "add-step", map[string]any{"name": "review"})
		assert.Equal(t, "plan", res["context_id"])
		c.SetSessionID("")
	})

	t.Run("archive and restore", func(t *testing.T) {
		send(t, c, "archive-context", map[string]any{"id": "plan", "remove": true})
		_, err := c.SendCommand(context.Background(), "get-context", map[string]any{"id": "plan"})
		assert.ErrorContains(t, err, "context not found")

		res := send(t, c, "list-contexts", nil)
		assert.Len(t, res["archived"], 1)

		res = send(t, c, "restore-context", map[string]any{"id": "plan"})
		restored := res["context"].(map[string]any)
		assert.Len(t, restored["steps"], 2)

		_, err = c.SendCommand(context.Background(), "restore-context", map[string]any{"id": "nope"})
		assert.ErrorContains(t, err, "no archived context")
	})

	t.Run("export and import", func(t *testing.T) {
		res := send(t, c, "export-context", map[string]any{"id": "plan"})
		exported := res["context"].(map[string]any)
		exported["id"] = "copy"

		send(t, c, "import-context", map[string]any{"context": exported})
		_, ok := d.sessions.Get("copy")
		assert.True(t, ok)
	})

	t.Run("delete and set active", func(t *testing.T) {
		send(t, c, "delete-context", map[string]any{"id": "copy"})
		_, err := c.SendCommand(context.Background(), "set-active-context", map[string]any{"id": "copy"})
		assert.ErrorContains(t, err, "context not found")
		send(t, c, "set-active-context", map[string]any{"id": "other"})
		assert.Equal(t, "other", d.sessions.ActiveID())
	})
}

func TestTaskBroadcast(t *testing.T) {
	_, url := setupTestDaemon(t, nil)
	watcher := connect(t, url)
	actor := connect(t, url)

	var mu sync.Mutex
	var updates []TaskUpdate
	watcher.Subscribe(func(e control.Event) {
		if e.Type != control.EventMessage {
			return
		}
		var u TaskUpdate
		if e.Decode(&u) == nil && u.Event == TaskUpdatedEvent {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		}
	})

	res := send(t, actor, "add-task", map[string]any{"title": "Watched"})
	id := res["task_id"].(string)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	got := updates[0]
	mu.Unlock()
	assert.Equal(t, task.EventCreated, got.Type)
	assert.Equal(t, id, got.TaskID)
	require.NotNil(t, got.Task)
	assert.Equal(t, "Watched", got.Task.Title)
	assert.NotEmpty(t, got.Timestamp)
}

func TestServerInfoAndResources(t *testing.T) {
	_, url := setupTestDaemon(t, nil)
	c := connect(t, url)

	res := send(t, c, "get-server-info", nil)
	assert.Equal(t, "tascade", res["name"])
	assert.Contains(t, res["commands"], "split-task")
	assert.Contains(t, res["commands"], "list-tools")
	assert.Len(t, res["connections"], 1)

	res = send(t, c, "list-resources", nil)
	assert.ElementsMatch(t, []any{ResourceServerInfo, ResourceProtocol}, res["resources"])

	res = send(t, c, "get-resource", map[string]any{"uri": ResourceProtocol})
	assert.Contains(t, res["resource"], "task-updated")

	tools, err := c.DiscoverTools(context.Background())
	require.NoError(t, err)
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "generate-tasks")
	assert.Contains(t, names, "restore-context")
}
