package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drewfead/tascade/internal/session"
	"github.com/drewfead/tascade/internal/task"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "tascade-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	st, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return st, cleanup
}

// TestTasks tests the task CRUD operations
func TestTasks(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		tk := task.New("Write docs", "Document the protocol")
		tk.ID = "1"
		if _, err := st.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}

		got, err := st.GetTask(ctx, "1")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected task, got nil")
		}
		if got.Title != "Write docs" {
			t.Errorf("expected title 'Write docs', got '%s'", got.Title)
		}
		if got.Dependencies == nil || got.History == nil {
			t.Error("decoded task should have non-nil slices")
		}
	})

	t.Run("CreateAssignsID", func(t *testing.T) {
		tk := &task.Task{Title: "No id"}
		created, err := st.CreateTask(ctx, tk)
		if err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
		if created.ID == "" || created.CreatedAt.IsZero() {
			t.Errorf("expected id and timestamp, got %+v", created)
		}
		if created.Status != task.StatusPending {
			t.Errorf("expected pending status, got %s", created.Status)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		tk := task.New("dup", "")
		tk.ID = "1"
		if _, err := st.CreateTask(ctx, tk); err == nil {
			t.Error("expected error for duplicate id")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := st.GetTask(ctx, "nope")
		if err != nil {
			t.Fatalf("GetTask failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("Update", func(t *testing.T) {
		tk, _ := st.GetTask(ctx, "1")
		tk.SetStatus(task.StatusInProgress, "alice")
		if _, err := st.UpdateTask(ctx, tk); err != nil {
			t.Fatalf("UpdateTask failed: %v", err)
		}

		got, _ := st.GetTask(ctx, "1")
		if got.Status != task.StatusInProgress {
			t.Errorf("expected in_progress, got %s", got.Status)
		}
		if len(got.History) != 1 || got.History[0].User != "alice" {
			t.Errorf("unexpected history: %+v", got.History)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		_, err := st.UpdateTask(ctx, &task.Task{ID: "ghost", Title: "x"})
		if !errors.Is(err, task.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListWithFilters", func(t *testing.T) {
		sub := task.New("Sub", "")
		sub.ID = "1.1"
		sub.ParentID = "1"
		if _, err := st.CreateTask(ctx, sub); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}

		all, err := st.GetAllTasks(ctx)
		if err != nil {
			t.Fatalf("GetAllTasks failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 tasks, got %d", len(all))
		}
		if all[0].ID != "1" {
			t.Errorf("expected creation order, first is %s", all[0].ID)
		}

		parent := "1"
		children, err := st.ListTasks(ctx, task.Filters{ParentID: &parent})
		if err != nil {
			t.Fatalf("ListTasks failed: %v", err)
		}
		if len(children) != 1 || children[0].ID != "1.1" {
			t.Errorf("unexpected children: %v", children)
		}

		inProgress := task.StatusInProgress
		active, _ := st.ListTasks(ctx, task.Filters{Status: &inProgress})
		if len(active) != 1 || active[0].ID != "1" {
			t.Errorf("unexpected status filter result: %v", active)
		}
	})

	t.Run("Events", func(t *testing.T) {
		events, err := st.ListTaskEvents(ctx, "1", 10)
		if err != nil {
			t.Fatalf("ListTaskEvents failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if events[0].Type != task.EventUpdated || events[1].Type != task.EventCreated {
			t.Errorf("expected newest first, got %s then %s", events[0].Type, events[1].Type)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := st.DeleteTask(ctx, "1.1"); err != nil {
			t.Fatalf("DeleteTask failed: %v", err)
		}
		if got, _ := st.GetTask(ctx, "1.1"); got != nil {
			t.Error("expected task to be deleted")
		}
		if err := st.DeleteTask(ctx, "1.1"); !errors.Is(err, task.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestArchivedContexts tests archiving and restoring session contexts
func TestArchivedContexts(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	m := session.NewManager(session.Options{})
	m.Create("ctx-1", map[string]any{"goal": "ship"})
	m.AddStep("ctx-1", "plan", map[string]any{"n": 1})
	exp, err := m.Export("ctx-1")
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	t.Run("ArchiveAndGet", func(t *testing.T) {
		if err := st.ArchiveContext(ctx, exp); err != nil {
			t.Fatalf("ArchiveContext failed: %v", err)
		}
		got, err := st.GetArchivedContext(ctx, "ctx-1")
		if err != nil {
			t.Fatalf("GetArchivedContext failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected archived context")
		}
		if got.Data["goal"] != "ship" || len(got.Steps) != 1 {
			t.Errorf("unexpected archive: %+v", got)
		}
	})

	t.Run("ArchiveReplaces", func(t *testing.T) {
		m.AddStep("ctx-1", "build", nil)
		exp2, _ := m.Export("ctx-1")
		time.Sleep(5 * time.Millisecond)
		if err := st.ArchiveContext(ctx, exp2); err != nil {
			t.Fatalf("ArchiveContext failed: %v", err)
		}
		list, err := st.ListArchivedContexts(ctx)
		if err != nil {
			t.Fatalf("ListArchivedContexts failed: %v", err)
		}
		if len(list) != 1 || list[0].Steps != 2 {
			t.Errorf("unexpected list: %+v", list)
		}
	})

	t.Run("RestoreIntoManager", func(t *testing.T) {
		got, _ := st.GetArchivedContext(ctx, "ctx-1")
		fresh := session.NewManager(session.Options{})
		c, err := fresh.Import(*got)
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if len(c.Steps) != 2 {
			t.Errorf("expected 2 steps, got %d", len(c.Steps))
		}
	})

	t.Run("DeleteAndMissing", func(t *testing.T) {
		if err := st.DeleteArchivedContext(ctx, "ctx-1"); err != nil {
			t.Fatalf("DeleteArchivedContext failed: %v", err)
		}
		got, err := st.GetArchivedContext(ctx, "ctx-1")
		if err != nil || got != nil {
			t.Errorf("expected nil, nil; got %v, %v", got, err)
		}
		if err := st.ArchiveContext(ctx, session.Export{}); err == nil {
			t.Error("expected error for empty id")
		}
	})
}
