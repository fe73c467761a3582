package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drewfead/tascade/internal/task"
	"github.com/google/uuid"
)

var _ task.Store = (*Store)(nil)

// GetTask retrieves a task by ID. It returns nil, nil when the task does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTask(data)
}

// GetAllTasks retrieves all tasks in creation order.
func (s *Store) GetAllTasks(ctx context.Context) ([]*task.Task, error) {
	return s.queryTasks(ctx, `SELECT data FROM tasks ORDER BY created_at, id`)
}

// ListTasks retrieves tasks matching the filters in creation order.
func (s *Store) ListTasks(ctx context.Context, f task.Filters) ([]*task.Task, error) {
	query := `SELECT data FROM tasks WHERE 1=1`
	var args []any
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.ParentID != nil {
		query += ` AND COALESCE(parent_id, '') = ?`
		args = append(args, *f.ParentID)
	}
	query += ` ORDER BY created_at, id`
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		t, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateTask inserts a new task, assigning an ID and timestamps when missing.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	t.Normalize()

	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	query := `INSERT INTO tasks (id, title, status, priority, parent_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, t.ID, t.Title, string(t.Status), string(t.Priority),
		nullString(t.ParentID), string(data), t.CreatedAt, t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create task %s: %w", t.ID, err)
	}
	s.recordTaskEvent(ctx, t.ID, task.EventCreated, data)
	return t, nil
}

// UpdateTask replaces a stored task. It returns task.ErrNotFound when the task does not exist.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	t.Normalize()
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	query := `UPDATE tasks SET title = ?, status = ?, priority = ?, parent_id = ?, data = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, t.Title, string(t.Status), string(t.Priority),
		nullString(t.ParentID), string(data), t.UpdatedAt, t.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, t.ID)
	}
	s.recordTaskEvent(ctx, t.ID, task.EventUpdated, data)
	return t, nil
}

// DeleteTask removes a task. It returns task.ErrNotFound when the task does not exist.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	s.recordTaskEvent(ctx, id, task.EventDeleted, nil)
	return nil
}

// TaskEvent is a logged change to a task.
type TaskEvent struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"task_id"`
	Type      task.EventType  `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// recordTaskEvent is best effort; a failed audit insert never fails the mutation.
func (s *Store) recordTaskEvent(ctx context.Context, taskID string, typ task.EventType, payload []byte) {
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO task_events (task_id, event_type, payload, timestamp) VALUES (?, ?, ?, ?)`,
		taskID, string(typ), nullString(string(payload)), time.Now().UTC())
}

// ListTaskEvents returns the most recent events for a task, newest first.
func (s *Store) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]*TaskEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, event_type, payload, timestamp FROM task_events WHERE task_id = ? ORDER BY id DESC LIMIT ?`,
		taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*TaskEvent{}
	for rows.Next() {
		var e TaskEvent
		var typ string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &typ, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = task.EventType(typ)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func decodeTask(data string) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.Normalize()
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
