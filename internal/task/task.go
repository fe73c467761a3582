// Package task holds the task model and the heuristics that operate on it:
// complexity analysis, splitting, verification and generation from a
// requirements document.
package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the status of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusDeferred   Status = "deferred"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every valid status.
var Statuses = []Status{
	StatusPending, StatusInProgress, StatusCompleted, StatusBlocked,
	StatusReview, StatusDeferred, StatusCancelled,
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Statuses, st) {
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Priority represents the priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts a priority name in any case. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", fmt.Errorf("invalid priority %q", s)
	}
}

// HistoryEntry is one line of a task's change log.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Change    string    `json:"change"`
}

// Task represents a single unit of work.
type Task struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	Status               Status         `json:"status"`
	Priority             Priority       `json:"priority"`
	Dependencies         []string       `json:"dependencies"`
	Subtasks             []string       `json:"subtasks"`
	ParentID             string         `json:"parent_id,omitempty"`
	ComplexityScore      *float64       `json:"complexity_score,omitempty"`
	EstimatedEffortHours *float64       `json:"estimated_effort_hours,omitempty"`
	VerificationCriteria string         `json:"verification_criteria,omitempty"`
	ImplementationGuide  string         `json:"implementation_guide,omitempty"`
	Details              map[string]any `json:"details,omitempty"`
	History              []HistoryEntry `json:"history"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// DefaultUser is recorded in history when no user is given.
const DefaultUser = "system"

// New creates a pending, medium-priority task with a fresh id.
func New(title, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Status:       StatusPending,
		Priority:     PriorityMedium,
		Dependencies: []string{},
		Subtasks:     []string{},
		History:      []HistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Touch updates the modification time.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

func (t *Task) record(user, change string) {
	if user == "" {
		user = DefaultUser
	}
	t.History = append(t.History, HistoryEntry{Timestamp: time.Now().UTC(), User: user, Change: change})
	t.Touch()
}

// SetStatus changes the status and records it.
func (t *Task) SetStatus(s Status, user string) {
	if t.Status == s {
		return
	}
	t.record(user, fmt.Sprintf("Status changed from %s to %s", t.Status, s))
	t.Status = s
}

// AddDependency adds a dependency once. It reports whether it was added.
func (t *Task) AddDependency(id, user string) bool {
	if slices.Contains(t.Dependencies, id) {
		return false
	}
	t.Dependencies = append(t.Dependencies, id)
	t.record(user, "Added dependency: "+id)
	return true
}

// RemoveDependency removes a dependency. It reports whether it was present.
func (t *Task) RemoveDependency(id, user string) bool {
	i := slices.Index(t.Dependencies, id)
	if i < 0 {
		return false
	}
	t.Dependencies = slices.Delete(t.Dependencies, i, i+1)
	t.record(user, "Removed dependency: "+id)
	return true
}

// AddSubtask links a subtask once. It reports whether it was added.
func (t *Task) AddSubtask(id, user string) bool {
	if slices.Contains(t.Subtasks, id) {
		return false
	}
	t.Subtasks = append(t.Subtasks, id)
	t.record(user, "Added subtask: "+id)
	return true
}

// Normalize fills defaults so a decoded task is safe to use.
func (t *Task) Normalize() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if t.Subtasks == nil {
		t.Subtasks = []string{}
	}
	if t.History == nil {
		t.History = []HistoryEntry{}
	}
}

// Filters specifies criteria for listing tasks.
type Filters struct {
	Status   *Status `json:"status,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// Match reports whether t satisfies f.
func (f Filters) Match(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.ParentID != nil && t.ParentID != *f.ParentID {
		return false
	}
	return true
}

// EventType represents the type of task event.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is a change notification for a task.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Task   *Task     `json:"task,omitempty"`
}

// ErrNotFound is returned when updating or deleting a task that does not exist.
var ErrNotFound = errors.New("task not found")

// Store persists tasks. GetTask returns nil, nil when the task does not exist.
type Store interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	GetAllTasks(ctx context.Context) ([]*Task, error)
	CreateTask(ctx context.Context, t *Task) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
}
