package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drewfead/tascade/internal/session"
)

// ArchivedContext is a summary of an archived session context.
type ArchivedContext struct {
	ID         string    `json:"id"`
	ArchivedAt time.Time `json:"archived_at"`
	Steps      int       `json:"steps"`
}

// ArchiveContext stores an exported context, replacing any earlier archive with the same ID.
func (s *Store) ArchiveContext(ctx context.Context, exp session.Export) error {
	if exp.ID == "" {
		return errors.New("context id is required")
	}
	data, err := json.Marshal(exp)
	if err != nil {
		return err
	}
	query := `INSERT INTO archived_contexts (id, data, archived_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, archived_at = excluded.archived_at`
	_, err = s.db.ExecContext(ctx, query, exp.ID, string(data), time.Now().UTC())
	return err
}

// GetArchivedContext retrieves an archived context. It returns nil, nil when none exists.
func (s *Store) GetArchivedContext(ctx context.Context, id string) (*session.Export, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM archived_contexts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var exp session.Export
	if err := json.Unmarshal([]byte(data), &exp); err != nil {
		return nil, fmt.Errorf("decode archived context %s: %w", id, err)
	}
	return &exp, nil
}

// ListArchivedContexts lists archived contexts, most recent first.
func (s *Store) ListArchivedContexts(ctx context.Context) ([]*ArchivedContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, archived_at FROM archived_contexts ORDER BY archived_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*ArchivedContext{}
	for rows.Next() {
		var a ArchivedContext
		var data string
		if err := rows.Scan(&a.ID, &data, &a.ArchivedAt); err != nil {
			return nil, err
		}
		var exp session.Export
		if json.Unmarshal([]byte(data), &exp) == nil {
			a.Steps = len(exp.Steps)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteArchivedContext removes an archived context. Missing IDs are not an error.
func (s *Store) DeleteArchivedContext(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM archived_contexts WHERE id = ?`, id)
	return err
}
