package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/datasync/engine/internal/models"
)

// CursorRepository persists the single sync cursor row.
//
// The cursor advances only inside the same transaction that applies a
// fully processed pull page, so a crash mid-pagination resumes from the
// last applied page and never rewinds.
type CursorRepository struct {
	q DBTX
}

// NewCursorRepository creates a cursor repository over a database handle
func NewCursorRepository(db *sql.DB) *CursorRepository {
	return &CursorRepository{q: db}
}

// NewCursorRepositoryTx creates a cursor repository bound to a transaction
func NewCursorRepositoryTx(tx *sql.Tx) *CursorRepository {
	return &CursorRepository{q: tx}
}

// Get returns the persisted cursor, empty if no pull has completed yet
func (r *CursorRepository) Get(ctx context.Context) (models.SyncCursor, error) {
	var cursor string
	err := r.q.QueryRowContext(ctx,
		`SELECT cursor FROM sync_cursor WHERE id = 1`).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", models.NewStorageError("cursor.get", err)
	}
	return models.SyncCursor(cursor), nil
}

// Set durably records the cursor
func (r *CursorRepository) Set(ctx context.Context, cursor models.SyncCursor) error {
	query := `
		INSERT INTO sync_cursor (id, cursor, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`
	if _, err := r.q.ExecContext(ctx, query, string(cursor), time.Now().UTC()); err != nil {
		return models.NewStorageError("cursor.set", err)
	}
	return nil
}
