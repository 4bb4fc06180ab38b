package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/datasync/engine/internal/models"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx. Repositories
// run against either, so apply-and-advance-cursor can commit atomically.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JournalRepo defines the interface for the change journal
type JournalRepo interface {
	Enqueue(ctx context.Context, op *models.Operation, coalesce bool) (string, error)
	PendingBatch(ctx context.Context, max int) ([]*models.Operation, error)
	GetByID(ctx context.Context, id string) (*models.Operation, error)
	MarkInFlight(ctx context.Context, ids []string) error
	MarkPending(ctx context.Context, ids []string) error
	RecoverInFlight(ctx context.Context) (int, error)
	MarkAcknowledged(ctx context.Context, ids []string) error
	MarkSuperseded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason error, terminal bool) error
	Retry(ctx context.Context, id string) error
	Rebase(ctx context.Context, id string, baseVersion int64, baseTimestamp time.Time) error
	ReplacePayload(ctx context.Context, id string, payload []byte) error
	PendingForEntity(ctx context.Context, key models.EntityKey) ([]*models.Operation, error)
	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)
	FailedOperations(ctx context.Context) ([]*models.Operation, error)
}

// EntityRepo defines the interface for the local entity cache
type EntityRepo interface {
	Get(ctx context.Context, entityType, entityID string) (*models.Entity, error)
	Put(ctx context.Context, entity *models.Entity) error
	TombstoneNotPulledSince(ctx context.Context, cutoff time.Time) (int, error)
}

// CursorRepo defines the interface for the persisted sync cursor
type CursorRepo interface {
	Get(ctx context.Context) (models.SyncCursor, error)
	Set(ctx context.Context, cursor models.SyncCursor) error
}

// ConflictRepo defines the interface for persisted conflict records
type ConflictRepo interface {
	Add(ctx context.Context, record *models.ConflictRecord) error
	GetByID(ctx context.Context, id string) (*models.ConflictRecord, error)
	ListOpen(ctx context.Context) ([]*models.ConflictRecord, error)
	CountOpen(ctx context.Context) (int, error)
	MarkResolved(ctx context.Context, id, resolvedBy string) error
}
