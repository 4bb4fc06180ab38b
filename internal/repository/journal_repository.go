package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datasync/engine/internal/models"
)

// JournalRepository implements JournalRepo over SQLite.
//
// Entries are keyed by a monotonic seq assigned at insert, which defines
// replay order. Operations for the same entity always keep their relative
// order within and across batches.
type JournalRepository struct {
	q  DBTX
	db *sql.DB // nil when transaction-bound
}

// NewJournalRepository creates a journal repository over a database handle
func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{q: db, db: db}
}

// NewJournalRepositoryTx creates a journal repository bound to a transaction
func NewJournalRepositoryTx(tx *sql.Tx) *JournalRepository {
	return &JournalRepository{q: tx}
}

const operationColumns = `seq, id, entity_type, entity_id, kind, payload,
	base_version, base_timestamp, status, attempt_count, last_attempt_at,
	last_error, enqueued_at`

// Enqueue appends an operation to the journal. With coalesce enabled,
// pending operations on the same entity are collapsed first:
//   - Update after a pending Create or Update replaces that entry's payload
//   - Delete after any pending entries removes them; if one was a Create
//     the whole chain vanishes (the entity never existed remotely)
//
// Returns the id of the journal entry that now carries the change. A
// failed durable write surfaces as a StorageError, never silently.
func (r *JournalRepository) Enqueue(ctx context.Context, op *models.Operation, coalesce bool) (string, error) {
	run := func(q DBTX) (string, error) {
		if coalesce {
			if id, done, err := r.coalesce(ctx, q, op); err != nil {
				return "", err
			} else if done {
				return id, nil
			}
		}
		return r.insert(ctx, q, op)
	}

	if r.db == nil {
		return run(r.q)
	}

	// Multi-statement coalescing needs its own transaction when running
	// against the raw handle.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", models.NewStorageError("journal.enqueue", err)
	}
	id, err := run(tx)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", models.NewStorageError("journal.enqueue", err)
	}
	return id, nil
}

// coalesce collapses the pending chain for op's entity. It reports done
// when the new operation was absorbed and no insert is needed.
func (r *JournalRepository) coalesce(ctx context.Context, q DBTX, op *models.Operation) (string, bool, error) {
	pending, err := r.pendingForEntity(ctx, q, op.EntityKey())
	if err != nil {
		return "", false, err
	}
	if len(pending) == 0 {
		return "", false, nil
	}

	switch op.Kind {
	case models.OpDelete:
		hasCreate := false
		for _, p := range pending {
			if p.Kind == models.OpCreate {
				hasCreate = true
			}
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM journal WHERE entity_type = ? AND entity_id = ? AND status = 'pending'`,
			op.EntityType, op.EntityID); err != nil {
			return "", false, models.NewStorageError("journal.coalesce", err)
		}
		if hasCreate {
			// Create followed by Delete before any sync: nothing to push.
			return op.ID, true, nil
		}
		return "", false, nil

	case models.OpUpdate:
		last := pending[len(pending)-1]
		if last.Kind == models.OpCreate || last.Kind == models.OpUpdate {
			if _, err := q.ExecContext(ctx,
				`UPDATE journal SET payload = ? WHERE id = ?`,
				[]byte(op.Payload), last.ID); err != nil {
				return "", false, models.NewStorageError("journal.coalesce", err)
			}
			return last.ID, true, nil
		}
	}

	return "", false, nil
}

func (r *JournalRepository) insert(ctx context.Context, q DBTX, op *models.Operation) (string, error) {
	query := `
		INSERT INTO journal (
			id, entity_type, entity_id, kind, payload,
			base_version, base_timestamp, status, attempt_count, enqueued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := q.ExecContext(ctx, query,
		op.ID,
		op.EntityType,
		op.EntityID,
		string(op.Kind),
		[]byte(op.Payload),
		op.BaseVersion,
		op.BaseTimestamp,
		string(models.StatusPending),
		op.AttemptCount,
		op.EnqueuedAt,
	)
	if err != nil {
		return "", models.NewStorageError("journal.enqueue", err)
	}
	if seq, err := result.LastInsertId(); err == nil {
		op.Seq = seq
	}
	return op.ID, nil
}

// PendingBatch returns the oldest pending operations up to max, in enqueue
// order. Entities whose oldest unresolved entry is a terminally failed
// operation are skipped so replay order per entity is never violated.
func (r *JournalRepository) PendingBatch(ctx context.Context, max int) ([]*models.Operation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM journal j
		WHERE j.status = 'pending'
		AND NOT EXISTS (
			SELECT 1 FROM journal b
			WHERE b.entity_type = j.entity_type
			  AND b.entity_id = j.entity_id
			  AND b.status = 'failed'
			  AND b.seq < j.seq
		)
		ORDER BY j.seq
		LIMIT ?
	`, operationColumns)

	rows, err := r.q.QueryContext(ctx, query, max)
	if err != nil {
		return nil, models.NewStorageError("journal.pending_batch", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// GetByID retrieves a single journal entry
func (r *JournalRepository) GetByID(ctx context.Context, id string) (*models.Operation, error) {
	query := fmt.Sprintf(`SELECT %s FROM journal WHERE id = ?`, operationColumns)
	op, err := scanOperation(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("journal.get", err)
	}
	return op, nil
}

// MarkInFlight flags operations as handed to the network layer
func (r *JournalRepository) MarkInFlight(ctx context.Context, ids []string) error {
	return r.setStatus(ctx, ids, models.StatusInFlight)
}

// MarkPending returns in-flight entries to the pending set, used when a
// push attempt could not reach a verdict or a conflict awaits the pull
// phase. Attempt bookkeeping is untouched.
func (r *JournalRepository) MarkPending(ctx context.Context, ids []string) error {
	return r.setStatus(ctx, ids, models.StatusPending)
}

// RecoverInFlight requeues every in-flight entry. A crash between handing
// a batch to the network layer and recording its verdict leaves rows
// stranded with nobody to settle them; the server deduplicates re-pushed
// operations by id, so requeueing at cycle start is safe. Returns the
// number of rows recovered.
func (r *JournalRepository) RecoverInFlight(ctx context.Context) (int, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE journal SET status = ? WHERE status = ?`,
		string(models.StatusPending), string(models.StatusInFlight))
	if err != nil {
		return 0, models.NewStorageError("journal.recover_in_flight", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, models.NewStorageError("journal.recover_in_flight", err)
	}
	return int(n), nil
}

// MarkAcknowledged removes acknowledged entries. Idempotent: ids that are
// already gone are ignored, and other entries are unaffected.
func (r *JournalRepository) MarkAcknowledged(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM journal WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := r.q.ExecContext(ctx, query, toArgs(ids)...); err != nil {
		return models.NewStorageError("journal.mark_acknowledged", err)
	}
	return nil
}

// MarkSuperseded retires a conflict loser: the entry leaves the pending
// set without being pushed, but the row is kept for inspection.
func (r *JournalRepository) MarkSuperseded(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE journal SET status = ? WHERE id = ?`,
		string(models.StatusSuperseded), id); err != nil {
		return models.NewStorageError("journal.mark_superseded", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Terminal failures (server
// rejections) flip the entry to failed and exclude it from replay until
// the user acts; transient failures leave it pending for the next cycle.
func (r *JournalRepository) MarkFailed(ctx context.Context, id string, reason error, terminal bool) error {
	status := models.StatusPending
	if terminal {
		status = models.StatusFailed
	}
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	if _, err := r.q.ExecContext(ctx, `
		UPDATE journal
		SET status = ?, attempt_count = attempt_count + 1,
		    last_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		string(status), time.Now().UTC(), msg, id); err != nil {
		return models.NewStorageError("journal.mark_failed", err)
	}
	return nil
}

// Retry re-queues a terminally failed entry after user action
func (r *JournalRepository) Retry(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE journal SET status = ?, last_error = '' WHERE id = ? AND status = ?`,
		string(models.StatusPending), id, string(models.StatusFailed))
	if err != nil {
		return models.NewStorageError("journal.retry", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %s is not in a failed state", id)
	}
	return nil
}

// Rebase updates the base revision an operation was computed against,
// used when a conflict resolves in the local change's favor.
func (r *JournalRepository) Rebase(ctx context.Context, id string, baseVersion int64, baseTimestamp time.Time) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE journal SET base_version = ?, base_timestamp = ?, status = ? WHERE id = ?`,
		baseVersion, baseTimestamp.UTC(), string(models.StatusPending), id); err != nil {
		return models.NewStorageError("journal.rebase", err)
	}
	return nil
}

// ReplacePayload swaps an entry's payload, used for merged resolutions
func (r *JournalRepository) ReplacePayload(ctx context.Context, id string, payload []byte) error {
	if _, err := r.q.ExecContext(ctx,
		`UPDATE journal SET payload = ? WHERE id = ?`, payload, id); err != nil {
		return models.NewStorageError("journal.replace_payload", err)
	}
	return nil
}

// PendingForEntity returns pending entries for one entity in enqueue order
func (r *JournalRepository) PendingForEntity(ctx context.Context, key models.EntityKey) ([]*models.Operation, error) {
	return r.pendingForEntity(ctx, r.q, key)
}

func (r *JournalRepository) pendingForEntity(ctx context.Context, q DBTX, key models.EntityKey) ([]*models.Operation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM journal
		WHERE entity_type = ? AND entity_id = ? AND status = 'pending'
		ORDER BY seq
	`, operationColumns)

	rows, err := q.QueryContext(ctx, query, key.Type, key.ID)
	if err != nil {
		return nil, models.NewStorageError("journal.pending_for_entity", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// PendingCount returns the number of entries awaiting upload. In-flight
// entries count as pending: they have not been acknowledged yet.
func (r *JournalRepository) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journal WHERE status IN (?, ?)`,
		string(models.StatusPending), string(models.StatusInFlight)).Scan(&count)
	if err != nil {
		return 0, models.NewStorageError("journal.count", err)
	}
	return count, nil
}

// FailedCount returns the number of terminally failed entries
func (r *JournalRepository) FailedCount(ctx context.Context) (int, error) {
	return r.countByStatus(ctx, models.StatusFailed)
}

// FailedOperations returns terminally failed entries, oldest first
func (r *JournalRepository) FailedOperations(ctx context.Context) ([]*models.Operation, error) {
	query := fmt.Sprintf(`SELECT %s FROM journal WHERE status = 'failed' ORDER BY seq`, operationColumns)
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewStorageError("journal.failed_operations", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (r *JournalRepository) countByStatus(ctx context.Context, status models.OperationStatus) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM journal WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, models.NewStorageError("journal.count", err)
	}
	return count, nil
}

func (r *JournalRepository) setStatus(ctx context.Context, ids []string, status models.OperationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE journal SET status = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{string(status)}, toArgs(ids)...)
	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return models.NewStorageError("journal.set_status", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(s scanner) (*models.Operation, error) {
	var op models.Operation
	var kind, status string
	var payload []byte
	var baseTimestamp, lastAttemptAt sql.NullTime
	var lastError sql.NullString

	err := s.Scan(
		&op.Seq,
		&op.ID,
		&op.EntityType,
		&op.EntityID,
		&kind,
		&payload,
		&op.BaseVersion,
		&baseTimestamp,
		&status,
		&op.AttemptCount,
		&lastAttemptAt,
		&lastError,
		&op.EnqueuedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Kind = models.OperationKind(kind)
	op.Status = models.OperationStatus(status)
	op.Payload = payload
	if baseTimestamp.Valid {
		op.BaseTimestamp = baseTimestamp.Time
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		op.LastAttemptAt = &t
	}
	if lastError.Valid {
		op.LastError = lastError.String
	}
	return &op, nil
}

func scanOperations(rows *sql.Rows) ([]*models.Operation, error) {
	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
