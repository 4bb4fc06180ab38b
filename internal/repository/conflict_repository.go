package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/datasync/engine/internal/models"
)

// ConflictRepository persists conflicts that need user input
type ConflictRepository struct {
	q DBTX
}

// NewConflictRepository creates a conflict repository over a database handle
func NewConflictRepository(db *sql.DB) *ConflictRepository {
	return &ConflictRepository{q: db}
}

// NewConflictRepositoryTx creates a conflict repository bound to a transaction
func NewConflictRepositoryTx(tx *sql.Tx) *ConflictRepository {
	return &ConflictRepository{q: tx}
}

const conflictColumns = `id, operation_id, entity_type, entity_id, local_kind,
	local_payload, local_base_version, remote_payload, remote_version,
	remote_deleted, remote_timestamp, outcome, status, resolved_at,
	resolved_by, detected_at`

// Add stores a new conflict record
func (r *ConflictRepository) Add(ctx context.Context, record *models.ConflictRecord) error {
	query := `
		INSERT INTO conflicts (
			id, operation_id, entity_type, entity_id, local_kind,
			local_payload, local_base_version, remote_payload, remote_version,
			remote_deleted, remote_timestamp, outcome, status, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	remoteDeleted := 0
	if record.RemoteDeleted {
		remoteDeleted = 1
	}
	_, err := r.q.ExecContext(ctx, query,
		record.ID,
		record.OperationID,
		record.EntityType,
		record.EntityID,
		string(record.LocalKind),
		[]byte(record.LocalPayload),
		record.LocalBaseVer,
		[]byte(record.RemotePayload),
		record.RemoteVersion,
		remoteDeleted,
		record.RemoteStamp,
		string(record.Outcome),
		record.Status,
		record.DetectedAt,
	)
	if err != nil {
		return models.NewStorageError("conflicts.add", err)
	}
	return nil
}

// GetByID retrieves a conflict record
func (r *ConflictRepository) GetByID(ctx context.Context, id string) (*models.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE id = ?`
	record, err := scanConflict(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("conflicts.get", err)
	}
	return record, nil
}

// ListOpen returns unresolved conflicts, oldest first
func (r *ConflictRepository) ListOpen(ctx context.Context) ([]*models.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE status = ? ORDER BY detected_at`
	rows, err := r.q.QueryContext(ctx, query, models.ConflictOpen)
	if err != nil {
		return nil, models.NewStorageError("conflicts.list_open", err)
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		record, err := scanConflict(rows)
		if err != nil {
			return nil, models.NewStorageError("conflicts.list_open", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountOpen returns the number of unresolved conflicts
func (r *ConflictRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE status = ?`, models.ConflictOpen).Scan(&count)
	if err != nil {
		return 0, models.NewStorageError("conflicts.count_open", err)
	}
	return count, nil
}

// MarkResolved closes a conflict record after the user settles it
func (r *ConflictRepository) MarkResolved(ctx context.Context, id, resolvedBy string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE conflicts
		SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ?`,
		models.ConflictResolved, time.Now().UTC(), resolvedBy, id)
	if err != nil {
		return models.NewStorageError("conflicts.mark_resolved", err)
	}
	return nil
}

func scanConflict(s scanner) (*models.ConflictRecord, error) {
	var record models.ConflictRecord
	var localKind, outcome string
	var localPayload, remotePayload []byte
	var remoteDeleted int
	var remoteStamp, resolvedAt sql.NullTime
	var resolvedBy sql.NullString

	err := s.Scan(
		&record.ID,
		&record.OperationID,
		&record.EntityType,
		&record.EntityID,
		&localKind,
		&localPayload,
		&record.LocalBaseVer,
		&remotePayload,
		&record.RemoteVersion,
		&remoteDeleted,
		&remoteStamp,
		&outcome,
		&record.Status,
		&resolvedAt,
		&resolvedBy,
		&record.DetectedAt,
	)
	if err != nil {
		return nil, err
	}

	record.LocalKind = models.OperationKind(localKind)
	record.Outcome = models.ResolutionOutcome(outcome)
	record.LocalPayload = localPayload
	record.RemotePayload = remotePayload
	record.RemoteDeleted = remoteDeleted != 0
	if remoteStamp.Valid {
		record.RemoteStamp = remoteStamp.Time
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		record.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		s := resolvedBy.String
		record.ResolvedBy = &s
	}
	return &record, nil
}
