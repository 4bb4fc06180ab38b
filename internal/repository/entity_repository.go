package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/datasync/engine/internal/models"
)

// EntityRepository implements EntityRepo over SQLite
type EntityRepository struct {
	q DBTX
}

// NewEntityRepository creates an entity repository over a database handle
func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{q: db}
}

// NewEntityRepositoryTx creates an entity repository bound to a transaction
func NewEntityRepositoryTx(tx *sql.Tx) *EntityRepository {
	return &EntityRepository{q: tx}
}

// Get retrieves a cached entity, tombstones included. Returns nil when
// the entity has never been seen.
func (r *EntityRepository) Get(ctx context.Context, entityType, entityID string) (*models.Entity, error) {
	query := `
		SELECT entity_type, entity_id, version, data, last_modified_by,
		       deleted, server_timestamp, pulled_at
		FROM entities WHERE entity_type = ? AND entity_id = ?
	`

	var e models.Entity
	var data []byte
	var deleted int
	var serverTimestamp, pulledAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, entityType, entityID).Scan(
		&e.Type,
		&e.ID,
		&e.Version,
		&data,
		&e.LastModifiedBy,
		&deleted,
		&serverTimestamp,
		&pulledAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("entities.get", err)
	}

	e.Data = data
	e.Deleted = deleted != 0
	if serverTimestamp.Valid {
		e.ServerTimestamp = serverTimestamp.Time
	}
	if pulledAt.Valid {
		e.PulledAt = pulledAt.Time
	}
	return &e, nil
}

// Put creates or overwrites a cached entity
func (r *EntityRepository) Put(ctx context.Context, entity *models.Entity) error {
	query := `
		INSERT INTO entities (
			entity_type, entity_id, version, data, last_modified_by,
			deleted, server_timestamp, pulled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			last_modified_by = excluded.last_modified_by,
			deleted = excluded.deleted,
			server_timestamp = excluded.server_timestamp,
			pulled_at = excluded.pulled_at
	`

	deleted := 0
	if entity.Deleted {
		deleted = 1
	}
	_, err := r.q.ExecContext(ctx, query,
		entity.Type,
		entity.ID,
		entity.Version,
		[]byte(entity.Data),
		entity.LastModifiedBy,
		deleted,
		entity.ServerTimestamp,
		entity.PulledAt,
	)
	if err != nil {
		return models.NewStorageError("entities.put", err)
	}
	return nil
}

// TombstoneNotPulledSince marks every live entity the server did not
// return during a full resync as deleted. Returns the number of rows
// tombstoned.
func (r *EntityRepository) TombstoneNotPulledSince(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE entities
		SET deleted = 1, last_modified_by = ?
		WHERE deleted = 0 AND (pulled_at IS NULL OR pulled_at < ?)`,
		models.ActorServer, cutoff.UTC())
	if err != nil {
		return 0, models.NewStorageError("entities.tombstone_missing", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, models.NewStorageError("entities.tombstone_missing", err)
	}
	return int(n), nil
}
