package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasync/engine/internal/models"
)

func TestEntityGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	entity, err := store.Entities.Get(context.Background(), "note", "missing")
	require.NoError(t, err)
	assert.Nil(t, entity)
}

func TestEntityPutAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stamp := time.Date(2026, 5, 2, 11, 0, 0, 0, time.UTC)
	original := &models.Entity{
		Type:            "note",
		ID:              "n1",
		Version:         3,
		Data:            json.RawMessage(`{"title":"hello"}`),
		LastModifiedBy:  models.ActorServer,
		ServerTimestamp: stamp,
		PulledAt:        stamp,
	}
	require.NoError(t, store.Entities.Put(ctx, original))

	got, err := store.Entities.Get(ctx, "note", "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Version)
	assert.JSONEq(t, `{"title":"hello"}`, string(got.Data))
	assert.False(t, got.Deleted)

	// Upsert replaces the row in place.
	original.Version = 4
	original.Deleted = true
	require.NoError(t, store.Entities.Put(ctx, original))

	got, err = store.Entities.Get(ctx, "note", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
	assert.True(t, got.Deleted)
}

func TestEntityTombstoneNotPulledSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

	stale := &models.Entity{
		Type: "note", ID: "old", Version: 1,
		Data:           json.RawMessage(`{}`),
		LastModifiedBy: models.ActorServer,
		PulledAt:       cutoff.Add(-time.Hour),
	}
	fresh := &models.Entity{
		Type: "note", ID: "new", Version: 2,
		Data:           json.RawMessage(`{}`),
		LastModifiedBy: models.ActorServer,
		PulledAt:       cutoff.Add(time.Minute),
	}
	require.NoError(t, store.Entities.Put(ctx, stale))
	require.NoError(t, store.Entities.Put(ctx, fresh))

	n, err := store.Entities.TombstoneNotPulledSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Entities.Get(ctx, "note", "old")
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	got, err = store.Entities.Get(ctx, "note", "new")
	require.NoError(t, err)
	assert.False(t, got.Deleted)
}
