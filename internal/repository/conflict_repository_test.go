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

func seedConflict(t *testing.T, store *Store) *models.ConflictRecord {
	t.Helper()
	op, err := models.NewOperation("note", "n1", models.OpUpdate,
		json.RawMessage(`{"title":"local"}`), 3, time.Now().UTC())
	require.NoError(t, err)

	remote := &models.RemoteChange{
		EntityType:      "note",
		EntityID:        "n1",
		Version:         5,
		Data:            json.RawMessage(`{"title":"remote"}`),
		ModifiedBy:      "other-device",
		ServerTimestamp: time.Now().UTC(),
	}

	record := models.NewConflictRecord(op, remote, models.NeedsUserInput)
	require.NoError(t, store.Conflicts.Add(context.Background(), record))
	return record
}

func TestConflictLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := seedConflict(t, store)

	t.Run("open conflicts are listed and counted", func(t *testing.T) {
		open, err := store.Conflicts.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, record.ID, open[0].ID)
		assert.Equal(t, models.NeedsUserInput, open[0].Outcome)

		count, err := store.Conflicts.CountOpen(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("get by id returns both sides", func(t *testing.T) {
		got, err := store.Conflicts.GetByID(ctx, record.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.JSONEq(t, `{"title":"local"}`, string(got.LocalPayload))
		assert.JSONEq(t, `{"title":"remote"}`, string(got.RemotePayload))
		assert.Equal(t, int64(5), got.RemoteVersion)
	})

	t.Run("resolving removes it from the open set", func(t *testing.T) {
		require.NoError(t, store.Conflicts.MarkResolved(ctx, record.ID, "tester"))

		count, err := store.Conflicts.CountOpen(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		got, err := store.Conflicts.GetByID(ctx, record.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.ConflictResolved, got.Status)
		require.NotNil(t, got.ResolvedBy)
		assert.Equal(t, "tester", *got.ResolvedBy)
	})
}

func TestConflictGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Conflicts.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}
