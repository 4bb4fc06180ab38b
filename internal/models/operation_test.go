package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOperation(t *testing.T) {
	baseTimestamp := time.Date(2026, 3, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	t.Run("creates operation with valid parameters", func(t *testing.T) {
		payload := json.RawMessage(`{"title":"hello"}`)

		op, err := NewOperation("note", "n1", OpUpdate, payload, 7, baseTimestamp)

		require.NoError(t, err)
		assert.NotEmpty(t, op.ID)
		assert.Equal(t, "note", op.EntityType)
		assert.Equal(t, "n1", op.EntityID)
		assert.Equal(t, OpUpdate, op.Kind)
		assert.Equal(t, payload, op.Payload)
		assert.Equal(t, int64(7), op.BaseVersion)
		assert.Equal(t, baseTimestamp.UTC(), op.BaseTimestamp)
		assert.Equal(t, StatusPending, op.Status)
		assert.WithinDuration(t, time.Now().UTC(), op.EnqueuedAt, time.Second*5)
	})

	t.Run("rejects empty entity type", func(t *testing.T) {
		_, err := NewOperation("  ", "n1", OpCreate, json.RawMessage(`{}`), 0, time.Time{})
		assert.ErrorIs(t, err, ErrEmptyEntityType)
	})

	t.Run("rejects empty entity id", func(t *testing.T) {
		_, err := NewOperation("note", "", OpCreate, json.RawMessage(`{}`), 0, time.Time{})
		assert.ErrorIs(t, err, ErrEmptyEntityID)
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, err := NewOperation("note", "n1", OperationKind("upsert"), json.RawMessage(`{}`), 0, time.Time{})
		assert.ErrorIs(t, err, ErrInvalidOperationKind)
	})

	t.Run("rejects empty payload for create and update", func(t *testing.T) {
		_, err := NewOperation("note", "n1", OpCreate, nil, 0, time.Time{})
		assert.ErrorIs(t, err, ErrEmptyPayload)

		_, err = NewOperation("note", "n1", OpUpdate, nil, 0, time.Time{})
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("allows empty payload for delete", func(t *testing.T) {
		op, err := NewOperation("note", "n1", OpDelete, nil, 3, baseTimestamp)

		require.NoError(t, err)
		assert.Equal(t, OpDelete, op.Kind)
		assert.Empty(t, op.Payload)
	})

	t.Run("generates unique ids", func(t *testing.T) {
		op1, err := NewOperation("note", "n1", OpDelete, nil, 0, time.Time{})
		require.NoError(t, err)

		op2, err := NewOperation("note", "n1", OpDelete, nil, 0, time.Time{})
		require.NoError(t, err)

		assert.NotEqual(t, op1.ID, op2.ID)
	})
}

func TestErrorClassifiers(t *testing.T) {
	t.Run("transient wraps survive fmt.Errorf", func(t *testing.T) {
		err := NewTransientError(assert.AnError)
		wrapped := NewStorageError("journal.enqueue", err)

		assert.True(t, IsTransient(wrapped))
		assert.True(t, IsStorage(wrapped))
		assert.False(t, IsRejected(wrapped))
	})

	t.Run("rejected carries the server reason", func(t *testing.T) {
		err := &RejectedError{StatusCode: 422, Reason: "schema validation failed"}

		assert.True(t, IsRejected(err))
		assert.Contains(t, err.Error(), "HTTP 422")
		assert.Contains(t, err.Error(), "schema validation failed")
	})

	t.Run("sentinels match through Is helpers", func(t *testing.T) {
		assert.True(t, IsCursorExpired(ErrCursorExpired))
		assert.True(t, IsAuthExpired(ErrAuthExpired))
		assert.False(t, IsCursorExpired(ErrAuthExpired))
	})
}
