package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasync/engine/internal/models"
)

var (
	baseStamp   = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	remoteStamp = baseStamp.Add(5 * time.Minute)
)

func localOp(t *testing.T, kind models.OperationKind, payload string) *models.Operation {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	op, err := models.NewOperation("note", "n1", kind, raw, 3, baseStamp)
	require.NoError(t, err)
	return op
}

func remoteChange(payload string, deleted bool) *models.RemoteChange {
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	return &models.RemoteChange{
		EntityType:      "note",
		EntityID:        "n1",
		Version:         4,
		Data:            raw,
		Deleted:         deleted,
		ModifiedBy:      "other-device",
		ServerTimestamp: remoteStamp,
	}
}

func TestLastWriteWins(t *testing.T) {
	policy := &LastWriteWinsPolicy{}

	t.Run("remote postdating the local base wins", func(t *testing.T) {
		r := policy.Resolve(localOp(t, models.OpUpdate, `{"title":"local"}`), remoteChange(`{"title":"remote"}`, false))
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})

	t.Run("remote not newer than the base loses", func(t *testing.T) {
		change := remoteChange(`{"title":"remote"}`, false)
		change.ServerTimestamp = baseStamp
		r := policy.Resolve(localOp(t, models.OpUpdate, `{"title":"local"}`), change)
		assert.Equal(t, models.LocalWins, r.Outcome)
	})

	t.Run("remote delete beats a local edit", func(t *testing.T) {
		r := policy.Resolve(localOp(t, models.OpUpdate, `{"title":"local"}`), remoteChange("", true))
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})

	t.Run("local delete beats a remote edit", func(t *testing.T) {
		r := policy.Resolve(localOp(t, models.OpDelete, ""), remoteChange(`{"title":"remote"}`, false))
		assert.Equal(t, models.LocalWins, r.Outcome)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		op := localOp(t, models.OpUpdate, `{"title":"local"}`)
		change := remoteChange(`{"title":"remote"}`, false)
		first := policy.Resolve(op, change)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, policy.Resolve(op, change))
		}
	})
}

func TestLastWriteWinsUndeletePreferred(t *testing.T) {
	policy := &LastWriteWinsPolicy{UndeletePreferred: true}

	t.Run("local edit survives a remote delete", func(t *testing.T) {
		r := policy.Resolve(localOp(t, models.OpUpdate, `{"title":"local"}`), remoteChange("", true))
		assert.Equal(t, models.LocalWins, r.Outcome)
	})

	t.Run("remote edit survives a local delete", func(t *testing.T) {
		r := policy.Resolve(localOp(t, models.OpDelete, ""), remoteChange(`{"title":"remote"}`, false))
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})
}

func TestFieldMerge(t *testing.T) {
	registry := NewResolverRegistry()
	registry.RegisterSchema("note", EntitySchema{MergeableFields: []string{"title", "tags"}})

	t.Run("mergeable edits are combined over the remote snapshot", func(t *testing.T) {
		// Local edited the title; the remote snapshot carries new tags.
		// Both differing fields are mergeable, so neither side conflicts:
		// local values win the fields it touched, remote supplies the rest.
		op := localOp(t, models.OpUpdate, `{"title":"new title","body":"text"}`)
		change := remoteChange(`{"title":"old title","tags":["a","b"],"body":"text"}`, false)

		r := registry.Resolve(op, change)
		require.Equal(t, models.Merged, r.Outcome)
		assert.JSONEq(t, `{"title":"new title","tags":["a","b"],"body":"text"}`, string(r.MergedPayload))
	})

	t.Run("non-mergeable field difference falls back to last write wins", func(t *testing.T) {
		op := localOp(t, models.OpUpdate, `{"title":"t","body":"local body"}`)
		change := remoteChange(`{"title":"t","body":"remote body"}`, false)

		r := registry.Resolve(op, change)
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})

	t.Run("delete conflicts skip merging", func(t *testing.T) {
		op := localOp(t, models.OpUpdate, `{"title":"t"}`)
		r := registry.Resolve(op, remoteChange("", true))
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})

	t.Run("non-object payloads fall back", func(t *testing.T) {
		op := localOp(t, models.OpUpdate, `[1,2,3]`)
		r := registry.Resolve(op, remoteChange(`{"title":"t"}`, false))
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})
}

func TestRegistryDispatch(t *testing.T) {
	registry := NewResolverRegistry()
	registry.RegisterPolicy("task", ManualPolicy{})

	t.Run("unregistered types use last write wins", func(t *testing.T) {
		r := registry.Resolve(localOp(t, models.OpUpdate, `{"title":"l"}`), remoteChange(`{"title":"r"}`, false))
		assert.Equal(t, models.RemoteWins, r.Outcome)
	})

	t.Run("manual policy defers to the user", func(t *testing.T) {
		op, err := models.NewOperation("task", "t1", models.OpUpdate,
			json.RawMessage(`{"done":true}`), 1, baseStamp)
		require.NoError(t, err)

		r := registry.Resolve(op, &models.RemoteChange{
			EntityType: "task", EntityID: "t1", Version: 2,
			Data:            json.RawMessage(`{"done":false}`),
			ModifiedBy:      "other-device",
			ServerTimestamp: remoteStamp,
		})
		assert.Equal(t, models.NeedsUserInput, r.Outcome)
	})
}
