package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResolutionOutcome is the decision produced by a conflict policy
type ResolutionOutcome string

// Resolution outcomes
const (
	LocalWins      ResolutionOutcome = "local_wins"
	RemoteWins     ResolutionOutcome = "remote_wins"
	Merged         ResolutionOutcome = "merged"
	NeedsUserInput ResolutionOutcome = "needs_user_input"
)

// Resolution is the outcome of resolving one local/remote conflict.
// MergedPayload is set only when Outcome is Merged.
type Resolution struct {
	Outcome       ResolutionOutcome `json:"outcome"`
	MergedPayload json.RawMessage   `json:"mergedPayload,omitempty"`
}

// ConflictRecord captures both sides of a detected conflict.
//
// Records are transient within a sync cycle; only NeedsUserInput outcomes
// are persisted, surfaced on the status API, and settled by the user.
type ConflictRecord struct {
	ID            string            `json:"id"`
	OperationID   string            `json:"operationId"`
	EntityType    string            `json:"entityType"`
	EntityID      string            `json:"entityId"`
	LocalKind     OperationKind     `json:"localKind"`
	LocalPayload  json.RawMessage   `json:"localPayload,omitempty"`
	LocalBaseVer  int64             `json:"localBaseVersion"`
	RemotePayload json.RawMessage   `json:"remotePayload,omitempty"`
	RemoteVersion int64             `json:"remoteVersion"`
	RemoteDeleted bool              `json:"remoteDeleted"`
	RemoteStamp   time.Time         `json:"remoteTimestamp"`
	Outcome       ResolutionOutcome `json:"outcome"`
	DetectedAt    time.Time         `json:"detectedAt"`

	// Resolution tracking (user-settled records only)
	Status     string     `json:"status"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy *string    `json:"resolvedBy,omitempty"`
}

// ConflictRecord status constants
const (
	ConflictOpen     = "open"
	ConflictResolved = "resolved"
)

// NewConflictRecord builds a record from the two conflicting sides
func NewConflictRecord(local *Operation, remote *RemoteChange, outcome ResolutionOutcome) *ConflictRecord {
	return &ConflictRecord{
		ID:            uuid.New().String(),
		OperationID:   local.ID,
		EntityType:    local.EntityType,
		EntityID:      local.EntityID,
		LocalKind:     local.Kind,
		LocalPayload:  local.Payload,
		LocalBaseVer:  local.BaseVersion,
		RemotePayload: remote.Data,
		RemoteVersion: remote.Version,
		RemoteDeleted: remote.Deleted,
		RemoteStamp:   remote.ServerTimestamp,
		Outcome:       outcome,
		DetectedAt:    time.Now().UTC(),
		Status:        ConflictOpen,
	}
}
