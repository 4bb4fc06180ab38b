package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies the type of local mutation
type OperationKind string

// Operation kinds
const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// OperationStatus tracks an operation through its journal lifecycle
type OperationStatus string

// Operation statuses. Acknowledged operations are removed from the journal
// rather than stored; Superseded marks conflict losers that were retired
// without being pushed.
const (
	StatusPending    OperationStatus = "pending"
	StatusInFlight   OperationStatus = "in_flight"
	StatusFailed     OperationStatus = "failed"
	StatusSuperseded OperationStatus = "superseded"
)

// Operation is a single pending local mutation awaiting upload.
//
// Payloads are full entity snapshots, not patches. BaseVersion and
// BaseTimestamp capture the server revision the mutation was computed
// against and drive conflict detection at pull time.
type Operation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Kind          OperationKind   `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	BaseVersion   int64           `json:"baseVersion"`
	BaseTimestamp time.Time       `json:"baseTimestamp"`
	Status        OperationStatus `json:"status"`
	AttemptCount  int             `json:"attemptCount"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
}

// NewOperation creates a pending Operation with a fresh id
func NewOperation(entityType, entityID string, kind OperationKind, payload json.RawMessage, baseVersion int64, baseTimestamp time.Time) (*Operation, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, ErrEmptyEntityType
	}
	if strings.TrimSpace(entityID) == "" {
		return nil, ErrEmptyEntityID
	}
	switch kind {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return nil, ErrInvalidOperationKind
	}
	if kind != OpDelete && len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	return &Operation{
		ID:            uuid.New().String(),
		EntityType:    entityType,
		EntityID:      entityID,
		Kind:          kind,
		Payload:       payload,
		BaseVersion:   baseVersion,
		BaseTimestamp: baseTimestamp.UTC(),
		Status:        StatusPending,
		EnqueuedAt:    time.Now().UTC(),
	}, nil
}

// EntityKey returns the (type, id) pair targeted by this operation
func (o *Operation) EntityKey() EntityKey {
	return EntityKey{Type: o.EntityType, ID: o.EntityID}
}
