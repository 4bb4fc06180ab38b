package models

import (
	"encoding/json"
	"time"
)

// SyncState is the orchestrator's externally visible state
type SyncState string

// Orchestrator states
const (
	StateIdle      SyncState = "idle"
	StatePushing   SyncState = "pushing"
	StatePulling   SyncState = "pulling"
	StateResolving SyncState = "resolving"
	StateApplying  SyncState = "applying"
	StatePaused    SyncState = "paused"
	StateFailed    SyncState = "failed"
)

// SyncStatus is the queryable snapshot of engine state
type SyncStatus struct {
	State                   SyncState  `json:"state"`
	LastSuccessAt           *time.Time `json:"lastSuccessAt,omitempty"`
	LastError               string     `json:"lastError,omitempty"`
	PendingOperationCount   int        `json:"pendingOperationCount"`
	FailedOperationCount    int        `json:"failedOperationCount"`
	UnresolvedConflictCount int        `json:"unresolvedConflictCount"`
	CycleCount              int64      `json:"cycleCount"`
}

// CycleResult summarizes one completed sync cycle
type CycleResult struct {
	Pushed     int           `json:"pushed"`
	Acked      int           `json:"acked"`
	Rejected   int           `json:"rejected"`
	Pulled     int           `json:"pulled"`
	Conflicts  int           `json:"conflicts"`
	Resynced   bool          `json:"resynced"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// EnqueueRequest is the request body for enqueueing a local change
type EnqueueRequest struct {
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Kind       OperationKind   `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResponse returns the journal id assigned to a local change
type EnqueueResponse struct {
	OperationID string `json:"operationId"`
}

// ConflictListResponse is the response for listing open conflicts
type ConflictListResponse struct {
	Conflicts  []*ConflictRecord `json:"conflicts"`
	TotalCount int               `json:"totalCount"`
}

// ResolveConflictRequest settles a NeedsUserInput conflict
type ResolveConflictRequest struct {
	// Choice is "local", "remote" or "merged"
	Choice        string          `json:"choice"`
	MergedPayload json.RawMessage `json:"mergedPayload,omitempty"`
	ResolvedBy    string          `json:"resolvedBy,omitempty"`
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
