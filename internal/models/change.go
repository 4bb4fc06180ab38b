package models

import (
	"encoding/json"
	"time"
)

// SyncCursor is an opaque progress marker for delta pulls. The server
// issues it; the engine only persists and echoes it. An empty cursor
// means "from the beginning of history".
type SyncCursor string

// RemoteChange is a single entity change received from the server
type RemoteChange struct {
	EntityType      string          `json:"entityType"`
	EntityID        string          `json:"entityId"`
	Version         int64           `json:"version"`
	Data            json.RawMessage `json:"data,omitempty"`
	Deleted         bool            `json:"deleted"`
	ModifiedBy      string          `json:"modifiedBy"`
	ServerTimestamp time.Time       `json:"serverTimestamp"`
}

// EntityKey returns the (type, id) pair touched by this change
func (c *RemoteChange) EntityKey() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// Entity converts the change into a local cache record
func (c *RemoteChange) Entity(pulledAt time.Time) *Entity {
	return &Entity{
		Type:            c.EntityType,
		ID:              c.EntityID,
		Version:         c.Version,
		Data:            c.Data,
		LastModifiedBy:  ActorServer,
		Deleted:         c.Deleted,
		ServerTimestamp: c.ServerTimestamp,
		PulledAt:        pulledAt.UTC(),
	}
}

// PullPage is one bounded page of remote changes
type PullPage struct {
	Changes    []RemoteChange `json:"changes"`
	NextCursor SyncCursor     `json:"nextCursor"`
	HasMore    bool           `json:"hasMore"`
	// FullResync is set when the page belongs to a complete state
	// snapshot rather than an incremental delta.
	FullResync bool `json:"fullResync,omitempty"`
}

// PushStatus is the server's verdict on one pushed operation
type PushStatus string

// Push result statuses
const (
	PushAcknowledged PushStatus = "acknowledged"
	PushRejected     PushStatus = "rejected"
	PushConflict     PushStatus = "conflict"
)

// PushResult reports the outcome of one operation within a push batch
type PushResult struct {
	OperationID     string     `json:"operationId"`
	Status          PushStatus `json:"status"`
	ServerVersion   int64      `json:"serverVersion,omitempty"`
	ServerTimestamp time.Time  `json:"serverTimestamp,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

// PushRequest is the wire body for a push batch
type PushRequest struct {
	ClientID   string      `json:"clientId"`
	Operations []Operation `json:"operations"`
}

// PushResponse is the wire body returned for a push batch
type PushResponse struct {
	Results []PushResult `json:"results"`
}

// PullRequest is the wire body for one delta page request
type PullRequest struct {
	ClientID string     `json:"clientId"`
	Cursor   SyncCursor `json:"cursor,omitempty"`
	PageSize int        `json:"pageSize"`
}
