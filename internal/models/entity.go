package models

import (
	"encoding/json"
	"time"
)

// Actor values for Entity.LastModifiedBy
const (
	ActorLocal  = "local"
	ActorServer = "server"
)

// EntityKey identifies a domain record by type and id
type EntityKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Entity is a locally cached domain record.
//
// Version is assigned by the server and strictly increases per entity.
// Deleted entities are retained as tombstones (id and last version kept)
// so late-arriving stale writes can detect the deletion.
type Entity struct {
	Type            string          `json:"type"`
	ID              string          `json:"id"`
	Version         int64           `json:"version"`
	Data            json.RawMessage `json:"data,omitempty"`
	LastModifiedBy  string          `json:"lastModifiedBy"`
	Deleted         bool            `json:"deleted"`
	ServerTimestamp time.Time       `json:"serverTimestamp"`
	PulledAt        time.Time       `json:"pulledAt"`
}

// Key returns the entity's (type, id) pair
func (e *Entity) Key() EntityKey {
	return EntityKey{Type: e.Type, ID: e.ID}
}
