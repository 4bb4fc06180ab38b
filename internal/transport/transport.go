// Package transport talks to the authoritative sync server. It is the
// only part of the engine that performs network I/O; everything it
// returns is classified into the engine's error taxonomy so the retry
// scheduler and orchestrator can act without inspecting HTTP details.
package transport

import (
	"context"

	"github.com/datasync/engine/internal/models"
)

// Transport is the network collaborator consumed by the orchestrator
type Transport interface {
	// Push uploads a batch of operations and returns per-operation
	// results. A returned error applies to the whole batch.
	Push(ctx context.Context, ops []*models.Operation) ([]models.PushResult, error)

	// Pull fetches one page of remote changes after cursor. An expired
	// cursor surfaces as models.ErrCursorExpired.
	Pull(ctx context.Context, cursor models.SyncCursor, pageSize int) (*models.PullPage, error)
}

// TokenProvider supplies bearer tokens for the sync server. Token refresh
// is owned by the application; the transport only asks for a refresh once
// per rejected call before giving up with ErrAuthExpired.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// StaticToken is a TokenProvider for a fixed credential that cannot be
// refreshed (development setups, API-key backends).
type StaticToken string

// Token returns the fixed credential
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// Refresh always fails: a static token has nothing to refresh
func (t StaticToken) Refresh(ctx context.Context) error {
	return models.ErrAuthExpired
}
