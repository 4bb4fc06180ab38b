package services

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/datasync/engine/internal/models"
)

// ConflictPolicy decides the outcome when a pending local operation and a
// remote change target the same entity from different actors. Implementations
// must be pure: the same inputs always produce the same resolution.
type ConflictPolicy interface {
	Resolve(local *models.Operation, remote *models.RemoteChange) models.Resolution
}

// EntitySchema describes resolution hints for one entity type.
type EntitySchema struct {
	// MergeableFields lists top-level JSON fields that can be merged
	// independently. When local and remote edits touch disjoint subsets of
	// these fields, both sets of edits survive.
	MergeableFields []string

	// UndeletePreferred inverts the delete-wins rule for this type: an edit
	// survives a concurrent delete instead of being discarded.
	UndeletePreferred bool
}

// ResolverRegistry dispatches conflict resolution by entity type. Types
// without an explicit policy or schema fall back to last-write-wins.
type ResolverRegistry struct {
	mu       sync.RWMutex
	policies map[string]ConflictPolicy
	fallback ConflictPolicy
}

// NewResolverRegistry creates a registry with a last-write-wins fallback.
func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{
		policies: make(map[string]ConflictPolicy),
		fallback: &LastWriteWinsPolicy{},
	}
}

// RegisterPolicy installs a custom policy for an entity type.
func (r *ResolverRegistry) RegisterPolicy(entityType string, policy ConflictPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[entityType] = policy
}

// RegisterSchema installs a field-merge policy derived from the schema. Edits
// to disjoint mergeable fields are combined; anything else falls through to
// last-write-wins with the schema's delete preference.
func (r *ResolverRegistry) RegisterSchema(entityType string, schema EntitySchema) {
	policy := &FieldMergePolicy{
		mergeable: make(map[string]bool, len(schema.MergeableFields)),
		fallback:  &LastWriteWinsPolicy{UndeletePreferred: schema.UndeletePreferred},
	}
	for _, f := range schema.MergeableFields {
		policy.mergeable[f] = true
	}
	r.RegisterPolicy(entityType, policy)
}

// Resolve applies the policy registered for the operation's entity type.
func (r *ResolverRegistry) Resolve(local *models.Operation, remote *models.RemoteChange) models.Resolution {
	r.mu.RLock()
	policy, ok := r.policies[local.EntityType]
	r.mu.RUnlock()
	if !ok {
		policy = r.fallback
	}
	return policy.Resolve(local, remote)
}

// LastWriteWinsPolicy resolves by comparing the remote change's server
// timestamp against the server timestamp of the version the local operation
// was based on. Both sides of the comparison were assigned by the server
// clock, so the outcome never depends on the device clock.
type LastWriteWinsPolicy struct {
	UndeletePreferred bool
}

// Resolve picks a winner. Deletes beat concurrent edits unless the policy
// prefers undelete. In the edit-vs-edit case the remote change wins whenever
// it postdates the local operation's base version, which it always does in a
// true conflict.
func (p *LastWriteWinsPolicy) Resolve(local *models.Operation, remote *models.RemoteChange) models.Resolution {
	switch {
	case remote.Deleted && local.Kind != models.OpDelete:
		if p.UndeletePreferred {
			return models.Resolution{Outcome: models.LocalWins}
		}
		return models.Resolution{Outcome: models.RemoteWins}
	case local.Kind == models.OpDelete && !remote.Deleted:
		if p.UndeletePreferred {
			return models.Resolution{Outcome: models.RemoteWins}
		}
		return models.Resolution{Outcome: models.LocalWins}
	case remote.ServerTimestamp.After(local.BaseTimestamp):
		return models.Resolution{Outcome: models.RemoteWins}
	default:
		return models.Resolution{Outcome: models.LocalWins}
	}
}

// FieldMergePolicy merges edits that touch disjoint mergeable fields. The
// merged payload starts from the remote snapshot and overlays the local values
// for every mergeable field where the two sides differ. If any non-mergeable
// field differs, or either payload is not a JSON object, the fallback policy
// decides instead.
type FieldMergePolicy struct {
	mergeable map[string]bool
	fallback  ConflictPolicy
}

func (p *FieldMergePolicy) Resolve(local *models.Operation, remote *models.RemoteChange) models.Resolution {
	if remote.Deleted || local.Kind == models.OpDelete {
		return p.fallback.Resolve(local, remote)
	}

	var localDoc, remoteDoc map[string]json.RawMessage
	if err := json.Unmarshal(local.Payload, &localDoc); err != nil {
		return p.fallback.Resolve(local, remote)
	}
	if err := json.Unmarshal(remote.Data, &remoteDoc); err != nil {
		return p.fallback.Resolve(local, remote)
	}

	merged := make(map[string]json.RawMessage, len(remoteDoc))
	for k, v := range remoteDoc {
		merged[k] = v
	}

	for field, localVal := range localDoc {
		remoteVal, inRemote := remoteDoc[field]
		if inRemote && jsonEqual(localVal, remoteVal) {
			continue
		}
		if !p.mergeable[field] {
			return p.fallback.Resolve(local, remote)
		}
		merged[field] = localVal
	}
	for field := range remoteDoc {
		if _, inLocal := localDoc[field]; !inLocal && !p.mergeable[field] {
			return p.fallback.Resolve(local, remote)
		}
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return p.fallback.Resolve(local, remote)
	}
	return models.Resolution{Outcome: models.Merged, MergedPayload: payload}
}

// ManualPolicy defers every conflict to the user. Entities governed by it
// accumulate open conflict records instead of being auto-resolved.
type ManualPolicy struct{}

func (ManualPolicy) Resolve(*models.Operation, *models.RemoteChange) models.Resolution {
	return models.Resolution{Outcome: models.NeedsUserInput}
}

// jsonEqual compares two JSON values structurally, ignoring formatting.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
