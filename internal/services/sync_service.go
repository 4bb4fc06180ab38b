package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/datasync/engine/internal/models"
	"github.com/datasync/engine/internal/observability"
	"github.com/datasync/engine/internal/repository"
	"github.com/datasync/engine/internal/retry"
	"github.com/datasync/engine/internal/transport"
)

// StatusNotifier receives engine state transitions and cycle summaries.
// The websocket hub implements it; a nil notifier disables notifications.
type StatusNotifier interface {
	NotifyState(state models.SyncState)
	NotifyCycle(result models.CycleResult)
}

// SyncConfig carries the orchestrator's tuning knobs.
type SyncConfig struct {
	ClientID        string
	PushBatchSize   int
	MaxPushAttempts int
	CoalesceWrites  bool
}

// SyncService is the engine orchestrator. It owns the cycle state machine,
// coordinates the journal, transport, delta fetcher and conflict resolver,
// and is the only component that mutates engine state.
type SyncService struct {
	store     *repository.Store
	transport transport.Transport
	scheduler *retry.Scheduler
	resolver  *ResolverRegistry
	fetcher   *DeltaFetcher
	notifier  StatusNotifier
	metrics   *observability.SyncMetrics
	logger    *observability.Logger
	cfg       SyncConfig

	mu            sync.Mutex
	state         models.SyncState
	lastSuccessAt *time.Time
	lastError     string
	cycleCount    int64
	running       bool
	paused        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// SyncHandle tracks one in-flight cycle triggered by TriggerSync.
type SyncHandle struct {
	done   chan struct{}
	result models.CycleResult
}

// Wait blocks until the cycle finishes or ctx is done.
func (h *SyncHandle) Wait(ctx context.Context) (models.CycleResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return models.CycleResult{}, ctx.Err()
	}
}

// NewSyncService creates the orchestrator in the idle state.
func NewSyncService(store *repository.Store, tr transport.Transport, scheduler *retry.Scheduler, resolver *ResolverRegistry, fetcher *DeltaFetcher, notifier StatusNotifier, metrics *observability.SyncMetrics, logger *observability.Logger, cfg SyncConfig) *SyncService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncService{
		store:     store,
		transport: tr,
		scheduler: scheduler,
		resolver:  resolver,
		fetcher:   fetcher,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		state:     models.StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// EnqueueLocalChange journals a local mutation and applies it to the local
// entity cache in one transaction. The write is durable before this returns;
// upload happens on the next cycle. Enqueueing is allowed in every engine
// state, including paused, so the application stays writable offline.
func (s *SyncService) EnqueueLocalChange(ctx context.Context, req models.EnqueueRequest) (string, error) {
	entity, err := s.store.Entities.Get(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return "", err
	}

	var baseVersion int64
	var baseTimestamp, pulledAt time.Time
	if entity != nil {
		baseVersion = entity.Version
		baseTimestamp = entity.ServerTimestamp
		pulledAt = entity.PulledAt
	}

	op, err := models.NewOperation(req.EntityType, req.EntityID, req.Kind, req.Payload, baseVersion, baseTimestamp)
	if err != nil {
		return "", err
	}

	var opID string
	err = s.store.Transact(ctx, func(tx *repository.Store) error {
		id, err := tx.Journal.Enqueue(ctx, op, s.cfg.CoalesceWrites)
		if err != nil {
			return err
		}
		opID = id

		local := &models.Entity{
			Type:            req.EntityType,
			ID:              req.EntityID,
			Version:         baseVersion,
			Data:            req.Payload,
			LastModifiedBy:  models.ActorLocal,
			Deleted:         req.Kind == models.OpDelete,
			ServerTimestamp: baseTimestamp,
			PulledAt:        pulledAt,
		}
		return tx.Entities.Put(ctx, local)
	})
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordEnqueue(ctx)
	}
	s.logger.WithFields(map[string]interface{}{
		"operationId": opID,
		"entityType":  req.EntityType,
		"kind":        string(req.Kind),
	}).Debug("local change journaled")

	return opID, nil
}

// TriggerSync starts a cycle and returns without waiting for it. At most one
// cycle runs at a time; a second trigger while one is in flight returns
// ErrSyncInProgress.
func (s *SyncService) TriggerSync() (*SyncHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.paused:
		return nil, models.ErrEnginePaused
	case s.state == models.StateFailed:
		return nil, models.ErrEngineFailed
	case s.running:
		return nil, models.ErrSyncInProgress
	}

	s.running = true
	handle := &SyncHandle{done: make(chan struct{})}
	s.wg.Add(1)
	go s.runCycle(handle)
	return handle, nil
}

// Status reports the engine's current state together with journal and
// conflict counts.
func (s *SyncService) Status(ctx context.Context) (*models.SyncStatus, error) {
	pending, err := s.store.Journal.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.store.Journal.FailedCount(ctx)
	if err != nil {
		return nil, err
	}
	conflicts, err := s.store.Conflicts.CountOpen(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.SyncStatus{
		State:                   s.state,
		LastSuccessAt:           s.lastSuccessAt,
		LastError:               s.lastError,
		PendingOperationCount:   pending,
		FailedOperationCount:    failed,
		UnresolvedConflictCount: conflicts,
		CycleCount:              s.cycleCount,
	}, nil
}

// Pause stops new cycles from starting. A cycle already in flight finishes;
// the paused state takes effect when it unwinds.
func (s *SyncService) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StateFailed {
		return
	}
	s.paused = true
	if !s.running {
		s.setStateLocked(models.StatePaused)
	}
}

// Resume lifts a pause.
func (s *SyncService) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.state == models.StatePaused {
		s.setStateLocked(models.StateIdle)
	}
}

// Reset clears the failed state after the application has repaired the
// cause, typically by installing fresh credentials.
func (s *SyncService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StateFailed {
		s.lastError = ""
		s.setStateLocked(models.StateIdle)
	}
}

// RetryOperation re-queues a terminally failed journal entry.
func (s *SyncService) RetryOperation(ctx context.Context, id string) error {
	return s.store.Journal.Retry(ctx, id)
}

// Run triggers a cycle on the configured interval until ctx is done. Trigger
// rejections (paused, failed, already running) are expected and skipped.
func (s *SyncService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.TriggerSync(); err != nil {
				s.logger.WithField("reason", err.Error()).Debug("periodic sync skipped")
			}
		}
	}
}

// Close stops the engine and waits for any in-flight cycle to unwind.
func (s *SyncService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *SyncService) runCycle(handle *SyncHandle) {
	defer s.wg.Done()
	defer close(handle.done)

	ctx, span := observability.StartServiceSpan(s.ctx, "sync", "cycle")
	defer span.End()

	start := s.now()
	result := models.CycleResult{}

	err := s.pushPhase(ctx, &result)
	if err == nil {
		err = s.pullPhase(ctx, &result)
	}

	result.Duration = s.now().Sub(start)
	result.DurationMS = result.Duration.Milliseconds()
	if err != nil {
		result.Err = err
		result.Error = err.Error()
		observability.RecordError(span, err)
	} else {
		observability.SetSuccess(span)
	}

	s.finishCycle(result, err)
	handle.result = result

	if s.metrics != nil {
		s.metrics.RecordCycle(ctx, result.DurationMS, err == nil)
	}
	if s.notifier != nil {
		s.notifier.NotifyCycle(result)
	}
}

func (s *SyncService) finishCycle(result models.CycleResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.cycleCount++

	switch {
	case err == nil:
		now := s.now().UTC()
		s.lastSuccessAt = &now
		s.lastError = ""
		s.logger.WithFields(map[string]interface{}{
			"acked":      result.Acked,
			"pulled":     result.Pulled,
			"conflicts":  result.Conflicts,
			"durationMs": result.DurationMS,
		}).Info("sync cycle complete")
	case models.IsAuthExpired(err):
		s.lastError = err.Error()
		s.logger.Error("sync halted: credentials expired")
		s.setStateLocked(models.StateFailed)
		return
	default:
		// Connectivity and storage problems end the cycle but not the
		// engine; queued work is retried on the next trigger.
		s.lastError = err.Error()
		s.logger.WithField("error", err.Error()).Warn("sync cycle aborted")
	}

	if s.paused {
		s.setStateLocked(models.StatePaused)
	} else {
		s.setStateLocked(models.StateIdle)
	}
}

// pushPhase drains the journal in batches. Acknowledged entries are removed,
// rejections are parked as failed, and conflicts stay queued for the pull
// phase to resolve. The phase stops when the journal is drained, when a pass
// makes no progress, or after the configured number of passes.
func (s *SyncService) pushPhase(ctx context.Context, result *models.CycleResult) error {
	s.setState(models.StatePushing)

	// Entries stranded in flight by a crash or a failed requeue would
	// otherwise never be pushed again. The server deduplicates by
	// operation id, so returning them to the queue is safe.
	if n, err := s.store.Journal.RecoverInFlight(ctx); err != nil {
		return err
	} else if n > 0 {
		s.logger.WithField("recovered", n).Warn("requeued operations stranded in flight")
	}

	for pass := 0; pass < s.cfg.MaxPushAttempts; pass++ {
		batch, err := s.store.Journal.PendingBatch(ctx, s.cfg.PushBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]string, len(batch))
		for i, op := range batch {
			ids[i] = op.ID
		}
		if err := s.store.Journal.MarkInFlight(ctx, ids); err != nil {
			return err
		}

		var results []models.PushResult
		err = s.scheduler.Execute(ctx, "push", func(ctx context.Context) error {
			rs, err := s.transport.Push(ctx, batch)
			if err != nil {
				return err
			}
			results = rs
			return nil
		})
		if err != nil {
			// No verdict for the batch; everything goes back in the queue.
			if rerr := s.store.Journal.MarkPending(ctx, ids); rerr != nil {
				s.logger.WithField("error", rerr.Error()).Error("failed to requeue batch")
			}
			return fmt.Errorf("push: %w", err)
		}

		acked, err := s.applyPushResults(ctx, batch, results, result)
		if err != nil {
			return err
		}
		result.Pushed += len(batch)

		if acked == 0 {
			return nil
		}
	}
	return nil
}

// applyPushResults settles one batch against the server's per-operation
// verdicts. Operations the server omitted from the response are requeued.
func (s *SyncService) applyPushResults(ctx context.Context, batch []*models.Operation, results []models.PushResult, cycle *models.CycleResult) (int, error) {
	byID := make(map[string]*models.Operation, len(batch))
	for _, op := range batch {
		byID[op.ID] = op
	}

	var ackIDs, requeueIDs []string
	rejected := 0
	for _, res := range results {
		op, ok := byID[res.OperationID]
		if !ok {
			continue
		}
		delete(byID, res.OperationID)

		switch res.Status {
		case models.PushAcknowledged:
			ackIDs = append(ackIDs, op.ID)
		case models.PushRejected:
			rejected++
			if err := s.store.Journal.MarkFailed(ctx, op.ID, errors.New(res.Reason), true); err != nil {
				return 0, err
			}
			s.logger.WithFields(map[string]interface{}{
				"operationId": op.ID,
				"reason":      res.Reason,
			}).Warn("operation rejected by server")
		case models.PushConflict:
			// The winning remote change arrives in the pull phase, where
			// the resolver settles it. Until then the entry stays queued.
			requeueIDs = append(requeueIDs, op.ID)
		default:
			requeueIDs = append(requeueIDs, op.ID)
		}
	}
	for id := range byID {
		requeueIDs = append(requeueIDs, id)
	}

	if err := s.store.Journal.MarkAcknowledged(ctx, ackIDs); err != nil {
		return 0, err
	}
	if err := s.store.Journal.MarkPending(ctx, requeueIDs); err != nil {
		return 0, err
	}

	cycle.Acked += len(ackIDs)
	cycle.Rejected += rejected
	if s.metrics != nil {
		s.metrics.RecordPush(ctx, len(ackIDs), rejected)
	}
	return len(ackIDs), nil
}

func (s *SyncService) pullPhase(ctx context.Context, result *models.CycleResult) error {
	s.setState(models.StatePulling)

	stats, err := s.fetcher.FetchAll(ctx, func(ctx context.Context, tx *repository.Store, page *models.PullPage, resync bool) error {
		return s.applyPage(ctx, tx, page, result)
	})
	result.Pulled += stats.Changes
	result.Resynced = stats.Resynced
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordPull(ctx, stats.Changes, stats.Pages)
	}
	return nil
}

// applyPage resolves and applies one page of remote changes inside the
// fetcher's transaction.
func (s *SyncService) applyPage(ctx context.Context, tx *repository.Store, page *models.PullPage, cycle *models.CycleResult) error {
	s.setState(models.StateResolving)

	for i := range page.Changes {
		change := &page.Changes[i]
		if err := s.applyChange(ctx, tx, change, cycle); err != nil {
			return err
		}
	}

	s.setState(models.StatePulling)
	return nil
}

func (s *SyncService) applyChange(ctx context.Context, tx *repository.Store, change *models.RemoteChange, cycle *models.CycleResult) error {
	pending, err := tx.Journal.PendingForEntity(ctx, change.EntityKey())
	if err != nil {
		return err
	}

	// No local edits in flight: the remote change applies directly.
	if len(pending) == 0 {
		s.setState(models.StateApplying)
		defer s.setState(models.StateResolving)
		return tx.Entities.Put(ctx, change.Entity(s.now().UTC()))
	}

	// With coalescing the chain is a single entry; without it the last
	// entry carries the effective local state, since payloads are full
	// snapshots.
	local := pending[len(pending)-1]

	// Our own push echoed back: adopt the new revision and rebase any
	// queued follow-up edits onto it. Not a conflict.
	if change.ModifiedBy == s.cfg.ClientID || change.Version == local.BaseVersion {
		return s.keepLocal(ctx, tx, pending, change)
	}

	resolution := s.resolver.Resolve(local, change)
	cycle.Conflicts++
	if s.metrics != nil {
		s.metrics.RecordConflict(ctx, string(resolution.Outcome))
	}
	s.logger.WithFields(map[string]interface{}{
		"entityType": change.EntityType,
		"entityId":   change.EntityID,
		"outcome":    string(resolution.Outcome),
	}).Info("conflict resolved")

	s.setState(models.StateApplying)
	defer s.setState(models.StateResolving)

	switch resolution.Outcome {
	case models.RemoteWins:
		for _, op := range pending {
			if err := tx.Journal.MarkSuperseded(ctx, op.ID); err != nil {
				return err
			}
		}
		return tx.Entities.Put(ctx, change.Entity(s.now().UTC()))

	case models.LocalWins:
		return s.keepLocal(ctx, tx, pending, change)

	case models.Merged:
		for _, op := range pending[:len(pending)-1] {
			if err := tx.Journal.MarkSuperseded(ctx, op.ID); err != nil {
				return err
			}
		}
		if err := tx.Journal.ReplacePayload(ctx, local.ID, resolution.MergedPayload); err != nil {
			return err
		}
		if err := tx.Journal.Rebase(ctx, local.ID, change.Version, change.ServerTimestamp); err != nil {
			return err
		}
		return tx.Entities.Put(ctx, &models.Entity{
			Type:            change.EntityType,
			ID:              change.EntityID,
			Version:         change.Version,
			Data:            resolution.MergedPayload,
			LastModifiedBy:  models.ActorLocal,
			ServerTimestamp: change.ServerTimestamp,
			PulledAt:        s.now().UTC(),
		})

	case models.NeedsUserInput:
		record := models.NewConflictRecord(local, change, models.NeedsUserInput)
		if err := tx.Conflicts.Add(ctx, record); err != nil {
			return err
		}
		// Earlier chain entries carry older snapshots of the same local
		// state; only the last entry is parked, and the record points at
		// it so resolving settles everything. The remote snapshot becomes
		// the visible state in the meantime.
		for _, op := range pending[:len(pending)-1] {
			if err := tx.Journal.MarkSuperseded(ctx, op.ID); err != nil {
				return err
			}
		}
		if err := tx.Journal.MarkFailed(ctx, local.ID, errAwaitingUserResolution, true); err != nil {
			return err
		}
		return tx.Entities.Put(ctx, change.Entity(s.now().UTC()))
	}

	return fmt.Errorf("unknown resolution outcome %q", resolution.Outcome)
}

// keepLocal adopts the remote revision number while keeping the local edits:
// queued entries are rebased onto the new version and the cache keeps the
// optimistic local state.
func (s *SyncService) keepLocal(ctx context.Context, tx *repository.Store, pending []*models.Operation, change *models.RemoteChange) error {
	for _, op := range pending {
		if err := tx.Journal.Rebase(ctx, op.ID, change.Version, change.ServerTimestamp); err != nil {
			return err
		}
	}

	local := pending[len(pending)-1]
	return tx.Entities.Put(ctx, &models.Entity{
		Type:            change.EntityType,
		ID:              change.EntityID,
		Version:         change.Version,
		Data:            local.Payload,
		LastModifiedBy:  models.ActorLocal,
		Deleted:         local.Kind == models.OpDelete,
		ServerTimestamp: change.ServerTimestamp,
		PulledAt:        s.now().UTC(),
	})
}

// ResolveConflict settles an open NeedsUserInput conflict. "remote" keeps the
// already-applied server state, "local" re-queues the parked local payload
// against the current version, and "merged" queues the supplied payload.
func (s *SyncService) ResolveConflict(ctx context.Context, id string, req models.ResolveConflictRequest) error {
	record, err := s.store.Conflicts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("conflict %s not found", id)
	}
	if record.Status == models.ConflictResolved {
		return fmt.Errorf("conflict %s is already resolved", id)
	}

	var kind models.OperationKind
	var payload []byte
	switch req.Choice {
	case "remote":
		// Server state already applied during the pull phase.
	case "local":
		kind = record.LocalKind
		payload = record.LocalPayload
	case "merged":
		if len(req.MergedPayload) == 0 {
			return errors.New("merged resolution requires a payload")
		}
		kind = models.OpUpdate
		payload = req.MergedPayload
	default:
		return fmt.Errorf("unknown resolution choice %q", req.Choice)
	}

	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = "user"
	}

	return s.store.Transact(ctx, func(tx *repository.Store) error {
		// The parked journal entry is settled either way.
		if err := tx.Journal.MarkAcknowledged(ctx, []string{record.OperationID}); err != nil {
			return err
		}

		if req.Choice != "remote" {
			entity, err := tx.Entities.Get(ctx, record.EntityType, record.EntityID)
			if err != nil {
				return err
			}
			var baseVersion int64
			var baseTimestamp time.Time
			if entity != nil {
				baseVersion = entity.Version
				baseTimestamp = entity.ServerTimestamp
			}

			op, err := models.NewOperation(record.EntityType, record.EntityID, kind, payload, baseVersion, baseTimestamp)
			if err != nil {
				return err
			}
			if _, err := tx.Journal.Enqueue(ctx, op, s.cfg.CoalesceWrites); err != nil {
				return err
			}
			if err := tx.Entities.Put(ctx, &models.Entity{
				Type:            record.EntityType,
				ID:              record.EntityID,
				Version:         baseVersion,
				Data:            payload,
				LastModifiedBy:  models.ActorLocal,
				Deleted:         kind == models.OpDelete,
				ServerTimestamp: baseTimestamp,
				PulledAt:        s.now().UTC(),
			}); err != nil {
				return err
			}
		}

		return tx.Conflicts.MarkResolved(ctx, id, resolvedBy)
	})
}

func (s *SyncService) setState(state models.SyncState) {
	s.mu.Lock()
	s.setStateLocked(state)
	s.mu.Unlock()
}

func (s *SyncService) setStateLocked(state models.SyncState) {
	if s.state == state {
		return
	}
	s.state = state
	if s.notifier != nil {
		s.notifier.NotifyState(state)
	}
}

var errAwaitingUserResolution = errors.New("conflict awaiting user resolution")
