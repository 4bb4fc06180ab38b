package services

import (
	"context"
	"fmt"
	"time"

	"github.com/datasync/engine/internal/models"
	"github.com/datasync/engine/internal/observability"
	"github.com/datasync/engine/internal/repository"
	"github.com/datasync/engine/internal/retry"
	"github.com/datasync/engine/internal/transport"
)

// ApplyPageFunc applies one page of remote changes inside the supplied
// transaction. The fetcher advances the cursor in the same transaction, so a
// returned error rolls back both the writes and the cursor.
type ApplyPageFunc func(ctx context.Context, tx *repository.Store, page *models.PullPage, resync bool) error

// FetchStats summarizes one complete pull pass.
type FetchStats struct {
	Pages      int
	Changes    int
	Resynced   bool
	Tombstoned int
}

// DeltaFetcher pages remote changes down from the server. Each page is applied
// and its cursor persisted atomically, so a crash between pages resumes from
// the last applied page without loss or duplication of effect.
type DeltaFetcher struct {
	store     *repository.Store
	transport transport.Transport
	scheduler *retry.Scheduler
	pageSize  int
	logger    *observability.Logger
	now       func() time.Time
}

// NewDeltaFetcher creates a delta fetcher
func NewDeltaFetcher(store *repository.Store, tr transport.Transport, scheduler *retry.Scheduler, pageSize int, logger *observability.Logger) *DeltaFetcher {
	return &DeltaFetcher{
		store:     store,
		transport: tr,
		scheduler: scheduler,
		pageSize:  pageSize,
		logger:    logger,
		now:       time.Now,
	}
}

// FetchAll pulls pages from the saved cursor until the server reports no more
// changes. When the server rejects the cursor as expired the pass restarts
// once from an empty cursor as a full resync; entities absent from the
// snapshot are tombstoned afterwards.
func (f *DeltaFetcher) FetchAll(ctx context.Context, apply ApplyPageFunc) (FetchStats, error) {
	var stats FetchStats

	cursor, err := f.store.Cursor.Get(ctx)
	if err != nil {
		return stats, err
	}

	var resyncStart time.Time
	for {
		page, err := f.pullPage(ctx, cursor)
		if models.IsCursorExpired(err) {
			if stats.Resynced {
				return stats, fmt.Errorf("cursor expired during full resync: %w", err)
			}
			f.logger.Warn("sync cursor expired, starting full resync")
			stats.Resynced = true
			resyncStart = f.now()
			cursor = ""
			continue
		}
		if err != nil {
			return stats, err
		}

		if page.FullResync && !stats.Resynced {
			stats.Resynced = true
			resyncStart = f.now()
		}

		err = f.store.Transact(ctx, func(tx *repository.Store) error {
			if err := apply(ctx, tx, page, stats.Resynced); err != nil {
				return err
			}
			return tx.Cursor.Set(ctx, page.NextCursor)
		})
		if err != nil {
			return stats, err
		}

		stats.Pages++
		stats.Changes += len(page.Changes)
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}

	if stats.Resynced {
		n, err := f.store.Entities.TombstoneNotPulledSince(ctx, resyncStart)
		if err != nil {
			return stats, err
		}
		stats.Tombstoned = n
		f.logger.WithField("tombstoned", n).Info("full resync complete")
	}

	return stats, nil
}

func (f *DeltaFetcher) pullPage(ctx context.Context, cursor models.SyncCursor) (*models.PullPage, error) {
	var page *models.PullPage
	err := f.scheduler.Execute(ctx, "pull", func(ctx context.Context) error {
		p, err := f.transport.Pull(ctx, cursor, f.pageSize)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}
