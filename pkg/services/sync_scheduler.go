package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// DefaultSyncInterval is the period between scheduled full syncs.
const DefaultSyncInterval = time.Hour

// SyncScheduler runs full reconciliation on a fixed period.
type SyncScheduler interface {
	// Run starts a background goroutine that syncs immediately and then every
	// interval. Cancel the context to stop it.
	Run(ctx context.Context, interval time.Duration)
}

type syncScheduler struct {
	syncService SyncService
	logger      *zap.Logger
}

var _ SyncScheduler = (*syncScheduler)(nil)

// NewSyncScheduler creates a scheduler that drives syncService.
func NewSyncScheduler(syncService SyncService, logger *zap.Logger) SyncScheduler {
	return &syncScheduler{
		syncService: syncService,
		logger:      logger.Named("sync-scheduler"),
	}
}

func (s *syncScheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	go func() {
		s.logger.Info("Sync scheduler started", zap.Duration("interval", interval))

		s.tick(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Sync scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *syncScheduler) tick(ctx context.Context) {
	if !s.syncService.Active() {
		s.logger.Debug("Scheduled sync skipped, sync inactive")
		return
	}
	s.logger.Debug("Scheduled sync triggered")
	s.syncService.SyncAll(ctx, models.SyncTriggerScheduled)
}
