package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// DefaultEventQueueSize bounds the number of pending sync events.
const DefaultEventQueueSize = 64

// SyncEvent asks for one pass over the given resources.
type SyncEvent struct {
	ID           uuid.UUID
	ResourceType models.ResourceType
	ResourceIDs  []uuid.UUID
}

// SyncDispatcher runs event-triggered passes off the caller's path.
type SyncDispatcher interface {
	// Submit queues a pass and returns its event id. ok is false when the
	// queue is full or the dispatcher is stopped; the event is dropped.
	Submit(resourceType models.ResourceType, ids []uuid.UUID) (id uuid.UUID, ok bool)

	// Start launches the worker. It stops when ctx is cancelled.
	Start(ctx context.Context)

	// Wait blocks until the worker has exited.
	Wait()
}

type syncDispatcher struct {
	syncService SyncService
	queue       chan SyncEvent
	logger      *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

var _ SyncDispatcher = (*syncDispatcher)(nil)

// NewSyncDispatcher creates a dispatcher with a queue of queueSize events.
func NewSyncDispatcher(syncService SyncService, queueSize int, logger *zap.Logger) SyncDispatcher {
	if queueSize <= 0 {
		queueSize = DefaultEventQueueSize
	}
	return &syncDispatcher{
		syncService: syncService,
		queue:       make(chan SyncEvent, queueSize),
		logger:      logger.Named("sync-dispatcher"),
	}
}

func (d *syncDispatcher) Submit(resourceType models.ResourceType, ids []uuid.UUID) (uuid.UUID, bool) {
	event := SyncEvent{
		ID:           uuid.New(),
		ResourceType: resourceType,
		ResourceIDs:  append([]uuid.UUID(nil), ids...),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return uuid.Nil, false
	}

	select {
	case d.queue <- event:
		d.logger.Debug("Sync event queued",
			zap.String("event_id", event.ID.String()),
			zap.String("resource_type", string(resourceType)),
			zap.Int("resources", len(ids)))
		return event.ID, true
	default:
		d.logger.Warn("Sync event queue full, dropping event",
			zap.String("resource_type", string(resourceType)),
			zap.Int("resources", len(ids)))
		return uuid.Nil, false
	}
}

func (d *syncDispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				d.mu.Lock()
				d.stopped = true
				d.mu.Unlock()
				d.logger.Info("Sync dispatcher stopped", zap.Int("dropped", len(d.queue)))
				return
			case event := <-d.queue:
				d.handle(ctx, event)
			}
		}
	}()
}

func (d *syncDispatcher) Wait() {
	d.wg.Wait()
}

func (d *syncDispatcher) handle(ctx context.Context, event SyncEvent) {
	logger := d.logger.With(
		zap.String("event_id", event.ID.String()),
		zap.String("resource_type", string(event.ResourceType)))

	var result *models.SyncResult
	switch event.ResourceType {
	case models.ResourceTypeDatabase:
		result = d.syncService.SyncDatabases(ctx, event.ResourceIDs, models.SyncTriggerEvent)
	case models.ResourceTypeDataset:
		result = d.syncService.SyncDatasets(ctx, event.ResourceIDs, models.SyncTriggerEvent)
	default:
		logger.Warn("Ignoring sync event for unknown resource type")
		return
	}

	logger.Info("Event sync finished",
		zap.Bool("success", result.Success),
		zap.String("message", result.Message))
}
