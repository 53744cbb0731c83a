package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/repositories"
	"github.com/ekaya-inc/catalog-sync/pkg/retry"
	"github.com/ekaya-inc/catalog-sync/pkg/superset"
)

// CatalogClient is the subset of the remote catalog API used by reconciliation.
type CatalogClient interface {
	Configured() bool
	ListDatabases(ctx context.Context) ([]*models.RemoteDatabase, error)
	FetchDatabase(ctx context.Context, id int64) (*models.RemoteDatabase, error)
	CreateDatabase(ctx context.Context, payload superset.DatabasePayload) (int64, error)
	UpdateDatabase(ctx context.Context, id int64, payload superset.DatabasePayload) error
	ListDatasets(ctx context.Context) ([]*models.RemoteDataset, error)
	FetchDataset(ctx context.Context, id int64) (*models.RemoteDataset, error)
	CreateDataset(ctx context.Context, ds *models.RemoteDataset) (int64, error)
	UpdateDataset(ctx context.Context, id int64, ds *models.RemoteDataset) error
	DeleteColumn(ctx context.Context, datasetID, columnID int64) error
	DeleteMetric(ctx context.Context, datasetID, metricID int64) error
}

var _ CatalogClient = (*superset.Client)(nil)

// SyncSettings holds the feature switches of reconciliation.
type SyncSettings struct {
	Enabled           bool   // Master switch for the catalog integration
	SyncEnabled       bool   // Switch for reconciliation passes
	Rebuild           bool   // Delete remote columns and metrics that are not desired
	DefaultEngineType string // Engine assumed for local databases without a type
	Retry             retry.SchedulerConfig
}

// Result messages.
const (
	msgDisabled          = "catalog integration is disabled, skipping sync"
	msgSyncDisabled      = "catalog sync is disabled, skipping sync"
	msgNotConfigured     = "catalog base url is not configured"
	msgDatabasesRunning  = "database sync is already running"
	msgDatasetsRunning   = "dataset sync is already running"
	msgDatabasesComplete = "database sync completed"
	msgDatabasesFailed   = "database sync failed"
	msgDatasetsComplete  = "dataset sync completed"
	msgDatasetsFailed    = "dataset sync failed"
)

// SyncService reconciles local databases and datasets into the remote catalog.
// Every entry point returns the result of its first attempt; failed passes
// are retried in the background.
type SyncService interface {
	// SyncDatabases reconciles the given local databases, or all when ids is empty.
	SyncDatabases(ctx context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult

	// SyncDatasets reconciles the given registered datasets, or all when ids is empty.
	SyncDatasets(ctx context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult

	// SyncAll runs a database pass followed by a dataset pass.
	SyncAll(ctx context.Context, trigger models.SyncTrigger) *models.FullSyncResult

	// RegisterAndSync registers def and syncs it immediately. Returns the
	// remote view of the dataset, or nil when sync is off or did not bind it.
	RegisterAndSync(ctx context.Context, def *models.DatasetDefinition) (*models.RemoteDataset, error)

	// Active reports whether passes currently do any work.
	Active() bool

	// Close stops pending background retries.
	Close()
}

type syncService struct {
	client      CatalogClient
	localDBRepo repositories.LocalDatabaseRepository
	datasetRepo repositories.DatasetRepository
	registry    DatasetRegistryService
	settings    SyncSettings
	retries     *retry.Scheduler
	logger      *zap.Logger
	now         func() time.Time

	databasesRunning atomic.Bool
	datasetsRunning  atomic.Bool
}

var _ SyncService = (*syncService)(nil)

// NewSyncService creates a new sync service.
func NewSyncService(
	client CatalogClient,
	localDBRepo repositories.LocalDatabaseRepository,
	datasetRepo repositories.DatasetRepository,
	registry DatasetRegistryService,
	settings SyncSettings,
	logger *zap.Logger,
) SyncService {
	s := &syncService{
		client:      client,
		localDBRepo: localDBRepo,
		datasetRepo: datasetRepo,
		registry:    registry,
		settings:    settings,
		logger:      logger.Named("sync-service"),
		now:         time.Now,
	}
	s.retries = retry.NewScheduler(settings.Retry, s.enabled, logger)
	return s
}

func (s *syncService) enabled() bool {
	return s.settings.Enabled && s.settings.SyncEnabled
}

func (s *syncService) Active() bool {
	return s.enabled() && s.client.Configured()
}

func (s *syncService) Close() {
	s.retries.Close()
}

func (s *syncService) SyncDatabases(ctx context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult {
	return s.withRetry(ctx, "database-sync", func(ctx context.Context) *models.SyncResult {
		return s.syncDatabases(ctx, ids, trigger)
	})
}

func (s *syncService) SyncDatasets(ctx context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult {
	return s.withRetry(ctx, "dataset-sync", func(ctx context.Context) *models.SyncResult {
		return s.syncDatasets(ctx, ids, trigger)
	})
}

func (s *syncService) SyncAll(ctx context.Context, trigger models.SyncTrigger) *models.FullSyncResult {
	dbResult := s.SyncDatabases(ctx, nil, trigger)
	s.logResult("Database sync finished", trigger, dbResult)

	dsResult := s.SyncDatasets(ctx, nil, trigger)
	s.logResult("Dataset sync finished", trigger, dsResult)

	return &models.FullSyncResult{Databases: dbResult, Datasets: dsResult}
}

func (s *syncService) RegisterAndSync(ctx context.Context, def *models.DatasetDefinition) (*models.RemoteDataset, error) {
	if def == nil || def.SQL == "" {
		return nil, nil
	}
	if !s.Active() {
		return nil, nil
	}

	record, err := s.registry.RegisterDataset(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to register dataset: %w", err)
	}
	if record == nil {
		return nil, nil
	}

	result := s.SyncDatasets(ctx, []uuid.UUID{record.ID}, models.SyncTriggerOnDemand)
	if !result.Success {
		s.logger.Warn("On-demand dataset sync failed",
			zap.String("dataset_id", record.ID.String()),
			zap.String("message", result.Message))
	}

	refreshed, err := s.datasetRepo.GetByID(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload dataset: %w", err)
	}
	if refreshed.RemoteID == nil {
		return nil, nil
	}

	mapping, err := s.mapDatabases(ctx, []uuid.UUID{refreshed.LocalDatabaseID})
	if err != nil {
		return nil, err
	}
	dbRemoteID, ok := mapping[refreshed.LocalDatabaseID]
	if !ok {
		return nil, nil
	}

	view := buildExpectedDataset(refreshed, dbRemoteID)
	if view == nil {
		return nil, nil
	}
	view.RemoteID = *refreshed.RemoteID

	remote, err := s.client.FetchDataset(ctx, view.RemoteID)
	if err != nil {
		s.logger.Warn("Failed to fetch dataset after sync",
			zap.Int64("remote_id", view.RemoteID),
			zap.Error(err))
		return view, nil
	}
	fillFromRemote(view, remote)
	return view, nil
}

// withRetry runs pass once and hands failures to the retry scheduler.
func (s *syncService) withRetry(ctx context.Context, name string, pass func(ctx context.Context) *models.SyncResult) *models.SyncResult {
	result := s.safePass(ctx, name, pass)
	if !result.Success {
		s.retries.Schedule(name, func(ctx context.Context) bool {
			r := s.safePass(ctx, name, pass)
			s.logResult("Retried "+name, "", r)
			return r.Success
		})
	}
	return result
}

// safePass converts a panic inside pass into a failure result.
func (s *syncService) safePass(ctx context.Context, name string, pass func(ctx context.Context) *models.SyncResult) (result *models.SyncResult) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sync pass panicked",
				zap.String("pass", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			result = models.NewSyncFailure(fmt.Sprintf("%s panicked: %v", name, r), nil, s.now().Sub(start))
		}
	}()
	return pass(ctx)
}

// guard applies the checks every pass makes before touching the network.
// It returns a result when the pass must not run.
func (s *syncService) guard(running *atomic.Bool, runningMsg string, start time.Time) *models.SyncResult {
	if !s.settings.Enabled {
		return models.NewSyncSuccess(msgDisabled, nil, s.now().Sub(start))
	}
	if !s.settings.SyncEnabled {
		return models.NewSyncSuccess(msgSyncDisabled, nil, s.now().Sub(start))
	}
	if !s.client.Configured() {
		return models.NewSyncFailure(msgNotConfigured, nil, s.now().Sub(start))
	}
	if !running.CompareAndSwap(false, true) {
		return models.NewSyncSuccess(runningMsg, nil, s.now().Sub(start))
	}
	return nil
}

func (s *syncService) finish(stats *models.SyncStats, start time.Time, okMsg, failMsg string) *models.SyncResult {
	if stats.Failed == 0 {
		return models.NewSyncSuccess(okMsg, stats, s.now().Sub(start))
	}
	return models.NewSyncFailure(failMsg, stats, s.now().Sub(start))
}

func (s *syncService) logResult(msg string, trigger models.SyncTrigger, r *models.SyncResult) {
	fields := []zap.Field{
		zap.Bool("success", r.Success),
		zap.String("message", r.Message),
		zap.Int64("duration_ms", r.DurationMs),
		zap.Int("total", r.Stats.Total),
		zap.Int("created", r.Stats.Created),
		zap.Int("updated", r.Stats.Updated),
		zap.Int("skipped", r.Stats.Skipped),
		zap.Int("failed", r.Stats.Failed),
	}
	if trigger != "" {
		fields = append(fields, zap.String("trigger", string(trigger)))
	}
	s.logger.Info(msg, fields...)
}

// errorMessage describes a pass-level failure without leaking secrets.
func errorMessage(prefix string, err error) string {
	var httpErr *superset.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("%s: catalog returned %d", prefix, httpErr.StatusCode)
	}
	if errors.Is(err, apperrors.ErrCredentialsKeyMismatch) {
		return fmt.Sprintf("%s: %v", prefix, apperrors.ErrCredentialsKeyMismatch)
	}
	return prefix
}
