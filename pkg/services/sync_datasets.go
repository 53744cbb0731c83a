package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/superset"
)

// remoteDatasetIndex looks up remote datasets by id and by database and table.
type remoteDatasetIndex struct {
	byID  map[int64]*models.RemoteDataset
	byKey map[string]*models.RemoteDataset
}

func newRemoteDatasetIndex(datasets []*models.RemoteDataset) *remoteDatasetIndex {
	idx := &remoteDatasetIndex{
		byID:  make(map[int64]*models.RemoteDataset, len(datasets)),
		byKey: make(map[string]*models.RemoteDataset, len(datasets)),
	}
	for _, ds := range datasets {
		if ds.RemoteID != 0 {
			if _, ok := idx.byID[ds.RemoteID]; !ok {
				idx.byID[ds.RemoteID] = ds
			}
		}
		if ds.TableName != "" {
			key := datasetKey(ds.DatabaseRemoteID, ds.TableName)
			if _, ok := idx.byKey[key]; !ok {
				idx.byKey[key] = ds
			}
		}
	}
	return idx
}

// match prefers the bound remote id and falls back to the composite key.
func (idx *remoteDatasetIndex) match(boundID *int64, expected *models.RemoteDataset) *models.RemoteDataset {
	if boundID != nil {
		if ds, ok := idx.byID[*boundID]; ok {
			return ds
		}
	}
	return idx.byKey[datasetKey(expected.DatabaseRemoteID, expected.TableName)]
}

func (idx *remoteDatasetIndex) add(ds *models.RemoteDataset) {
	idx.byID[ds.RemoteID] = ds
	idx.byKey[datasetKey(ds.DatabaseRemoteID, ds.TableName)] = ds
}

func datasetKey(databaseID int64, table string) string {
	return fmt.Sprintf("%d:%s", databaseID, strings.ToLower(strings.TrimSpace(table)))
}

func (s *syncService) syncDatasets(ctx context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult {
	start := s.now()
	if r := s.guard(&s.datasetsRunning, msgDatasetsRunning, start); r != nil {
		return r
	}
	defer s.datasetsRunning.Store(false)

	s.logger.Debug("Dataset sync started",
		zap.String("trigger", string(trigger)),
		zap.Int("requested", len(ids)))

	stats := &models.SyncStats{}

	datasets, err := s.datasetRepo.ListForSync(ctx, ids)
	if err != nil {
		s.logger.Warn("Dataset sync aborted", zap.Error(err))
		return models.NewSyncFailure(errorMessage(msgDatasetsFailed, err), stats, s.now().Sub(start))
	}
	if len(datasets) == 0 {
		return models.NewSyncSuccess(msgDatasetsComplete, stats, s.now().Sub(start))
	}

	mapping, err := s.mapDatabases(ctx, referencedDatabases(datasets))
	if err != nil {
		s.logger.Warn("Dataset sync aborted while mapping databases", zap.Error(err))
		return models.NewSyncFailure(errorMessage(msgDatasetsFailed, err), stats, s.now().Sub(start))
	}

	remotes, err := s.client.ListDatasets(ctx)
	if err != nil {
		s.logger.Warn("Dataset sync aborted while listing remote datasets", zap.Error(err))
		return models.NewSyncFailure(errorMessage(msgDatasetsFailed, err), stats, s.now().Sub(start))
	}
	index := newRemoteDatasetIndex(remotes)

	for _, ds := range datasets {
		stats.Total++
		s.reconcileDataset(ctx, ds, mapping, index).count(stats)
	}

	return s.finish(stats, start, msgDatasetsComplete, msgDatasetsFailed)
}

func referencedDatabases(datasets []*models.DesiredDataset) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, ds := range datasets {
		if ds.LocalDatabaseID == uuid.Nil || seen[ds.LocalDatabaseID] {
			continue
		}
		seen[ds.LocalDatabaseID] = true
		ids = append(ids, ds.LocalDatabaseID)
	}
	return ids
}

func (s *syncService) reconcileDataset(
	ctx context.Context,
	ds *models.DesiredDataset,
	mapping map[uuid.UUID]int64,
	index *remoteDatasetIndex,
) itemOutcome {
	logger := s.logger.With(
		zap.String("dataset_id", ds.ID.String()),
		zap.String("table", ds.TableName))

	if !ds.ShouldSync() {
		return outcomeSkipped
	}

	dbRemoteID, ok := mapping[ds.LocalDatabaseID]
	if !ok {
		logger.Warn("No remote database for dataset",
			zap.String("local_database_id", ds.LocalDatabaseID.String()))
		return outcomeFailed
	}

	expected := buildExpectedDataset(ds, dbRemoteID)
	if expected == nil {
		logger.Warn("Skipping dataset without table or SQL")
		return outcomeSkipped
	}

	existing := index.match(ds.RemoteID, expected)
	if existing == nil {
		return s.createDataset(ctx, ds, expected, index, logger)
	}
	return s.updateDataset(ctx, ds, expected, existing.RemoteID, logger)
}

func (s *syncService) createDataset(
	ctx context.Context,
	ds *models.DesiredDataset,
	expected *models.RemoteDataset,
	index *remoteDatasetIndex,
	logger *zap.Logger,
) itemOutcome {
	createdID, err := s.client.CreateDataset(ctx, expected)
	if err != nil {
		if superset.IsDuplicateResource(err) {
			logger.Warn("Catalog reports dataset already exists, skipping create")
			return outcomeSkipped
		}
		logger.Error("Failed to create remote dataset", zap.Error(err))
		return outcomeFailed
	}
	expected.RemoteID = createdID
	index.add(expected)
	logger.Info("Created remote dataset", zap.Int64("remote_id", createdID))

	// Columns, metrics and the time column are applied by a follow-up update.
	if hasSchema(expected) {
		current, err := s.client.FetchDataset(ctx, createdID)
		if err != nil {
			logger.Error("Failed to fetch dataset after create", zap.Int64("remote_id", createdID), zap.Error(err))
			return outcomeFailed
		}
		merged := mergeDataset(expected, current, s.settings.Rebuild)
		if err := s.deleteOrphans(ctx, createdID, merged); err != nil {
			logger.Error("Failed to delete orphaned sub-resources", zap.Error(err))
			return outcomeFailed
		}
		if err := s.client.UpdateDataset(ctx, createdID, merged.dataset); err != nil {
			logger.Error("Failed to apply schema to created dataset", zap.Int64("remote_id", createdID), zap.Error(err))
			return outcomeFailed
		}
	}

	if err := s.datasetRepo.UpdateSyncInfo(ctx, ds.ID, createdID, s.now()); err != nil {
		logger.Error("Failed to record sync info", zap.Error(err))
		return outcomeFailed
	}
	return outcomeCreated
}

func (s *syncService) updateDataset(
	ctx context.Context,
	ds *models.DesiredDataset,
	expected *models.RemoteDataset,
	remoteID int64,
	logger *zap.Logger,
) itemOutcome {
	logger = logger.With(zap.Int64("remote_id", remoteID))
	expected.RemoteID = remoteID

	current, err := s.client.FetchDataset(ctx, remoteID)
	if err != nil {
		logger.Error("Failed to fetch remote dataset", zap.Error(err))
		return outcomeFailed
	}

	merged := mergeDataset(expected, current, s.settings.Rebuild)
	if err := s.deleteOrphans(ctx, remoteID, merged); err != nil {
		logger.Error("Failed to delete orphaned sub-resources", zap.Error(err))
		return outcomeFailed
	}

	outcome := outcomeUnchanged
	if !datasetMatches(current, merged.dataset, s.settings.Rebuild) {
		if err := s.client.UpdateDataset(ctx, remoteID, merged.dataset); err != nil {
			logger.Error("Failed to update remote dataset", zap.Error(err))
			return outcomeFailed
		}
		logger.Info("Updated remote dataset")
		outcome = outcomeUpdated
	}

	if err := s.datasetRepo.UpdateSyncInfo(ctx, ds.ID, remoteID, s.now()); err != nil {
		logger.Error("Failed to record sync info", zap.Error(err))
		return outcomeFailed
	}
	return outcome
}

// deleteOrphans removes remote sub-resources collected by a rebuild merge.
func (s *syncService) deleteOrphans(ctx context.Context, remoteID int64, merged *mergeResult) error {
	for _, col := range merged.orphanColumns {
		if err := s.client.DeleteColumn(ctx, remoteID, *col.RemoteID); err != nil {
			return fmt.Errorf("failed to delete column %q: %w", col.Name, err)
		}
	}
	for _, m := range merged.orphanMetrics {
		if err := s.client.DeleteMetric(ctx, remoteID, *m.RemoteID); err != nil {
			return fmt.Errorf("failed to delete metric %q: %w", m.Name, err)
		}
	}
	return nil
}
