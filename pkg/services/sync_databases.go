package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/logging"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/superset"
)

const remoteDatabasePrefix = "supersonic_db_"

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeUnchanged
	outcomeFailed
)

func (o itemOutcome) count(stats *models.SyncStats) {
	switch o {
	case outcomeCreated:
		stats.Created++
	case outcomeUpdated:
		stats.Updated++
	case outcomeSkipped, outcomeUnchanged:
		stats.Skipped++
	case outcomeFailed:
		stats.Failed++
	}
}

func (s *syncService) syncDatabases(ctx context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult {
	start := s.now()
	if r := s.guard(&s.databasesRunning, msgDatabasesRunning, start); r != nil {
		return r
	}
	defer s.databasesRunning.Store(false)

	s.logger.Debug("Database sync started",
		zap.String("trigger", string(trigger)),
		zap.Int("requested", len(ids)))

	stats := &models.SyncStats{}
	_, err := s.reconcileDatabases(ctx, ids, stats)
	if err != nil {
		s.logger.Warn("Database sync aborted", zap.Error(err))
		return models.NewSyncFailure(errorMessage(msgDatabasesFailed, err), stats, s.now().Sub(start))
	}
	return s.finish(stats, start, msgDatabasesComplete, msgDatabasesFailed)
}

// mapDatabases reconciles the given local databases and returns the remote id
// of each one that exists remotely afterwards.
func (s *syncService) mapDatabases(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	return s.reconcileDatabases(ctx, ids, &models.SyncStats{})
}

// reconcileDatabases creates or updates the remote twin of every selected
// local database, counting outcomes into stats. Errors loading either side
// abort the pass; per-database errors are counted and the loop continues.
func (s *syncService) reconcileDatabases(ctx context.Context, ids []uuid.UUID, stats *models.SyncStats) (map[uuid.UUID]int64, error) {
	locals, err := s.localDBRepo.List(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load local databases: %w", err)
	}

	remotes, err := s.client.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.RemoteDatabase, len(remotes))
	for _, rdb := range remotes {
		if rdb.Name == "" {
			continue
		}
		if _, ok := byName[rdb.Name]; !ok {
			byName[rdb.Name] = rdb
		}
	}

	mapping := make(map[uuid.UUID]int64, len(locals))
	for _, local := range locals {
		stats.Total++
		remoteID, outcome := s.reconcileDatabase(ctx, local, byName)
		outcome.count(stats)
		if remoteID > 0 {
			mapping[local.ID] = remoteID
		}
	}
	return mapping, nil
}

func (s *syncService) reconcileDatabase(ctx context.Context, local *models.LocalDatabase, byName map[string]*models.RemoteDatabase) (int64, itemOutcome) {
	logger := s.logger.With(
		zap.String("database_id", local.ID.String()),
		zap.String("database_name", local.Name))

	expected, err := s.buildDatabasePayload(local)
	if err != nil {
		logger.Warn("Skipping database that cannot be mirrored",
			zap.String("url", logging.SanitizeConnectionString(local.URL)),
			zap.Error(err))
		return 0, outcomeSkipped
	}

	existing, ok := byName[expected.DatabaseName]
	if !ok {
		createdID, err := s.client.CreateDatabase(ctx, expected)
		if err != nil {
			if superset.IsDuplicateResource(err) {
				logger.Warn("Catalog reports database already exists, skipping create",
					zap.String("remote_name", expected.DatabaseName))
				return 0, outcomeSkipped
			}
			logger.Error("Failed to create remote database", zap.Error(err))
			return 0, outcomeFailed
		}
		logger.Info("Created remote database", zap.Int64("remote_id", createdID))
		byName[expected.DatabaseName] = &models.RemoteDatabase{
			RemoteID:      createdID,
			Name:          expected.DatabaseName,
			ConnectionURI: expected.SQLAlchemyURI,
		}
		return createdID, outcomeCreated
	}

	current, err := s.client.FetchDatabase(ctx, existing.RemoteID)
	if err != nil {
		logger.Error("Failed to fetch remote database",
			zap.Int64("remote_id", existing.RemoteID),
			zap.Error(err))
		return existing.RemoteID, outcomeFailed
	}
	if databaseMatches(current, expected) {
		return existing.RemoteID, outcomeUnchanged
	}

	if err := s.client.UpdateDatabase(ctx, existing.RemoteID, expected); err != nil {
		logger.Error("Failed to update remote database",
			zap.Int64("remote_id", existing.RemoteID),
			zap.Error(err))
		return existing.RemoteID, outcomeFailed
	}
	logger.Info("Updated remote database", zap.Int64("remote_id", existing.RemoteID))
	return existing.RemoteID, outcomeUpdated
}

func (s *syncService) buildDatabasePayload(local *models.LocalDatabase) (superset.DatabasePayload, error) {
	db := *local
	if strings.TrimSpace(db.Type) == "" {
		db.Type = s.settings.DefaultEngineType
	}
	uri, err := datasource.BuildConnectionURI(&db)
	if err != nil {
		return superset.DatabasePayload{}, err
	}
	return superset.DatabasePayload{
		DatabaseName:  remoteDatabaseName(&db),
		SQLAlchemyURI: uri,
	}, nil
}

// remoteDatabaseName is the stable catalog name of a local database.
func remoteDatabaseName(db *models.LocalDatabase) string {
	suffix := strings.TrimSpace(db.Name)
	if suffix == "" {
		suffix = "database"
	}
	return truncateRunes(remoteDatabasePrefix+db.ID.String()+"_"+suffix, MaxNameLength)
}

func databaseMatches(current *models.RemoteDatabase, expected superset.DatabasePayload) bool {
	if current == nil {
		return false
	}
	return datasource.URIsEquivalent(current.ConnectionURI, expected.SQLAlchemyURI)
}

