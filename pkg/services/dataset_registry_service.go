package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/database"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/repositories"
	sqlutil "github.com/ekaya-inc/catalog-sync/pkg/sql"
)

// DatasetRegistryService maintains the local registry of desired datasets.
type DatasetRegistryService interface {
	// RegisterDataset resolves def and records it, reusing an existing record
	// with the same SQL fingerprint or physical table. Returns nil when the
	// definition carries no usable SQL.
	RegisterDataset(ctx context.Context, def *models.DatasetDefinition) (*models.DesiredDataset, error)

	// Query returns a page of registered datasets.
	Query(ctx context.Context, filter models.DatasetFilter) (*models.DatasetPage, error)

	// Get returns one registered dataset.
	Get(ctx context.Context, id uuid.UUID) (*models.DesiredDataset, error)

	// Delete removes one registered dataset.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteBatch removes several registered datasets and returns how many existed.
	DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type datasetRegistryService struct {
	db          *database.DB
	datasetRepo repositories.DatasetRepository
	localDBRepo repositories.LocalDatabaseRepository
	resolver    IdentityResolver
	logger      *zap.Logger
	now         func() time.Time
}

var _ DatasetRegistryService = (*datasetRegistryService)(nil)

// NewDatasetRegistryService creates a new dataset registry service.
func NewDatasetRegistryService(
	db *database.DB,
	datasetRepo repositories.DatasetRepository,
	localDBRepo repositories.LocalDatabaseRepository,
	resolver IdentityResolver,
	logger *zap.Logger,
) DatasetRegistryService {
	return &datasetRegistryService{
		db:          db,
		datasetRepo: datasetRepo,
		localDBRepo: localDBRepo,
		resolver:    resolver,
		logger:      logger.Named("dataset-registry"),
		now:         time.Now,
	}
}

func (s *datasetRegistryService) RegisterDataset(ctx context.Context, def *models.DatasetDefinition) (*models.DesiredDataset, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: dataset definition is required", apperrors.ErrInvalidInput)
	}
	if def.LocalDatabaseID == uuid.Nil {
		return nil, fmt.Errorf("%w: local_database_id is required", apperrors.ErrInvalidInput)
	}

	localDB, err := s.localDBRepo.GetByID(ctx, def.LocalDatabaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load local database: %w", err)
	}

	desired := s.resolver.Resolve(def, localDB)
	if desired == nil {
		s.logger.Debug("Skipping registration of definition without SQL",
			zap.String("local_database_id", def.LocalDatabaseID.String()))
		return nil, nil
	}
	if !sqlutil.IsReadOnly(def.SQL) {
		return nil, fmt.Errorf("%w: dataset sql must be a read-only query", apperrors.ErrInvalidInput)
	}

	var result *models.DesiredDataset
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.upsert(ctx, desired)
		return err
	})
	if errors.Is(err, apperrors.ErrConflict) {
		// A concurrent registration inserted the same fingerprint first.
		return s.datasetRepo.GetBySQLHash(ctx, desired.SQLHash)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *datasetRegistryService) upsert(ctx context.Context, desired *models.DesiredDataset) (*models.DesiredDataset, error) {
	existing, err := s.datasetRepo.GetBySQLHash(ctx, desired.SQLHash)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up dataset by hash: %w", err)
	}

	if existing == nil && desired.Kind == models.DatasetKindPhysical && desired.TableName != "" {
		physical, err := s.datasetRepo.GetByPhysicalTable(ctx, desired.LocalDatabaseID, desired.SchemaName, desired.TableName)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up dataset by table: %w", err)
		}
		if physical != nil {
			s.logger.Debug("Reusing physical dataset for table",
				zap.String("dataset_id", physical.ID.String()),
				zap.String("table", desired.TableName))
			return physical, nil
		}
	}

	now := s.now()

	if existing == nil {
		desired.ID = uuid.New()
		desired.CreatedAt = now
		desired.UpdatedAt = now
		desired.SyncedAt = nil
		desired.RemoteID = nil
		if err := s.datasetRepo.Create(ctx, desired); err != nil {
			return nil, err
		}
		s.logger.Info("Registered dataset",
			zap.String("dataset_id", desired.ID.String()),
			zap.String("kind", string(desired.Kind)),
			zap.String("sql_hash", desired.SQLHash))
		return desired, nil
	}

	if !applyDatasetChanges(existing, desired) {
		return existing, nil
	}

	existing.UpdatedAt = now
	existing.SyncedAt = nil
	if err := s.datasetRepo.Update(ctx, existing); err != nil {
		return nil, err
	}
	s.logger.Info("Updated registered dataset",
		zap.String("dataset_id", existing.ID.String()),
		zap.String("sql_hash", existing.SQLHash))
	return existing, nil
}

func (s *datasetRegistryService) Query(ctx context.Context, filter models.DatasetFilter) (*models.DatasetPage, error) {
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown dataset kind %q", apperrors.ErrInvalidInput, filter.Kind)
	}

	failures := sqlutil.CheckFilterValues(map[string]string{
		"name":       filter.Name,
		"created_by": filter.CreatedBy,
		"sql_hash":   filter.SQLHash,
	})
	if len(failures) > 0 {
		fields := make([]string, 0, len(failures))
		for _, f := range failures {
			s.logger.Warn("Rejected suspicious registry filter",
				zap.String("field", f.Field),
				zap.String("fingerprint", f.Fingerprint))
			fields = append(fields, f.Field)
		}
		slices.Sort(fields)
		return nil, fmt.Errorf("%w: suspicious filter value in %s", apperrors.ErrInvalidInput, strings.Join(fields, ", "))
	}

	return s.datasetRepo.Query(ctx, filter)
}

func (s *datasetRegistryService) Get(ctx context.Context, id uuid.UUID) (*models.DesiredDataset, error) {
	return s.datasetRepo.GetByID(ctx, id)
}

func (s *datasetRegistryService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.datasetRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted registered dataset", zap.String("dataset_id", id.String()))
	return nil
}

func (s *datasetRegistryService) DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted, err := s.datasetRepo.DeleteBatch(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Deleted registered datasets",
		zap.Int("requested", len(ids)),
		zap.Int64("deleted", deleted))
	return deleted, nil
}

// inTx runs fn in a registry transaction when a database is wired.
func (s *datasetRegistryService) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	return s.db.WithTx(ctx, fn)
}

// applyDatasetChanges copies the resolved fields of desired onto record and
// reports whether anything differed. Sync bookkeeping is left untouched.
func applyDatasetChanges(record, desired *models.DesiredDataset) bool {
	changed := false
	setString := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}

	setString(&record.Name, desired.Name)
	setString(&record.Description, desired.Description)
	setString(&record.NormalizedSQL, desired.NormalizedSQL)
	setString(&record.SQLText, desired.SQLText)
	setString(&record.SQLHash, desired.SQLHash)
	setString(&record.SchemaName, desired.SchemaName)
	setString(&record.TableName, desired.TableName)

	if record.Kind != desired.Kind {
		record.Kind = desired.Kind
		changed = true
	}
	if record.LocalDatabaseID != desired.LocalDatabaseID {
		record.LocalDatabaseID = desired.LocalDatabaseID
		changed = true
	}
	if !equalPtr(record.DataSetID, desired.DataSetID) {
		record.DataSetID = desired.DataSetID
		changed = true
	}
	if !equalPtr(record.TimeColumn, desired.TimeColumn) {
		record.TimeColumn = desired.TimeColumn
		changed = true
	}
	if !equalList(record.Tags, desired.Tags) {
		record.Tags = desired.Tags
		changed = true
	}
	if !equalList(record.Columns, desired.Columns) {
		record.Columns = desired.Columns
		changed = true
	}
	if !equalList(record.Metrics, desired.Metrics) {
		record.Metrics = desired.Metrics
		changed = true
	}
	return changed
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// equalList treats nil and empty slices as equal.
func equalList[T any](a, b []T) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
