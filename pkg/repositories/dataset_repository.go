package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/database"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// Registry paging bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// DatasetRepository defines data access for desired datasets.
type DatasetRepository interface {
	// Create inserts a dataset. Returns ErrConflict if the SQL hash is already registered.
	Create(ctx context.Context, ds *models.DesiredDataset) error

	// Update replaces all mutable fields of a dataset. Returns ErrNotFound if absent.
	Update(ctx context.Context, ds *models.DesiredDataset) error

	// GetByID retrieves a dataset. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DesiredDataset, error)

	// GetBySQLHash retrieves the dataset registered for a normalized SQL fingerprint.
	GetBySQLHash(ctx context.Context, sqlHash string) (*models.DesiredDataset, error)

	// GetByPhysicalTable retrieves the PHYSICAL dataset backed by a table.
	GetByPhysicalTable(ctx context.Context, localDatabaseID uuid.UUID, schema, table string) (*models.DesiredDataset, error)

	// ListForSync returns the datasets with the given ids, or all of them when ids is empty.
	ListForSync(ctx context.Context, ids []uuid.UUID) ([]*models.DesiredDataset, error)

	// UpdateSyncInfo binds the remote id and records when the dataset was last synced.
	UpdateSyncInfo(ctx context.Context, id uuid.UUID, remoteID int64, syncedAt time.Time) error

	// Query returns a page of datasets matching filter, newest first.
	Query(ctx context.Context, filter models.DatasetFilter) (*models.DatasetPage, error)

	// Delete removes a dataset. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteBatch removes the given datasets and returns how many existed.
	DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type datasetRepository struct {
	db *database.DB
}

var _ DatasetRepository = (*datasetRepository)(nil)

// NewDatasetRepository creates a new dataset repository.
func NewDatasetRepository(db *database.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

const datasetColumns = `id, sql_hash, sql_text, normalized_sql, name, description, tags, kind,
	local_database_id, data_set_id, schema_name, table_name, time_column, columns, metrics,
	remote_id, created_by, created_at, updated_at, synced_at`

func (r *datasetRepository) Create(ctx context.Context, ds *models.DesiredDataset) error {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}

	tags, columns, metrics, err := encodeDatasetJSON(ds)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO catalog_datasets (` + datasetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = r.db.Conn(ctx).Exec(ctx, query,
		ds.ID,
		ds.SQLHash,
		ds.SQLText,
		ds.NormalizedSQL,
		ds.Name,
		ds.Description,
		tags,
		string(ds.Kind),
		ds.LocalDatabaseID,
		ds.DataSetID,
		ds.SchemaName,
		ds.TableName,
		ds.TimeColumn,
		columns,
		metrics,
		ds.RemoteID,
		ds.CreatedBy,
		ds.CreatedAt,
		ds.UpdatedAt,
		ds.SyncedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	return nil
}

func (r *datasetRepository) Update(ctx context.Context, ds *models.DesiredDataset) error {
	tags, columns, metrics, err := encodeDatasetJSON(ds)
	if err != nil {
		return err
	}

	query := `
		UPDATE catalog_datasets SET
			sql_hash = $2, sql_text = $3, normalized_sql = $4, name = $5, description = $6,
			tags = $7, kind = $8, local_database_id = $9, data_set_id = $10, schema_name = $11,
			table_name = $12, time_column = $13, columns = $14, metrics = $15, remote_id = $16,
			updated_at = $17, synced_at = $18
		WHERE id = $1`

	tag, err := r.db.Conn(ctx).Exec(ctx, query,
		ds.ID,
		ds.SQLHash,
		ds.SQLText,
		ds.NormalizedSQL,
		ds.Name,
		ds.Description,
		tags,
		string(ds.Kind),
		ds.LocalDatabaseID,
		ds.DataSetID,
		ds.SchemaName,
		ds.TableName,
		ds.TimeColumn,
		columns,
		metrics,
		ds.RemoteID,
		ds.UpdatedAt,
		ds.SyncedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DesiredDataset, error) {
	return r.getOne(ctx, `SELECT `+datasetColumns+` FROM catalog_datasets WHERE id = $1`, id)
}

func (r *datasetRepository) GetBySQLHash(ctx context.Context, sqlHash string) (*models.DesiredDataset, error) {
	return r.getOne(ctx, `SELECT `+datasetColumns+` FROM catalog_datasets WHERE sql_hash = $1`, sqlHash)
}

func (r *datasetRepository) GetByPhysicalTable(ctx context.Context, localDatabaseID uuid.UUID, schema, table string) (*models.DesiredDataset, error) {
	query := `
		SELECT ` + datasetColumns + ` FROM catalog_datasets
		WHERE kind = 'PHYSICAL' AND local_database_id = $1
		  AND lower(schema_name) = lower($2) AND lower(table_name) = lower($3)
		ORDER BY created_at
		LIMIT 1`
	return r.getOne(ctx, query, localDatabaseID, schema, table)
}

func (r *datasetRepository) ListForSync(ctx context.Context, ids []uuid.UUID) ([]*models.DesiredDataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM catalog_datasets`
	args := []any{}
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY created_at`

	return r.list(ctx, query, args...)
}

func (r *datasetRepository) UpdateSyncInfo(ctx context.Context, id uuid.UUID, remoteID int64, syncedAt time.Time) error {
	tag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE catalog_datasets SET remote_id = $2, synced_at = $3 WHERE id = $1`,
		id, remoteID, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update sync info: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *datasetRepository) Query(ctx context.Context, filter models.DatasetFilter) (*models.DatasetPage, error) {
	page, pageSize := normalizePaging(filter.Page, filter.PageSize)

	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Name != "" {
		add(`name ILIKE '%%' || $%d || '%%'`, escapeLike(filter.Name))
	}
	if filter.Kind != "" {
		add(`kind = $%d`, string(filter.Kind))
	}
	if filter.LocalDatabaseID != nil {
		add(`local_database_id = $%d`, *filter.LocalDatabaseID)
	}
	if filter.DataSetID != nil {
		add(`data_set_id = $%d`, *filter.DataSetID)
	}
	if filter.SQLHash != "" {
		add(`sql_hash = $%d`, filter.SQLHash)
	}
	if filter.RemoteID != nil {
		add(`remote_id = $%d`, *filter.RemoteID)
	}
	if filter.CreatedBy != "" {
		add(`created_by = $%d`, filter.CreatedBy)
	}
	if filter.Synced != nil {
		if *filter.Synced {
			conds = append(conds, `(remote_id IS NOT NULL AND synced_at IS NOT NULL AND synced_at >= updated_at)`)
		} else {
			conds = append(conds, `(remote_id IS NULL OR synced_at IS NULL OR synced_at < updated_at)`)
		}
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM catalog_datasets`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count datasets: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM catalog_datasets%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		datasetColumns, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	items, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.DesiredDataset{}
	}

	return &models.DatasetPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (r *datasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM catalog_datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *datasetRepository) DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM catalog_datasets WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete datasets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *datasetRepository) getOne(ctx context.Context, query string, args ...any) (*models.DesiredDataset, error) {
	ds, err := scanDataset(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return ds, nil
}

func (r *datasetRepository) list(ctx context.Context, query string, args ...any) ([]*models.DesiredDataset, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*models.DesiredDataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate datasets: %w", err)
	}
	return datasets, nil
}

func scanDataset(row pgx.Row) (*models.DesiredDataset, error) {
	var ds models.DesiredDataset
	var kind string
	var tags, columns, metrics []byte
	err := row.Scan(
		&ds.ID,
		&ds.SQLHash,
		&ds.SQLText,
		&ds.NormalizedSQL,
		&ds.Name,
		&ds.Description,
		&tags,
		&kind,
		&ds.LocalDatabaseID,
		&ds.DataSetID,
		&ds.SchemaName,
		&ds.TableName,
		&ds.TimeColumn,
		&columns,
		&metrics,
		&ds.RemoteID,
		&ds.CreatedBy,
		&ds.CreatedAt,
		&ds.UpdatedAt,
		&ds.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}
	ds.Kind = models.DatasetKind(kind)

	if err := json.Unmarshal(tags, &ds.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode dataset tags: %w", err)
	}
	if err := json.Unmarshal(columns, &ds.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode dataset columns: %w", err)
	}
	if err := json.Unmarshal(metrics, &ds.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode dataset metrics: %w", err)
	}

	return &ds, nil
}

func encodeDatasetJSON(ds *models.DesiredDataset) (tags, columns, metrics []byte, err error) {
	if tags, err = marshalList(ds.Tags); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	if columns, err = marshalList(ds.Columns); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode columns: %w", err)
	}
	if metrics, err = marshalList(ds.Metrics); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return tags, columns, metrics, nil
}

// marshalList encodes a slice as a JSON array, writing [] for nil slices.
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
