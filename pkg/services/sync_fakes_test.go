package services

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/repositories"
	"github.com/ekaya-inc/catalog-sync/pkg/superset"
)

// fakeCatalog is an in-memory remote catalog that records every call.
type fakeCatalog struct {
	mu sync.Mutex

	configured bool
	nextID     int64
	databases  []*models.RemoteDatabase
	datasets   map[int64]*models.RemoteDataset
	calls      []string

	createDatabaseErr error
	createDatasetErr  error
	updateDatasetErr  error
	listDatabasesErr  error

	onListDatabases func()
	lastUpdate      *models.RemoteDataset
	deletedColumns  []int64
	deletedMetrics  []int64
}

var _ CatalogClient = (*fakeCatalog)(nil)

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		configured: true,
		nextID:     100,
		datasets:   make(map[int64]*models.RemoteDataset),
	}
}

func (f *fakeCatalog) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCatalog) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeCatalog) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCatalog) allocID() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeCatalog) Configured() bool {
	return f.configured
}

func (f *fakeCatalog) ListDatabases(ctx context.Context) ([]*models.RemoteDatabase, error) {
	f.record("ListDatabases")
	if f.onListDatabases != nil {
		f.onListDatabases()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listDatabasesErr != nil {
		return nil, f.listDatabasesErr
	}
	out := make([]*models.RemoteDatabase, 0, len(f.databases))
	for _, db := range f.databases {
		cp := *db
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeCatalog) FetchDatabase(ctx context.Context, id int64) (*models.RemoteDatabase, error) {
	f.record("FetchDatabase")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, db := range f.databases {
		if db.RemoteID == id {
			cp := *db
			return &cp, nil
		}
	}
	return nil, &superset.HTTPError{StatusCode: 404, Body: "not found"}
}

func (f *fakeCatalog) CreateDatabase(ctx context.Context, payload superset.DatabasePayload) (int64, error) {
	f.record("CreateDatabase")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createDatabaseErr != nil {
		return 0, f.createDatabaseErr
	}
	id := f.allocID()
	f.databases = append(f.databases, &models.RemoteDatabase{
		RemoteID:      id,
		Name:          payload.DatabaseName,
		ConnectionURI: payload.SQLAlchemyURI,
	})
	return id, nil
}

func (f *fakeCatalog) UpdateDatabase(ctx context.Context, id int64, payload superset.DatabasePayload) error {
	f.record("UpdateDatabase")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, db := range f.databases {
		if db.RemoteID == id {
			db.Name = payload.DatabaseName
			db.ConnectionURI = payload.SQLAlchemyURI
			return nil
		}
	}
	return &superset.HTTPError{StatusCode: 404, Body: "not found"}
}

func (f *fakeCatalog) ListDatasets(ctx context.Context) ([]*models.RemoteDataset, error) {
	f.record("ListDatasets")
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.datasets))
	for id := range f.datasets {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*models.RemoteDataset, 0, len(ids))
	for _, id := range ids {
		ds := f.datasets[id]
		// List responses carry no sub-resources.
		out = append(out, &models.RemoteDataset{
			RemoteID:         ds.RemoteID,
			DatabaseRemoteID: ds.DatabaseRemoteID,
			Schema:           ds.Schema,
			TableName:        ds.TableName,
			SQL:              ds.SQL,
		})
	}
	return out, nil
}

func (f *fakeCatalog) FetchDataset(ctx context.Context, id int64) (*models.RemoteDataset, error) {
	f.record("FetchDataset")
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.datasets[id]
	if !ok {
		return nil, &superset.HTTPError{StatusCode: 404, Body: "not found"}
	}
	return cloneRemoteDataset(ds), nil
}

func (f *fakeCatalog) CreateDataset(ctx context.Context, ds *models.RemoteDataset) (int64, error) {
	f.record("CreateDataset")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createDatasetErr != nil {
		return 0, f.createDatasetErr
	}
	id := f.allocID()
	f.datasets[id] = &models.RemoteDataset{
		RemoteID:         id,
		DatabaseRemoteID: ds.DatabaseRemoteID,
		Schema:           ds.Schema,
		TableName:        ds.TableName,
		SQL:              ds.SQL,
	}
	return id, nil
}

func (f *fakeCatalog) UpdateDataset(ctx context.Context, id int64, ds *models.RemoteDataset) error {
	f.record("UpdateDataset")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateDatasetErr != nil {
		return f.updateDatasetErr
	}
	if _, ok := f.datasets[id]; !ok {
		return &superset.HTTPError{StatusCode: 404, Body: "not found"}
	}
	f.lastUpdate = cloneRemoteDataset(ds)

	stored := cloneRemoteDataset(ds)
	stored.RemoteID = id
	for i := range stored.Columns {
		if stored.Columns[i].RemoteID == nil {
			cid := f.allocID()
			stored.Columns[i].RemoteID = &cid
		}
	}
	for i := range stored.Metrics {
		if stored.Metrics[i].RemoteID == nil {
			mid := f.allocID()
			stored.Metrics[i].RemoteID = &mid
		}
	}
	f.datasets[id] = stored
	return nil
}

func (f *fakeCatalog) DeleteColumn(ctx context.Context, datasetID, columnID int64) error {
	f.record("DeleteColumn")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedColumns = append(f.deletedColumns, columnID)
	if ds, ok := f.datasets[datasetID]; ok {
		ds.Columns = slices.DeleteFunc(ds.Columns, func(c models.Column) bool {
			return c.RemoteID != nil && *c.RemoteID == columnID
		})
	}
	return nil
}

func (f *fakeCatalog) DeleteMetric(ctx context.Context, datasetID, metricID int64) error {
	f.record("DeleteMetric")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMetrics = append(f.deletedMetrics, metricID)
	if ds, ok := f.datasets[datasetID]; ok {
		ds.Metrics = slices.DeleteFunc(ds.Metrics, func(m models.Metric) bool {
			return m.RemoteID != nil && *m.RemoteID == metricID
		})
	}
	return nil
}

func cloneRemoteDataset(ds *models.RemoteDataset) *models.RemoteDataset {
	cp := *ds
	cp.Columns = append([]models.Column(nil), ds.Columns...)
	cp.Metrics = append([]models.Metric(nil), ds.Metrics...)
	return &cp
}

// fakeLocalDatabaseRepo serves local databases from memory.
type fakeLocalDatabaseRepo struct {
	repositories.LocalDatabaseRepository
	databases []*models.LocalDatabase
	listErr   error
}

func (r *fakeLocalDatabaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LocalDatabase, error) {
	for _, db := range r.databases {
		if db.ID == id {
			return db, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeLocalDatabaseRepo) List(ctx context.Context, ids []uuid.UUID) ([]*models.LocalDatabase, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.LocalDatabase
	for _, db := range r.databases {
		if len(ids) == 0 || slices.Contains(ids, db.ID) {
			out = append(out, db)
		}
	}
	return out, nil
}

type syncInfoCall struct {
	ID       uuid.UUID
	RemoteID int64
}

// fakeDatasetRepo is an in-memory registry store.
type fakeDatasetRepo struct {
	mu            sync.Mutex
	datasets      []*models.DesiredDataset
	syncInfoCalls []syncInfoCall
	createErr     error
	lastQuery     *models.DatasetFilter
	onCreate      func(ds *models.DesiredDataset) // runs before the insert, under the lock
}

var _ repositories.DatasetRepository = (*fakeDatasetRepo)(nil)

func (r *fakeDatasetRepo) find(id uuid.UUID) *models.DesiredDataset {
	for _, ds := range r.datasets {
		if ds.ID == id {
			return ds
		}
	}
	return nil
}

func (r *fakeDatasetRepo) Create(ctx context.Context, ds *models.DesiredDataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if r.onCreate != nil {
		r.onCreate(ds)
	}
	for _, existing := range r.datasets {
		if existing.SQLHash == ds.SQLHash {
			return apperrors.ErrConflict
		}
	}
	cp := *ds
	r.datasets = append(r.datasets, &cp)
	return nil
}

func (r *fakeDatasetRepo) Update(ctx context.Context, ds *models.DesiredDataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.datasets {
		if existing.ID == ds.ID {
			cp := *ds
			r.datasets[i] = &cp
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *fakeDatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DesiredDataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds := r.find(id); ds != nil {
		cp := *ds
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeDatasetRepo) GetBySQLHash(ctx context.Context, sqlHash string) (*models.DesiredDataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.datasets {
		if ds.SQLHash == sqlHash {
			cp := *ds
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeDatasetRepo) GetByPhysicalTable(ctx context.Context, localDatabaseID uuid.UUID, schema, table string) (*models.DesiredDataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.datasets {
		if ds.Kind == models.DatasetKindPhysical && ds.LocalDatabaseID == localDatabaseID &&
			strings.EqualFold(ds.SchemaName, schema) && strings.EqualFold(ds.TableName, table) {
			cp := *ds
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeDatasetRepo) ListForSync(ctx context.Context, ids []uuid.UUID) ([]*models.DesiredDataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DesiredDataset
	for _, ds := range r.datasets {
		if len(ids) == 0 || slices.Contains(ids, ds.ID) {
			cp := *ds
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDatasetRepo) UpdateSyncInfo(ctx context.Context, id uuid.UUID, remoteID int64, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncInfoCalls = append(r.syncInfoCalls, syncInfoCall{ID: id, RemoteID: remoteID})
	ds := r.find(id)
	if ds == nil {
		return apperrors.ErrNotFound
	}
	ds.RemoteID = &remoteID
	ds.SyncedAt = &syncedAt
	return nil
}

func (r *fakeDatasetRepo) Query(ctx context.Context, filter models.DatasetFilter) (*models.DatasetPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQuery = &filter
	return &models.DatasetPage{Items: r.datasets, Total: len(r.datasets), Page: 1, PageSize: len(r.datasets)}, nil
}

func (r *fakeDatasetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.datasets)
	r.datasets = slices.DeleteFunc(r.datasets, func(ds *models.DesiredDataset) bool { return ds.ID == id })
	if len(r.datasets) == before {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *fakeDatasetRepo) DeleteBatch(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.datasets)
	r.datasets = slices.DeleteFunc(r.datasets, func(ds *models.DesiredDataset) bool { return slices.Contains(ids, ds.ID) })
	return int64(before - len(r.datasets)), nil
}

// markStale moves a dataset's update clock past its last sync.
func (r *fakeDatasetRepo) markStale(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ds := r.find(id); ds != nil && ds.SyncedAt != nil {
		ds.UpdatedAt = ds.SyncedAt.Add(time.Second)
	}
}
