package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/auth"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/repositories"
	"github.com/ekaya-inc/catalog-sync/pkg/services"
)

// stubValidator accepts the token "admin" and "viewer" and rejects the rest.
type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (*auth.Claims, error) {
	switch token {
	case "admin":
		c := &auth.Claims{Email: "admin@example.com", Roles: []string{"admin"}}
		c.Subject = "admin-user"
		return c, nil
	case "viewer":
		c := &auth.Claims{Email: "viewer@example.com", Roles: []string{"viewer"}}
		c.Subject = "viewer-user"
		return c, nil
	}
	return nil, apperrors.ErrInvalidInput
}

func (stubValidator) Close() {}

func newTestAuthMiddleware() *auth.Middleware {
	return auth.NewMiddleware(auth.NewAuthService(stubValidator{}, zap.NewNop()), "admin", zap.NewNop())
}

// mockSyncService records calls and returns canned results.
type mockSyncService struct {
	services.SyncService

	mu       sync.Mutex
	active   bool
	result   *models.SyncResult
	full     *models.FullSyncResult
	remote   *models.RemoteDataset
	err      error
	ids      []uuid.UUID
	triggers []models.SyncTrigger
	defs     []*models.DatasetDefinition
}

func (m *mockSyncService) record(ids []uuid.UUID, trigger models.SyncTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids
	m.triggers = append(m.triggers, trigger)
}

func (m *mockSyncService) SyncDatabases(_ context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult {
	m.record(ids, trigger)
	return m.result
}

func (m *mockSyncService) SyncDatasets(_ context.Context, ids []uuid.UUID, trigger models.SyncTrigger) *models.SyncResult {
	m.record(ids, trigger)
	return m.result
}

func (m *mockSyncService) SyncAll(_ context.Context, trigger models.SyncTrigger) *models.FullSyncResult {
	m.record(nil, trigger)
	return m.full
}

func (m *mockSyncService) RegisterAndSync(_ context.Context, def *models.DatasetDefinition) (*models.RemoteDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs = append(m.defs, def)
	return m.remote, m.err
}

func (m *mockSyncService) Active() bool { return m.active }

// mockRegistry is an in-memory DatasetRegistryService.
type mockRegistry struct {
	services.DatasetRegistryService

	registered  *models.DesiredDataset
	page        *models.DatasetPage
	dataset     *models.DesiredDataset
	err         error
	defs        []*models.DatasetDefinition
	filter      models.DatasetFilter
	deletedIDs  []uuid.UUID
	deleteCount int64
}

func (m *mockRegistry) RegisterDataset(_ context.Context, def *models.DatasetDefinition) (*models.DesiredDataset, error) {
	m.defs = append(m.defs, def)
	return m.registered, m.err
}

func (m *mockRegistry) Query(_ context.Context, filter models.DatasetFilter) (*models.DatasetPage, error) {
	m.filter = filter
	return m.page, m.err
}

func (m *mockRegistry) Get(_ context.Context, id uuid.UUID) (*models.DesiredDataset, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.dataset == nil || m.dataset.ID != id {
		return nil, apperrors.ErrNotFound
	}
	return m.dataset, nil
}

func (m *mockRegistry) Delete(_ context.Context, id uuid.UUID) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return m.err
}

func (m *mockRegistry) DeleteBatch(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.deletedIDs = append(m.deletedIDs, ids...)
	return m.deleteCount, m.err
}

type submission struct {
	resourceType models.ResourceType
	ids          []uuid.UUID
}

// mockDispatcher records submitted events.
type mockDispatcher struct {
	services.SyncDispatcher

	full        bool
	submissions []submission
}

func (m *mockDispatcher) Submit(resourceType models.ResourceType, ids []uuid.UUID) (uuid.UUID, bool) {
	if m.full {
		return uuid.Nil, false
	}
	m.submissions = append(m.submissions, submission{resourceType: resourceType, ids: ids})
	return uuid.New(), true
}

// mockLocalDBRepo is an in-memory LocalDatabaseRepository.
type mockLocalDBRepo struct {
	repositories.LocalDatabaseRepository

	dbs       []*models.LocalDatabase
	createErr error
	listErr   error
}

func (m *mockLocalDBRepo) Create(_ context.Context, db *models.LocalDatabase) error {
	if m.createErr != nil {
		return m.createErr
	}
	db.ID = uuid.New()
	m.dbs = append(m.dbs, db)
	return nil
}

func (m *mockLocalDBRepo) GetByID(_ context.Context, id uuid.UUID) (*models.LocalDatabase, error) {
	for _, db := range m.dbs {
		if db.ID == id {
			return db, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockLocalDBRepo) List(_ context.Context, _ []uuid.UUID) ([]*models.LocalDatabase, error) {
	return m.dbs, m.listErr
}

// newJSONRequest builds a request with an optional JSON body and bearer token.
func newJSONRequest(t *testing.T, method, path string, body any, token string) *http.Request {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// decodeAPIResponse decodes an ApiResponse whose Data is unmarshaled into data.
func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder, data any) ApiResponse {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	if data != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, data))
	}
	return ApiResponse{Success: envelope.Success, Error: envelope.Error, Message: envelope.Message}
}
