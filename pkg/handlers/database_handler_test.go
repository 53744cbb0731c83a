package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource/postgres"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

func newDatabaseMux(repo *mockLocalDBRepo, dispatcher *mockDispatcher) *http.ServeMux {
	mux := http.NewServeMux()
	NewDatabaseHandler(repo, dispatcher, zap.NewNop()).RegisterRoutes(mux, newTestAuthMiddleware())
	return mux
}

func TestDatabaseHandler_Create(t *testing.T) {
	repo := &mockLocalDBRepo{}
	dispatcher := &mockDispatcher{}
	mux := newDatabaseMux(repo, dispatcher)

	req := CreateDatabaseRequest{
		Name:     " warehouse ",
		Type:     "PostgreSQL",
		URL:      "jdbc:postgresql://db.internal:5432/warehouse",
		Username: "reporter",
		Password: "secret",
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/catalog/databases", req, "admin"))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.dbs, 1)
	created := repo.dbs[0]
	assert.Equal(t, "warehouse", created.Name)
	assert.Equal(t, models.EngineTypePostgreSQL, created.Type)
	assert.Equal(t, "secret", created.Password)

	require.Len(t, dispatcher.submissions, 1)
	assert.Equal(t, models.ResourceTypeDatabase, dispatcher.submissions[0].resourceType)
	assert.Equal(t, created.ID, dispatcher.submissions[0].ids[0])

	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestDatabaseHandler_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateDatabaseRequest
	}{
		{"missing name", CreateDatabaseRequest{Type: "postgresql", URL: "jdbc:postgresql://h/db"}},
		{"missing url", CreateDatabaseRequest{Name: "db", Type: "postgresql"}},
		{"unknown type", CreateDatabaseRequest{Name: "db", Type: "oracle", URL: "jdbc:oracle:thin:@h:1521/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockLocalDBRepo{}
			dispatcher := &mockDispatcher{}
			mux := newDatabaseMux(repo, dispatcher)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/catalog/databases", tt.req, "admin"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, repo.dbs)
			assert.Empty(t, dispatcher.submissions)
		})
	}
}

func TestDatabaseHandler_Create_Conflict(t *testing.T) {
	repo := &mockLocalDBRepo{createErr: apperrors.ErrConflict}
	dispatcher := &mockDispatcher{}
	mux := newDatabaseMux(repo, dispatcher)

	req := CreateDatabaseRequest{Name: "warehouse", Type: "postgresql", URL: "jdbc:postgresql://h/db"}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/catalog/databases", req, "admin"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, dispatcher.submissions)
}

func TestDatabaseHandler_List(t *testing.T) {
	repo := &mockLocalDBRepo{dbs: []*models.LocalDatabase{{Name: "warehouse", Type: models.EngineTypePostgreSQL, Password: "secret"}}}
	mux := newDatabaseMux(repo, &mockDispatcher{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/catalog/databases", nil, "admin"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var resp DatabaseListResponse
	decodeAPIResponse(t, rec, &resp)
	require.Len(t, resp.Databases, 1)
	assert.Equal(t, "warehouse", resp.Databases[0].Name)

	var types []string
	for _, e := range resp.Engines {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, models.EngineTypePostgreSQL)
}

func TestDatabaseHandler_List_Empty(t *testing.T) {
	mux := newDatabaseMux(&mockLocalDBRepo{}, &mockDispatcher{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/catalog/databases", nil, "admin"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"databases":[]`)
}

func newTestConnectionMux(repo *mockLocalDBRepo, testConn func(context.Context, *models.LocalDatabase) error) *http.ServeMux {
	h := NewDatabaseHandler(repo, &mockDispatcher{}, zap.NewNop())
	h.testConn = testConn
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, newTestAuthMiddleware())
	return mux
}

func TestDatabaseHandler_TestConnection(t *testing.T) {
	db := &models.LocalDatabase{ID: uuid.New(), Name: "warehouse", Type: models.EngineTypePostgreSQL}
	repo := &mockLocalDBRepo{dbs: []*models.LocalDatabase{db}}

	var tested *models.LocalDatabase
	mux := newTestConnectionMux(repo, func(_ context.Context, d *models.LocalDatabase) error {
		tested = d
		return nil
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/catalog/databases/"+db.ID.String()+"/test", nil, "admin"))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAPIResponse(t, rec, nil)
	assert.True(t, resp.Success)
	assert.Equal(t, "Connection successful", resp.Message)
	assert.Same(t, db, tested)
}

func TestDatabaseHandler_TestConnection_Failure(t *testing.T) {
	db := &models.LocalDatabase{ID: uuid.New(), Type: models.EngineTypePostgreSQL}
	repo := &mockLocalDBRepo{dbs: []*models.LocalDatabase{db}}
	mux := newTestConnectionMux(repo, func(context.Context, *models.LocalDatabase) error {
		return errors.New("ping failed: connection refused")
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, "/api/catalog/databases/"+db.ID.String()+"/test", nil, "admin"))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAPIResponse(t, rec, nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "connection refused")
}

func TestDatabaseHandler_TestConnection_Errors(t *testing.T) {
	db := &models.LocalDatabase{ID: uuid.New(), Type: models.EngineTypeMySQL}
	repo := &mockLocalDBRepo{dbs: []*models.LocalDatabase{db}}
	mux := newTestConnectionMux(repo, func(context.Context, *models.LocalDatabase) error {
		return fmt.Errorf("%w: mysql", datasource.ErrTestUnsupported)
	})

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"unsupported engine", "/api/catalog/databases/" + db.ID.String() + "/test", "admin", http.StatusBadRequest},
		{"unknown database", "/api/catalog/databases/" + uuid.New().String() + "/test", "admin", http.StatusNotFound},
		{"invalid id", "/api/catalog/databases/not-a-uuid/test", "admin", http.StatusBadRequest},
		{"viewer", "/api/catalog/databases/" + db.ID.String() + "/test", "viewer", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, newJSONRequest(t, http.MethodPost, tt.path, nil, tt.token))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
