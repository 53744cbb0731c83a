package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/auth"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/repositories"
	"github.com/ekaya-inc/catalog-sync/pkg/services"
)

// CreateDatabaseRequest is the body of POST /api/catalog/databases.
type CreateDatabaseRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Database string `json:"database,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DatabaseListResponse lists local databases and the engines they may use.
type DatabaseListResponse struct {
	Databases []*models.LocalDatabase `json:"databases"`
	Engines   []datasource.EngineInfo `json:"engines"`
}

// connectionTestTimeout bounds a single connection test.
const connectionTestTimeout = 15 * time.Second

// DatabaseHandler exposes local database connections.
type DatabaseHandler struct {
	localDBRepo repositories.LocalDatabaseRepository
	dispatcher  services.SyncDispatcher
	testConn    func(ctx context.Context, db *models.LocalDatabase) error
	logger      *zap.Logger
}

// NewDatabaseHandler creates a new database handler. dispatcher may be nil.
func NewDatabaseHandler(localDBRepo repositories.LocalDatabaseRepository, dispatcher services.SyncDispatcher, logger *zap.Logger) *DatabaseHandler {
	return &DatabaseHandler{
		localDBRepo: localDBRepo,
		dispatcher:  dispatcher,
		testConn:    datasource.TestConnection,
		logger:      logger,
	}
}

// RegisterRoutes registers the database handler's routes on the given mux.
func (h *DatabaseHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/catalog/databases", authMiddleware.RequireAdmin(h.List))
	mux.HandleFunc("POST /api/catalog/databases", authMiddleware.RequireAdmin(h.Create))
	mux.HandleFunc("POST /api/catalog/databases/{id}/test", authMiddleware.RequireAdmin(h.TestConnection))
}

// List handles GET /api/catalog/databases
func (h *DatabaseHandler) List(w http.ResponseWriter, r *http.Request) {
	dbs, err := h.localDBRepo.List(r.Context(), nil)
	if err != nil {
		writeServiceError(w, h.logger, err, "list databases")
		return
	}
	if dbs == nil {
		dbs = []*models.LocalDatabase{}
	}

	resp := DatabaseListResponse{Databases: dbs, Engines: datasource.RegisteredEngines()}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/catalog/databases
// A successful create queues a database sync event.
func (h *DatabaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDatabaseRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if msg := validateCreateDatabase(&req); msg != "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_input", msg); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	db := &models.LocalDatabase{
		Name:     req.Name,
		Type:     req.Type,
		URL:      req.URL,
		Database: req.Database,
		Schema:   req.Schema,
		Username: req.Username,
		Password: req.Password,
	}
	if err := h.localDBRepo.Create(r.Context(), db); err != nil {
		writeServiceError(w, h.logger, err, "create database")
		return
	}

	h.logger.Info("Registered local database",
		zap.String("database_id", db.ID.String()),
		zap.String("name", db.Name),
		zap.String("type", db.Type))

	if h.dispatcher != nil {
		h.dispatcher.Submit(models.ResourceTypeDatabase, []uuid.UUID{db.ID})
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: db}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TestConnection handles POST /api/catalog/databases/{id}/test
// A failed test is reported as success=false with status 200.
func (h *DatabaseHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatabaseID(w, r, h.logger)
	if !ok {
		return
	}

	db, err := h.localDBRepo.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get database")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectionTestTimeout)
	defer cancel()

	if err := h.testConn(ctx, db); err != nil {
		if errors.Is(err, datasource.ErrTestUnsupported) {
			if err := ErrorResponse(w, http.StatusBadRequest, "test_unsupported", err.Error()); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Info("Connection test failed",
			zap.String("database_id", db.ID.String()),
			zap.String("type", db.Type),
			zap.Error(err))
		if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: false, Error: err.Error()}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Connection successful"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func validateCreateDatabase(req *CreateDatabaseRequest) string {
	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))

	switch {
	case req.Name == "":
		return "name is required"
	case req.URL == "":
		return "url is required"
	case !datasource.IsRegistered(req.Type):
		return "unsupported database type: " + req.Type
	}
	return ""
}
