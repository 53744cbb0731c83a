package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/auth"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/services"
)

// syncRequest selects the resources of a manual pass. Empty means all.
type syncRequest struct {
	IDs []uuid.UUID `json:"ids,omitempty"`
}

// SyncHandler exposes manual reconciliation passes.
type SyncHandler struct {
	syncService services.SyncService
	logger      *zap.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(syncService services.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/catalog/sync/databases", authMiddleware.RequireAdmin(h.SyncDatabases))
	mux.HandleFunc("POST /api/catalog/sync/datasets", authMiddleware.RequireAdmin(h.SyncDatasets))
	mux.HandleFunc("POST /api/catalog/sync/all", authMiddleware.RequireAdmin(h.SyncAll))
}

// SyncDatabases handles POST /api/catalog/sync/databases
// The pass result is returned with 200 whether or not it succeeded.
func (h *SyncHandler) SyncDatabases(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result := h.syncService.SyncDatabases(r.Context(), req.IDs, models.SyncTriggerManual)
	h.write(w, result.Success, result)
}

// SyncDatasets handles POST /api/catalog/sync/datasets
func (h *SyncHandler) SyncDatasets(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result := h.syncService.SyncDatasets(r.Context(), req.IDs, models.SyncTriggerManual)
	h.write(w, result.Success, result)
}

// SyncAll handles POST /api/catalog/sync/all
func (h *SyncHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	result := h.syncService.SyncAll(r.Context(), models.SyncTriggerManual)
	h.write(w, result.Success(), result)
}

func (h *SyncHandler) write(w http.ResponseWriter, success bool, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: success, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
