package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/auth"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
	"github.com/ekaya-inc/catalog-sync/pkg/services"
	sqlutil "github.com/ekaya-inc/catalog-sync/pkg/sql"
)

// RegisterDatasetRequest is the body of POST /api/catalog/datasets/register.
type RegisterDatasetRequest struct {
	models.DatasetDefinition
	// Sync runs an on-demand pass and returns the remote view. Otherwise the
	// pass is queued and the registered record is returned immediately.
	Sync bool `json:"sync,omitempty"`
}

// RegisterDatasetResponse reports the registered record and, for
// synchronous registration, the remote dataset.
type RegisterDatasetResponse struct {
	Dataset *models.DesiredDataset `json:"dataset,omitempty"`
	Remote  *models.RemoteDataset  `json:"remote,omitempty"`
	EventID *uuid.UUID             `json:"event_id,omitempty"`
}

// DeleteBatchRequest is the body of POST /api/catalog/datasets/delete-batch.
type DeleteBatchRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// DeleteBatchResponse reports how many datasets were removed.
type DeleteBatchResponse struct {
	Deleted int64 `json:"deleted"`
}

// DatasetHandler exposes the dataset registry.
type DatasetHandler struct {
	registry    services.DatasetRegistryService
	syncService services.SyncService
	dispatcher  services.SyncDispatcher
	logger      *zap.Logger
}

// NewDatasetHandler creates a new dataset handler. dispatcher may be nil, in
// which case asynchronous registrations are not synced until the next pass.
func NewDatasetHandler(
	registry services.DatasetRegistryService,
	syncService services.SyncService,
	dispatcher services.SyncDispatcher,
	logger *zap.Logger,
) *DatasetHandler {
	return &DatasetHandler{
		registry:    registry,
		syncService: syncService,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// RegisterRoutes registers the dataset handler's routes on the given mux.
func (h *DatasetHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/catalog/datasets/register", authMiddleware.RequireAdmin(h.Register))
	mux.HandleFunc("GET /api/catalog/datasets", authMiddleware.RequireAdmin(h.List))
	mux.HandleFunc("GET /api/catalog/datasets/{id}", authMiddleware.RequireAdmin(h.Get))
	mux.HandleFunc("DELETE /api/catalog/datasets/{id}", authMiddleware.RequireAdmin(h.Delete))
	mux.HandleFunc("POST /api/catalog/datasets/delete-batch", authMiddleware.RequireAdmin(h.DeleteBatch))
}

// Register handles POST /api/catalog/datasets/register
func (h *DatasetHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterDatasetRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = auth.ActorFromContext(r.Context())
	}

	if req.Sync {
		remote, err := h.syncService.RegisterAndSync(r.Context(), &req.DatasetDefinition)
		if err != nil {
			writeServiceError(w, h.logger, err, "register dataset")
			return
		}
		h.writeRegistered(w, RegisterDatasetResponse{Remote: remote})
		return
	}

	ds, err := h.registry.RegisterDataset(r.Context(), &req.DatasetDefinition)
	if err != nil {
		writeServiceError(w, h.logger, err, "register dataset")
		return
	}

	resp := RegisterDatasetResponse{Dataset: ds}
	if ds != nil && h.dispatcher != nil && h.syncService.Active() && ds.ShouldSync() {
		if eventID, ok := h.dispatcher.Submit(models.ResourceTypeDataset, []uuid.UUID{ds.ID}); ok {
			resp.EventID = &eventID
		}
	}
	h.writeRegistered(w, resp)
}

func (h *DatasetHandler) writeRegistered(w http.ResponseWriter, resp RegisterDatasetResponse) {
	status := http.StatusOK
	message := ""
	if resp.Dataset == nil && resp.Remote == nil {
		message = "Nothing was registered"
	}
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: resp, Message: message}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/catalog/datasets
// Supported query parameters: name, kind, local_database_id, data_set_id,
// sql_hash, remote_id, created_by, synced, page, page_size.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDatasetFilter(r)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	page, err := h.registry.Query(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "list datasets")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/catalog/datasets/{id}
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	ds, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get dataset")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ds}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/catalog/datasets/{id}
// Only the registry record is removed; the remote dataset is left in place.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete dataset")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Dataset deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteBatch handles POST /api/catalog/datasets/delete-batch
func (h *DatasetHandler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req DeleteBatchRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if len(req.IDs) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_ids", "At least one dataset ID is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	deleted, err := h.registry.DeleteBatch(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, h.logger, err, "delete datasets")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: DeleteBatchResponse{Deleted: deleted}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func parseDatasetFilter(r *http.Request) (models.DatasetFilter, error) {
	q := r.URL.Query()
	filter := models.DatasetFilter{
		Name:      q.Get("name"),
		Kind:      models.DatasetKind(q.Get("kind")),
		SQLHash:   q.Get("sql_hash"),
		CreatedBy: q.Get("created_by"),
	}

	var err error
	if filter.LocalDatabaseID, err = queryUUID(r, "local_database_id"); err != nil {
		return filter, errInvalidParam("local_database_id")
	}
	if filter.DataSetID, err = queryInt(r, "data_set_id"); err != nil {
		return filter, errInvalidParam("data_set_id")
	}
	if filter.RemoteID, err = queryInt(r, "remote_id"); err != nil {
		return filter, errInvalidParam("remote_id")
	}
	if filter.Synced, err = queryBool(r, "synced"); err != nil {
		return filter, errInvalidParam("synced")
	}
	for name, dst := range map[string]*int{"page": &filter.Page, "page_size": &filter.PageSize} {
		if raw := q.Get(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				return filter, errInvalidParam(name)
			}
			*dst = v
		}
	}

	// Free-text filters are bound as parameters; obvious injection payloads
	// are still rejected so they never reach the registry.
	if hits := sqlutil.CheckFilterValues(map[string]string{
		"name":       filter.Name,
		"created_by": filter.CreatedBy,
	}); len(hits) > 0 {
		return filter, errInvalidParam(hits[0].Field)
	}
	return filter, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string {
	return "invalid value for query parameter " + string(e)
}
