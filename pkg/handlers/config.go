package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/auth"
	"github.com/ekaya-inc/catalog-sync/pkg/config"
)

// ConfigResponse contains the non-secret catalog sync settings.
type ConfigResponse struct {
	BaseURL         string `json:"base_url"`
	CatalogURL      string `json:"catalog_url"`
	SyncEnabled     bool   `json:"sync_enabled"`
	SyncActive      bool   `json:"sync_active"`
	AuthEnabled     bool   `json:"auth_enabled"`
	AuthStrategy    string `json:"auth_strategy"`
	Interval        string `json:"interval"`
	RetryInterval   string `json:"retry_interval"`
	MaxRetries      int    `json:"max_retries"`
	Rebuild         bool   `json:"rebuild"`
	DatasourceType  string `json:"datasource_type"`
	TokenConfigured bool   `json:"token_configured"`
	APIKeySet       bool   `json:"api_key_configured"`
}

// ConfigHandler handles configuration requests.
type ConfigHandler struct {
	config *config.Config
	sync   SyncStatus
	logger *zap.Logger
}

// NewConfigHandler creates a new config handler. sync may be nil.
func NewConfigHandler(cfg *config.Config, sync SyncStatus, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		sync:   sync,
		logger: logger,
	}
}

// RegisterRoutes registers the config handler's routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/catalog/config", authMiddleware.RequireAdmin(h.Get))
}

// Get handles GET /api/catalog/config
// Credentials are reported only as configured or not.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	ss := h.config.Superset
	response := ConfigResponse{
		BaseURL:         h.config.BaseURL,
		CatalogURL:      ss.BaseURL,
		SyncEnabled:     ss.Enabled && ss.Sync.Enabled,
		SyncActive:      h.sync != nil && h.sync.Active(),
		AuthEnabled:     ss.AuthEnabled,
		AuthStrategy:    ss.AuthStrategy,
		Interval:        ss.Sync.Interval.String(),
		RetryInterval:   ss.Sync.RetryInterval.String(),
		MaxRetries:      ss.Sync.MaxRetries,
		Rebuild:         ss.Sync.Rebuild,
		DatasourceType:  ss.DatasourceType,
		TokenConfigured: ss.Username != "" && ss.Password != "",
		APIKeySet:       ss.APIKey != "",
	}

	w.Header().Set("Cache-Control", "private, no-cache")
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to encode config response", zap.Error(err))
	}
}
