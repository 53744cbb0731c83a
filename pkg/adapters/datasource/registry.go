// Package datasource maps local database engines to the connection URIs the
// remote catalog expects. Each engine subpackage registers itself from init().
package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// EngineInfo describes a registered engine.
type EngineInfo struct {
	Type          string   `json:"type"`           // "postgresql", "mysql", ...
	DisplayName   string   `json:"display_name"`   // "PostgreSQL"
	Driver        string   `json:"driver"`         // Remote driver identifier, e.g. "postgresql+psycopg2"
	DefaultSchema string   `json:"default_schema"` // Used when the local database has no schema set
	Aliases       []string `json:"aliases,omitempty"`
	Testable      bool     `json:"testable"` // A connection test can be run locally
}

// EngineRegistration pairs engine info with its URI builder.
// BuildURI must be a pure function of the local database record.
// NewTester is optional; engines without a local driver leave it nil.
type EngineRegistration struct {
	Info      EngineInfo
	BuildURI  func(db *models.LocalDatabase) (string, error)
	NewTester func(ctx context.Context, db *models.LocalDatabase) (ConnectionTester, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]EngineRegistration)
)

// Register is called by each engine's init() function.
// The type and every alias are matched case-insensitively.
func Register(reg EngineRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	reg.Info.Testable = reg.NewTester != nil
	registry[strings.ToLower(reg.Info.Type)] = reg
	for _, alias := range reg.Info.Aliases {
		registry[strings.ToLower(alias)] = reg
	}
}

// RegisteredEngines returns info for all registered engines, sorted by type.
func RegisteredEngines() []EngineInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	result := make([]EngineInfo, 0, len(registry))
	for _, reg := range registry {
		if seen[reg.Info.Type] {
			continue
		}
		seen[reg.Info.Type] = true
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// Lookup returns the registration for an engine type.
func Lookup(engineType string) (EngineRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[strings.ToLower(strings.TrimSpace(engineType))]
	return reg, ok
}

// IsRegistered checks if an engine type is available.
func IsRegistered(engineType string) bool {
	_, ok := Lookup(engineType)
	return ok
}

// BuildConnectionURI renders the remote connection URI for a local database.
// Returns apperrors.ErrUnsupportedEngine for engines with no registered builder.
func BuildConnectionURI(db *models.LocalDatabase) (string, error) {
	if db == nil {
		return "", fmt.Errorf("local database is nil")
	}
	reg, ok := Lookup(db.Type)
	if !ok {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedEngine, db.Type)
	}
	return reg.BuildURI(db)
}

// ResolveSchema returns the schema datasets on db default to.
// The database's own schema wins; otherwise the engine default applies.
func ResolveSchema(db *models.LocalDatabase) string {
	if db == nil {
		return ""
	}
	if s := strings.TrimSpace(db.Schema); s != "" {
		return s
	}
	if reg, ok := Lookup(db.Type); ok {
		return reg.Info.DefaultSchema
	}
	return ""
}
