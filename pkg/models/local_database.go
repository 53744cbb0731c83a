package models

import (
	"time"

	"github.com/google/uuid"
)

// Supported local database engine types.
const (
	EngineTypePostgreSQL = "postgresql"
	EngineTypeMySQL      = "mysql"
	EngineTypeClickHouse = "clickhouse"
	EngineTypeSQLServer  = "sqlserver"
)

// LocalDatabase is a source database connection whose datasets are mirrored remotely.
// Password holds the decrypted secret in memory; it is encrypted at rest by the repository layer.
type LocalDatabase struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // "postgresql", "mysql", "clickhouse", "sqlserver"
	URL       string    `json:"url"`  // JDBC url, e.g. jdbc:postgresql://host:5432/db
	Database  string    `json:"database,omitempty"`
	Schema    string    `json:"schema,omitempty"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
