// Package postgres registers the PostgreSQL connection URI builder.
package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// Driver is the remote catalog's driver identifier for PostgreSQL.
const Driver = "postgresql+psycopg2"

// unsupportedParams are JDBC-only parameters the remote driver rejects.
var unsupportedParams = []string{"stringtype"}

// Config contains the PostgreSQL connection parts needed for a remote URI.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Query    string
}

// DefaultSchema returns the schema assumed when none is configured.
func DefaultSchema() string {
	return "public"
}

// FromLocalDatabase builds a Config from a local database record.
// The url may be a JDBC url (jdbc:postgresql://...) or anything pgconn accepts
// (postgres:// url or keyword/value DSN).
func FromLocalDatabase(db *models.LocalDatabase) (*Config, error) {
	raw := strings.TrimSpace(db.URL)
	if raw == "" {
		return nil, fmt.Errorf("url is required")
	}

	var cfg *Config
	var err error
	if strings.HasPrefix(raw, "jdbc:") {
		cfg, err = fromJDBC(raw)
	} else {
		cfg, err = fromDSN(raw)
	}
	if err != nil {
		return nil, err
	}

	if db.Username != "" {
		cfg.User = db.Username
	}
	if db.Password != "" {
		cfg.Password = db.Password
	}
	if db.Database != "" {
		cfg.Database = db.Database
	}
	return cfg, nil
}

func fromJDBC(raw string) (*Config, error) {
	u, err := datasource.ParseJDBC(raw)
	if err != nil {
		return nil, err
	}
	return &Config{
		Host:     u.Host,
		Port:     u.Port,
		Database: u.Database,
		Query:    datasource.FilterQuery(u.RawQuery, unsupportedParams...),
	}, nil
}

func fromDSN(raw string) (*Config, error) {
	pgCfg, err := pgconn.ParseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}
	if pgCfg.Host == "" {
		return nil, fmt.Errorf("postgres connection string has no host")
	}

	keys := make([]string, 0, len(pgCfg.RuntimeParams))
	for k := range pgCfg.RuntimeParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+pgCfg.RuntimeParams[k])
	}

	return &Config{
		Host:     pgCfg.Host,
		Port:     int(pgCfg.Port),
		User:     pgCfg.User,
		Password: pgCfg.Password,
		Database: pgCfg.Database,
		Query:    datasource.FilterQuery(strings.Join(parts, "&"), unsupportedParams...),
	}, nil
}

// ConnectionURI renders the remote connection URI.
func (c *Config) ConnectionURI() string {
	return datasource.AssembleURI(datasource.URIParts{
		Driver:   Driver,
		User:     c.User,
		Password: c.Password,
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		Query:    c.Query,
	})
}

func init() {
	datasource.Register(datasource.EngineRegistration{
		Info: datasource.EngineInfo{
			Type:          models.EngineTypePostgreSQL,
			DisplayName:   "PostgreSQL",
			Driver:        Driver,
			DefaultSchema: DefaultSchema(),
			Aliases:       []string{"postgres", "pg"},
		},
		BuildURI: func(db *models.LocalDatabase) (string, error) {
			cfg, err := FromLocalDatabase(db)
			if err != nil {
				return "", err
			}
			return cfg.ConnectionURI(), nil
		},
		NewTester: newTester,
	})
}
