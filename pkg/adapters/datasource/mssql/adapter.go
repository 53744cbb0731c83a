package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/config"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// DefaultPort is used when the local url carries no port and no instance.
const DefaultPort = 1433

// Adapter tests connectivity to a local SQL Server database using SQL authentication.
type Adapter struct {
	config *Config
	db     *sql.DB
}

// buildConnectionString renders a sqlserver:// url for the go-mssqldb driver.
// Named instances are addressed by path and resolved through the browser service.
func buildConnectionString(cfg *Config) string {
	query := url.Values{}
	if cfg.Database != "" {
		query.Set("database", cfg.Database)
	}
	if cfg.Encrypt != "" {
		query.Set("encrypt", cfg.Encrypt)
	}
	if cfg.TrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}

	host := config.ResolveHostForDocker(cfg.Host)
	switch {
	case cfg.Port != 0:
		host = host + ":" + strconv.Itoa(cfg.Port)
	case cfg.Instance == "":
		host = host + ":" + strconv.Itoa(DefaultPort)
	}

	u := url.URL{
		Scheme:   "sqlserver",
		Host:     host,
		RawQuery: query.Encode(),
	}
	if cfg.Instance != "" {
		u.Path = "/" + cfg.Instance
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// NewAdapter opens a SQL Server handle and pings it once.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}
	return &Adapter{config: cfg, db: db}, nil
}

func newTester(ctx context.Context, db *models.LocalDatabase) (datasource.ConnectionTester, error) {
	cfg, err := FromLocalDatabase(db)
	if err != nil {
		return nil, err
	}
	return NewAdapter(ctx, cfg)
}

// TestConnection verifies the database is reachable and that the login
// landed in the configured database rather than its default database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := a.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	if a.config.Database != "" && !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}
	return nil
}

// Close releases the handle.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

var _ datasource.ConnectionTester = (*Adapter)(nil)
