package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-sync/pkg/config"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// DefaultPort is used when the local url carries no port.
const DefaultPort = 5432

// Adapter tests connectivity to a local PostgreSQL database.
type Adapter struct {
	config *Config
	conn   *pgx.Conn
}

// buildConnectionString renders a pgx url. Loopback hosts are rewritten when
// running in Docker, and user-provided parts are escaped so passwords
// containing @, / or # survive url parsing.
func buildConnectionString(cfg *Config) string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     config.ResolveHostForDocker(cfg.Host) + ":" + strconv.Itoa(port),
		Path:     "/" + cfg.Database,
		RawQuery: cfg.Query,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	return u.String()
}

// NewAdapter opens a single connection to the database described by cfg.
func NewAdapter(ctx context.Context, cfg *Config) (*Adapter, error) {
	connCfg, err := pgx.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Adapter{config: cfg, conn: conn}, nil
}

func newTester(ctx context.Context, db *models.LocalDatabase) (datasource.ConnectionTester, error) {
	cfg, err := FromLocalDatabase(db)
	if err != nil {
		return nil, err
	}
	return NewAdapter(ctx, cfg)
}

// TestConnection verifies the database is reachable and that the session
// landed in the configured database rather than a server default.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := a.conn.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	if a.config.Database != "" && !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", a.config.Database, currentDB)
	}
	return nil
}

// Close releases the connection.
func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close(context.Background())
}

var _ datasource.ConnectionTester = (*Adapter)(nil)
