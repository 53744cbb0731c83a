package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/config"
	"github.com/ekaya-inc/catalog-sync/pkg/crypto"
	"github.com/ekaya-inc/catalog-sync/pkg/database"
	"github.com/ekaya-inc/catalog-sync/pkg/logging"
	"github.com/ekaya-inc/catalog-sync/pkg/repositories"
	"github.com/ekaya-inc/catalog-sync/pkg/retry"
	"github.com/ekaya-inc/catalog-sync/pkg/services"
	"github.com/ekaya-inc/catalog-sync/pkg/superset"

	// Engines register their connection URI builders from init().
	_ "github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource/clickhouse"
	_ "github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/catalog-sync/pkg/adapters/datasource/postgres"
)

// app holds the components shared by the server and the one-shot commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB

	localDBRepo repositories.LocalDatabaseRepository
	datasetRepo repositories.DatasetRepository
	client      *superset.Client
	registry    services.DatasetRegistryService
	syncService services.SyncService
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Env == "local" || cfg.Env == "dev",
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
}

// newApp connects to the registry, applies migrations and builds the services.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if cfg.CredentialsKey == "" {
		return nil, errors.New("CREDENTIALS_KEY is required to encrypt local database passwords")
	}
	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential encryptor: %w", err)
	}

	connStr := cfg.Database.ConnectionString()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to registry database: %w", err)
	}

	if err := migrate(connStr, cfg.Database.MigrationsPath, logger); err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		localDBRepo: repositories.NewLocalDatabaseRepository(db, encryptor),
		datasetRepo: repositories.NewDatasetRepository(db),
	}

	ss := cfg.Superset
	a.client = superset.NewClient(superset.Config{
		BaseURL:     ss.BaseURL,
		Timeout:     ss.Timeout(),
		AuthEnabled: ss.AuthEnabled,
		Strategy:    superset.ParseStrategy(ss.AuthStrategy),
		APIKey:      ss.APIKey,
		Username:    ss.Username,
		Password:    ss.Password,
		Provider:    ss.Provider,
		PageSize:    ss.PageSize,
	}, logger)

	resolver := services.NewIdentityResolver(logger)
	a.registry = services.NewDatasetRegistryService(db, a.datasetRepo, a.localDBRepo, resolver, logger)
	a.syncService = services.NewSyncService(a.client, a.localDBRepo, a.datasetRepo, a.registry, services.SyncSettings{
		Enabled:           ss.Enabled,
		SyncEnabled:       ss.Sync.Enabled,
		Rebuild:           ss.Sync.Rebuild,
		DefaultEngineType: ss.DatasourceType,
		Retry: retry.SchedulerConfig{
			Interval:    ss.Sync.RetryInterval,
			MaxAttempts: ss.Sync.MaxRetries,
			Workers:     ss.Sync.RetryWorkers,
		},
	}, logger)

	return a, nil
}

// migrate applies registry migrations over a short-lived database/sql handle.
func migrate(connStr, path string, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, path, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (a *app) Close() {
	a.syncService.Close()
	a.db.Close()
}
