package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-sync/pkg/auth"
	"github.com/ekaya-inc/catalog-sync/pkg/config"
	"github.com/ekaya-inc/catalog-sync/pkg/handlers"
	"github.com/ekaya-inc/catalog-sync/pkg/middleware"
	"github.com/ekaya-inc/catalog-sync/pkg/services"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API and scheduled catalog sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting catalog-sync",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Bool("catalog_enabled", cfg.Superset.Enabled),
		zap.String("catalog_url", cfg.Superset.BaseURL))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return err
	}
	defer jwksClient.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("Token verification is disabled; admin endpoints accept unsigned tokens")
	}

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, cfg.Auth.AdminRole, logger)

	// Background work stops with workCtx; the server drains first.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	dispatcher := services.NewSyncDispatcher(a.syncService, cfg.Superset.Sync.EventQueueSize, logger)
	dispatcher.Start(workCtx)

	if a.syncService.Active() {
		services.NewSyncScheduler(a.syncService, logger).Run(workCtx, cfg.Superset.Sync.Interval)
	} else {
		logger.Info("Catalog sync inactive; scheduler not started",
			zap.Bool("enabled", cfg.Superset.Enabled),
			zap.Bool("sync_enabled", cfg.Superset.Sync.Enabled),
			zap.Bool("configured", a.client.Configured()))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, a.db, a.syncService, logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(cfg, a.syncService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSyncHandler(a.syncService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDatasetHandler(a.registry, a.syncService, dispatcher, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDatabaseHandler(a.localDBRepo, dispatcher, logger).RegisterRoutes(mux, authMiddleware)

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Recover(logger)(handler)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		useTLS := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
		logger.Info("Listening", zap.String("addr", server.Addr), zap.Bool("tls", useTLS))
		var err error
		if useTLS {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	cancelWork()
	dispatcher.Wait()
	logger.Info("Stopped")
	return nil
}
