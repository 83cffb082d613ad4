package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/auth"
	"github.com/ekaya-inc/zoku-engine/pkg/database"
	"github.com/ekaya-inc/zoku-engine/pkg/handlers"
	"github.com/ekaya-inc/zoku-engine/pkg/middleware"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync scheduler",
	Long: `Run the zoku-engine HTTP API.

Migrations are applied on startup. When sync.schedule_interval is non-zero
every enabled source is synced on that interval in the background.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	cfg := a.cfg
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Duration("collect_timeout", cfg.Sync.CollectTimeout),
		zap.Duration("schedule_interval", cfg.Sync.ScheduleInterval),
	)

	jwksClient, err := auth.NewJWKSClient(auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWKS client: %w", err)
	}
	defer jwksClient.Close()

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	scope := handlers.ScopeMiddleware(database.WithScope(a.db, logger))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, a.db, logger).RegisterRoutes(mux)
	handlers.NewProvidersHandler(a.registry, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSourcesHandler(a.sources, a.sync, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewJewelsHandler(a.jewels, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewQuptsHandler(a.qupts, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewWebhooksHandler(a.qupts, logger).RegisterRoutes(mux, scope)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		// Manual syncs hold the request open for up to the collect timeout.
		WriteTimeout: cfg.Sync.CollectTimeout + 15*time.Second,
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.scheduler.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting zoku-engine",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
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
			stop()
			<-schedulerDone
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	<-schedulerDone
	logger.Info("Stopped")
	return nil
}
