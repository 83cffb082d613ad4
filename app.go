package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/providers"
	"github.com/ekaya-inc/zoku-engine/pkg/config"
	"github.com/ekaya-inc/zoku-engine/pkg/crypto"
	"github.com/ekaya-inc/zoku-engine/pkg/database"
	"github.com/ekaya-inc/zoku-engine/pkg/lease"
	"github.com/ekaya-inc/zoku-engine/pkg/logging"
	"github.com/ekaya-inc/zoku-engine/pkg/repositories"
	"github.com/ekaya-inc/zoku-engine/pkg/retry"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

// app holds the wired dependencies shared by the serve and sync commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *database.DB
	registry  *provider.Registry
	vault     services.CredentialVault
	jewels    services.JewelService
	sources   services.SourceService
	sync      services.SyncService
	qupts     services.QuptService
	scheduler *services.Scheduler
	closers   []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath, Version)
	if err != nil {
		return nil, err
	}
	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("ZOKU_CREDENTIALS_KEY is required")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsLocal() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	logger.Info("Connecting to database",
		zap.String("connection", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openMigrationDB(cfg *config.Config) (*sql.DB, error) {
	stdDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	return stdDB, nil
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	stdDB, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer stdDB.Close()
	return database.RunMigrations(stdDB, logger)
}

// newApp connects to storage, applies migrations and wires the services.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.db, err = connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)

	if err := runMigrations(cfg, logger); err != nil {
		a.Close()
		return nil, err
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid credentials key: %w", err)
	}

	a.registry, err = providers.NewRegistry(cfg.Providers, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	sourceRepo := repositories.NewSourceRepository()
	jewelRepo := repositories.NewJewelRepository()
	quptRepo := repositories.NewQuptRepository()

	locker, err := a.newLocker(ctx, sourceRepo)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.vault = services.NewCredentialVault(encryptor, a.registry, jewelRepo, sourceRepo, logger)
	a.jewels = services.NewJewelService(jewelRepo, a.vault, a.registry, logger)
	a.sources = services.NewSourceService(sourceRepo, jewelRepo, a.vault, a.registry, cfg.Sync.BackfillWindow(), logger)
	a.sync = services.NewSyncService(sourceRepo, quptRepo, a.vault, a.registry, locker, services.SyncOptions{
		CollectTimeout: cfg.Sync.CollectTimeout,
		LeaseTTL:       cfg.Sync.LeaseTTL,
	}, logger)
	a.qupts = services.NewQuptService(quptRepo, sourceRepo, a.vault, locker, logger)
	a.scheduler = services.NewScheduler(
		sourceRepo,
		a.sync,
		database.NewScopeProvider(a.db),
		cfg.Sync.Concurrency,
		cfg.Sync.ScheduleInterval,
		logger,
	)

	return a, nil
}

// newLocker picks Redis for sync leases when it is configured, otherwise the
// sources table.
func (a *app) newLocker(ctx context.Context, sources repositories.SourceRepository) (lease.SyncLocker, error) {
	client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if client == nil {
		a.logger.Info("Using PostgreSQL sync leases")
		return lease.NewPostgresLocker(sources), nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.logger.Info("Using Redis sync leases", zap.String("addr", a.cfg.Redis.Addr()))
	return lease.NewRedisLocker(client), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
