package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/config"
	"github.com/ekaya-inc/zoku-engine/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath, Version)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	stdDB, err := openMigrationDB(cfg)
	if err != nil {
		return err
	}
	defer stdDB.Close()

	if err := database.RunMigrations(stdDB, logger); err != nil {
		return err
	}

	version, dirty, err := database.MigrationVersion(stdDB, logger)
	if err != nil {
		return err
	}
	logger.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
