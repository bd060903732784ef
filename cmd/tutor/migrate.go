package main

import (
	"context"
	"fmt"
	"time"

	pgstore "github.com/nidhogg/nuka-tutor/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations to PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Server.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is not set")
		}
		ps, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if err != nil {
			return err
		}
		defer ps.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := ps.Migrate(ctx, cfg.Server.MigrationsDir); err != nil {
			return err
		}
		logger.Info("migrations applied", zap.String("dir", cfg.Server.MigrationsDir))
		return nil
	},
}
