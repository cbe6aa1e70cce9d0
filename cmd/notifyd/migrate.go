package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/practiceflow/notify-engine/internal/infra/postgresql"
	"github.com/practiceflow/notify-engine/internal/infra/postgresql/migrations"
)

func newMigrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := commandContext(cmd)
			defer stop()

			db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{MaxOpenConns: 2})
			if err != nil {
				return fmt.Errorf("postgres initialization failed: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("postgres underlying db init failed: %w", err)
			}
			defer sqlDB.Close()

			if rollback {
				if err := migrations.RollbackLast(db); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				logger.Info("last migration rolled back")
				return nil
			}

			if err := migrations.Migrate(db); err != nil {
				return fmt.Errorf("database migrations failed: %w", err)
			}
			logger.Info("database migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recent migration instead")
	return cmd
}
