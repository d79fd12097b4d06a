package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/config"
	"github.com/zoravur/livescore/internal/pgstore"
	"github.com/zoravur/livescore/internal/sqlitestore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	Long: `Apply the embedded goose migrations to the configured postgres or
sqlite store. The memory driver has nothing to migrate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		switch cfg.Store.Driver {
		case config.DriverPostgres:
			err = pgstore.MigrateDSN(ctx, cfg.Store.DSN)
		case config.DriverSQLite:
			err = sqlitestore.MigratePath(ctx, cfg.Store.SQLitePath)
		default:
			return fmt.Errorf("store.driver %q has no migrations", cfg.Store.Driver)
		}
		if err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
