package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/wfm-allocator/internal/config"
	"github.com/bigkaa/wfm-allocator/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции PostgreSQL и выйти",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StorageDriver != config.StorageDriverPostgres {
			return errors.New("миграции применимы только при FA_STORAGE_DRIVER=postgres")
		}
		if err := database.Migrate(cfg, logger); err != nil {
			return err
		}
		logger.Info("Миграции применены", slog.String("db", cfg.DBName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
