package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		logger.Info("Database is up to date", zap.String("type", cfg.Database.Type))
		return nil
	},
}
