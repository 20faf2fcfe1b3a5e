package main

import (
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/galaxy-chat/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(gdb, migrationModels()...); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}
