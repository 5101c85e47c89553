package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-sitechat/internal/repo"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repo.Open(cfg.DB)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("driver", cfg.DB.Driver).Msg("schema up to date")
			return nil
		},
	}
}
