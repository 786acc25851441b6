package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knapabuse2-cmd/outreach/db"
	"github.com/knapabuse2-cmd/outreach/internal/clifmt"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := strings.TrimSpace(viper.GetString("database.dsn"))
			if dsn == "" {
				return fmt.Errorf("database.dsn is required")
			}
			cfg := dbConfigFromViper(dsn)
			cfg.AutoMigrate = true
			if _, err := db.Open(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success("Database schema is up to date."))
			return nil
		},
	}
}
