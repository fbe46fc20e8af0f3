package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aster0/aster/internal/config"
	"github.com/aster0/aster/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending database migrations.

Migrations also run automatically on startup; this command exists for
applying them ahead of a deploy or against a fresh database.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
	return nil
}
