package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/examarchive/paperingest/internal/database"
)

// newMigrateCmd creates the 'migrate' subcommand: applies pending schema
// migrations to the metadata database.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Cfg.DB.DSN == "" {
				return errors.New("db.dsn must be configured to migrate")
			}
			if err := database.Migrate(a.Cfg.DB.DSN); err != nil {
				return err
			}
			a.Logger.Info("migrations applied")
			return nil
		},
	}
}
