package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the ticket database",
	Long: `Apply pending schema migrations to the ticket database, creating it
if necessary. Migrations are forward-only; every other command refuses to
run against an outdated database until this has been run.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	path, err := databasePath()
	if err != nil {
		return err
	}
	version, applied, err := ticket.Migrate(cmd.Context(), path)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		printer.Info("Database already at version %d\n", version)
		return nil
	}
	for _, name := range applied {
		printer.Step("applied %s\n", name)
	}
	printer.Success("Database migrated to version %d\n", version)
	return nil
}
