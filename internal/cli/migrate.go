package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piataro/credits/internal/config"
	"github.com/piataro/credits/internal/repository"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("river", true, "Also migrate the river job tables (up and down only)")
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status|redo]",
	Short:     "Manage the database schema",
	Long:      `Run a goose command against the embedded credits schema. up and down also apply the river job tables.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status", "redo"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) == 1 {
		command = args[0]
	}
	withRiver, _ := cmd.Flags().GetBool("river")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	// river tables go in after the schema and come out before it.
	if command == "down" && withRiver {
		if err := migrateRiver(cmd, cfg.DatabaseURL, true); err != nil {
			return err
		}
	}
	if err := repository.RunMigrations(ctx, cfg.DatabaseURL, command); err != nil {
		return err
	}
	if command == "up" && withRiver {
		if err := migrateRiver(cmd, cfg.DatabaseURL, false); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", command)
	return nil
}

func migrateRiver(cmd *cobra.Command, dsn string, down bool) error {
	pool, err := repository.Connect(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	return repository.MigrateRiver(cmd.Context(), pool, down)
}
