package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/piataro/credits/internal/app"
	"github.com/piataro/credits/internal/repository"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("migrate", true, "Apply schema and river migrations before serving")
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the maintenance jobs",
	Long: `Serve the promotion API. Unless scheduler.disabled is set, the auto-repost
tick and the expiration sweep run alongside it, either as in-process loops
(scheduler.mode = "loop") or as river periodic jobs (scheduler.mode = "river").`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrate, _ := cmd.Flags().GetBool("migrate")
	return withComponents(ctx, func(c *app.Components) error {
		if migrate {
			if err := applyMigrations(ctx, c); err != nil {
				return err
			}
		}
		servers, err := c.Servers()
		if err != nil {
			return err
		}
		slog.Info("credits service starting",
			"addr", c.Config.Addr(), "scheduler_mode", c.Config.Scheduler.Mode,
			"scheduler_disabled", c.Config.Scheduler.Disabled)
		return app.New(c.Logger, servers...).Run(ctx)
	})
}

func applyMigrations(ctx context.Context, c *app.Components) error {
	if err := repository.RunMigrations(ctx, c.Config.DatabaseURL, "up"); err != nil {
		return err
	}
	if err := repository.MigrateRiver(ctx, c.Pool, false); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}
