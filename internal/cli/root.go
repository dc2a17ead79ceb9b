// Package cli is the credits command line: the API server plus the operator
// commands that share its wiring.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/piataro/credits/internal/app"
	"github.com/piataro/credits/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "credits",
	Short: "Credit ledger and listing promotion service",
	Long: `credits runs the listing promotion API and its maintenance jobs:
the auto-repost scheduler and the boost expiration sweep. The operator
commands below run the same code paths once, against the configured database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file (default $CREDITS_CONFIG)")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withComponents loads config, builds the service graph and hands it to fn.
func withComponents(ctx context.Context, fn func(c *app.Components) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	c, err := app.Build(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
