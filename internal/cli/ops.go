package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/piataro/credits/internal/app"
	"github.com/piataro/credits/internal/auth"
	"github.com/piataro/credits/internal/config"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/scheduler"
	"github.com/piataro/credits/internal/sweeper"
)

func init() {
	rootCmd.AddCommand(tickCmd, sweepCmd, grantCmd, reconcileCmd, tokenCmd, hashKeyCmd)

	sweepCmd.Flags().Bool("dry-run", false, "Report what would expire without writing")
	grantCmd.Flags().StringP("description", "d", "manual grant", "Ledger description")
	reconcileCmd.Flags().Bool("all", false, "Check every account")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

// ─── tick ───────────────────────────────────────────────────────────────────

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one auto-repost scheduler tick now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd.Context(), func(c *app.Components) error {
			rep, err := c.Scheduler.RunTick(cmd.Context(), c.Clock.Now())
			if err != nil {
				return err
			}
			printTick(cmd.OutOrStdout(), rep)
			return nil
		})
	},
}

func printTick(w io.Writer, rep scheduler.TickReport) {
	fmt.Fprintf(w, "due %d  promoted %d  disabled %d  skipped %d  failed %d  (%s)\n",
		rep.Due, rep.Promoted, rep.Disabled, rep.Skipped, rep.Failed, rep.Duration.Round(time.Millisecond))
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  %v\n", e)
	}
	if rep.Cancelled {
		fmt.Fprintln(w, "  tick cancelled before every due rule was visited")
	}
}

// ─── sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire boosts that are past their end time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return withComponents(cmd.Context(), func(c *app.Components) error {
			now := c.Clock.Now()
			var (
				rep sweeper.Report
				err error
			)
			if dryRun {
				rep, err = c.Sweeper.DryRun(cmd.Context(), now)
			} else {
				rep, err = c.Sweeper.RunSweep(cmd.Context(), now)
			}
			if err != nil {
				return err
			}
			printSweep(cmd.OutOrStdout(), rep)
			return nil
		})
	},
}

func printSweep(w io.Writer, rep sweeper.Report) {
	if rep.DryRun {
		fmt.Fprintf(w, "would expire %d boosts on %d listings\n", len(rep.Expired), len(rep.ListingIDs))
	} else {
		fmt.Fprintf(w, "deactivated %d boosts, unfeatured %d listings, %d failed\n",
			rep.BoostsDeactivated, rep.ListingsUnfeatured, rep.Failed)
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "  listing %s: %v\n", f.ListingID, f.Err)
		}
	}
	fmt.Fprintf(w, "active boosts %d, featured listings %d\n", rep.ActiveBoosts, rep.FeaturedListings)
}

// ─── grant / reconcile ──────────────────────────────────────────────────────

var grantCmd = &cobra.Command{
	Use:   "grant ACCOUNT_ID AMOUNT",
	Short: "Credit an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("account id: %w", err)
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		desc, _ := cmd.Flags().GetString("description")
		return withComponents(cmd.Context(), func(c *app.Components) error {
			out, err := c.Ledger.Grant(cmd.Context(), acct, amount, desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s, balance %s\n", amount, acct, out.Balance)
			return nil
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [ACCOUNT_ID | --all]",
	Short: "Check account balances against their transaction history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return errors.New("give either an account id or --all")
		}
		if all {
			return withComponents(cmd.Context(), func(c *app.Components) error {
				checked, mismatches, err := c.Ledger.ReconcileAll(cmd.Context())
				printReconcile(cmd.OutOrStdout(), checked, mismatches)
				if err != nil {
					return err
				}
				if len(mismatches) > 0 {
					return fmt.Errorf("%d of %d accounts inconsistent", len(mismatches), checked)
				}
				return nil
			})
		}
		acct, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("account id: %w", err)
		}
		return withComponents(cmd.Context(), func(c *app.Components) error {
			err := c.Ledger.Reconcile(cmd.Context(), acct)
			var rerr *ledger.ReconciliationError
			if errors.As(err, &rerr) {
				return fmt.Errorf("account %s: balance %s, history says %s", acct, rerr.Balance, rerr.Expected)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s is consistent\n", acct)
			return nil
		})
	},
}

func printReconcile(w io.Writer, checked int, mismatches []*ledger.ReconciliationError) {
	fmt.Fprintf(w, "checked %d  inconsistent %d\n", checked, len(mismatches))
	for _, m := range mismatches {
		fmt.Fprintf(w, "  account %s: balance %s, history says %s\n", m.AccountID, m.Balance, m.Expected)
	}
}

// ─── token / hash-admin-key ─────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token ACCOUNT_ID",
	Short: "Issue a bearer token for an account (development)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("account id: %w", err)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok, err := auth.NewService(cfg.JWTSecret, cfg.AdminKeyHash).IssueToken(acct, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-admin-key KEY",
	Short: "Print the bcrypt hash to set as ADMIN_KEY_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashAdminKey(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}
