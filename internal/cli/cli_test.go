package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/piataro/credits/internal/boost"
	"github.com/piataro/credits/internal/ledger"
	"github.com/piataro/credits/internal/scheduler"
	"github.com/piataro/credits/internal/sweeper"
)

func TestPrintTick(t *testing.T) {
	var buf bytes.Buffer
	id := uuid.New()
	printTick(&buf, scheduler.TickReport{
		Due: 3, Promoted: 1, Disabled: 1, Failed: 1,
		Errors:   []scheduler.RuleError{{RuleID: id, Err: errors.New("deadlock")}},
		Duration: 12 * time.Millisecond,
	})
	out := buf.String()
	for _, want := range []string{"due 3", "promoted 1", "disabled 1", "failed 1", id.String(), "deadlock"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSweep(t *testing.T) {
	var buf bytes.Buffer
	printSweep(&buf, sweeper.Report{
		BoostsDeactivated: 2, ListingsUnfeatured: 1, Failed: 1,
		Failures:     []boost.ListingFailure{{ListingID: uuid.New(), Err: errors.New("lock timeout")}},
		ActiveBoosts: 4, FeaturedListings: 3,
	})
	out := buf.String()
	for _, want := range []string{"deactivated 2 boosts", "unfeatured 1 listings", "lock timeout", "active boosts 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printSweep(&buf, sweeper.Report{DryRun: true, ListingIDs: []uuid.UUID{uuid.New()}})
	if !strings.Contains(buf.String(), "would expire 0 boosts on 1 listings") {
		t.Errorf("dry run output: %s", buf.String())
	}
}

func TestHashAdminKeyCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"hash-admin-key", "s3cret"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	hash := strings.TrimSpace(buf.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("printed hash does not match key: %v", err)
	}
}

func TestPrintReconcile(t *testing.T) {
	var buf bytes.Buffer
	id := uuid.New()
	printReconcile(&buf, 4, []*ledger.ReconciliationError{
		{AccountID: id, Balance: decimal.RequireFromString("9"), Expected: decimal.RequireFromString("5")},
	})
	out := buf.String()
	for _, want := range []string{"checked 4", "inconsistent 1", id.String(), "balance 9", "history says 5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReconcileCommand_NeedsExactlyOneTarget(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		_ = reconcileCmd.Flags().Set("all", "false")
	})

	for _, args := range [][]string{
		{"reconcile"},
		{"reconcile", "--all", uuid.NewString()},
	} {
		rootCmd.SetArgs(args)
		err := rootCmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "either an account id or --all") {
			t.Errorf("%v: got %v", args, err)
		}
	}
}
