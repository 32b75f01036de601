// Package cli implements the storekeepctl operational commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/storekeep/storekeep/internal/inventory"
)

// ExitDrift is returned when reconciliation finds products out of balance.
const ExitDrift = 10

// Reconciler reports products whose stock disagrees with their ledger.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.StockSummary, error)
}

// LedgerCLI offers operational helpers around the stock ledger.
type LedgerCLI struct {
	ledger Reconciler
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(ledger Reconciler) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: reconciler required")
	}
	return &LedgerCLI{ledger: ledger}, nil
}

// ReconcileOptions defines flags for the reconcile command.
type ReconcileOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON output of reconcile.
type ReconcileSummary struct {
	OK    bool                     `json:"ok"`
	Drift []inventory.StockSummary `json:"drift"`
}

// ReconcileCommand runs a reconciliation pass and prints the outcome.
func (c *LedgerCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	drift, err := c.ledger.Reconcile(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return 1
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].ProductID < drift[j].ProductID })
	if drift == nil {
		drift = []inventory.StockSummary{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(ReconcileSummary{OK: len(drift) == 0, Drift: drift}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return 1
		}
	} else {
		renderReconcileHuman(opts.Stdout, drift)
	}
	if len(drift) > 0 {
		return ExitDrift
	}
	return 0
}

func renderReconcileHuman(out io.Writer, drift []inventory.StockSummary) {
	if len(drift) == 0 {
		_, _ = fmt.Fprintln(out, "Every product's stock matches its ledger.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d product(s) out of balance:\n", len(drift))
	for _, s := range drift {
		_, _ = fmt.Fprintf(out, " - %s (id %d): stock %d, ledger %d, %d entries\n",
			s.SKU, s.ProductID, s.CurrentStock, s.LedgerSum, s.Entries)
	}
}
