// Command storekeepctl runs operational tasks against a storekeep deployment.
//
//	storekeepctl reconcile [-json]
//	storekeepctl jobs trigger <inventory:reconcile|inventory:low_stock_scan>
//	storekeepctl jobs stats
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/storekeep/storekeep/cmd/storekeepctl/cli"
	"github.com/storekeep/storekeep/internal/app"
)

func main() {
	ctx, stop := app.SignalContext()
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		fs.SetOutput(stderr)
		jsonOut := fs.Bool("json", false, "Print the result as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		container, err := app.Build(ctx, cfg, logger, nil)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "reconcile: %v\n", err)
			return 1
		}
		defer container.Close()
		ledger, err := cli.NewLedgerCLI(container.Inventory)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		return ledger.ReconcileCommand(ctx, cli.ReconcileOptions{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
	case "jobs":
		return runJobs(ctx, cfg, args[1:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch {
	case args[0] == "trigger" && len(args) == 2:
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case args[0] == "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return 1
		}
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: storekeepctl reconcile [-json] | jobs trigger <name> | jobs stats")
}
