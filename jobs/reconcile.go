package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storekeep/storekeep/internal/inventory"
	jobmetrics "github.com/storekeep/storekeep/internal/jobs"
)

// Reconciler reports products whose stock disagrees with their ledger.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.StockSummary, error)
}

// ReconcileJob checks the ledger invariant: current stock equals the signed sum of entries.
type ReconcileJob struct {
	Ledger  Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(ledger Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle runs one reconciliation pass. Drift is reported through metrics and logs,
// not as a task failure, so asynq does not retry a pass that completed.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskInventoryReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := loggerOr(j.Logger)
	drift, err := j.Ledger.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDrift(len(drift))
	level := slog.LevelInfo
	if len(drift) > 0 {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "completed ledger reconciliation",
		slog.Int("drifted_products", len(drift)),
		slog.Time("scheduled_for", payload.ScheduledFor),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
