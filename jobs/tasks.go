package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile compares every product's stock with its ledger.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskLowStockScan refreshes the low stock gauge and logs products needing reorder.
	TaskLowStockScan = "inventory:low_stock_scan"
)

// ErrUnknownTask is returned for job names the worker does not serve.
var ErrUnknownTask = errors.New("jobs: unknown task")

// ReconcilePayload carries scheduling metadata.
type ReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReconcileTask constructs an Asynq task for ledger reconciliation.
func NewReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// LowStockPayload bounds how many products a scan reports.
type LowStockPayload struct {
	Limit int `json:"limit"`
}

// NewLowStockTask builds a low stock scan task.
func NewLowStockTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// NewTask builds the default task for a job name. Used by the worker cron table and the CLI.
func NewTask(name string, now time.Time) (*asynq.Task, error) {
	switch name {
	case TaskInventoryReconcile:
		return NewReconcileTask(now)
	case TaskLowStockScan:
		return NewLowStockTask(0)
	default:
		return nil, ErrUnknownTask
	}
}
