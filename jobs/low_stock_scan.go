package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/storekeep/storekeep/internal/catalog"
	jobmetrics "github.com/storekeep/storekeep/internal/jobs"
)

const defaultLowStockLimit = 500

// LowStockLister lists active products at or below their minimum level.
type LowStockLister interface {
	ListLowStock(ctx context.Context, limit int) ([]catalog.Product, error)
}

// LowStockJob publishes the number of products needing reorder.
type LowStockJob struct {
	Products LowStockLister
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLowStockJob initialises the low stock scan handler.
func NewLowStockJob(products LowStockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{Products: products, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Products == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultLowStockLimit
	}

	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := loggerOr(j.Logger)
	products, err := j.Products.ListLowStock(ctx, payload.Limit)
	if err != nil {
		logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetLowStock(len(products))
	for _, p := range products {
		logger.Info("product below minimum stock",
			slog.Int64("product_id", p.ID),
			slog.String("sku", p.SKU),
			slog.Int64("current_stock", p.CurrentStock),
			slog.Int64("min_stock_level", p.MinStockLevel),
			slog.Bool("out_of_stock", p.IsOutOfStock()),
		)
	}
	return nil
}
