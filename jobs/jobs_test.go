package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/inventory"
	jobmetrics "github.com/storekeep/storekeep/internal/jobs"
)

type stubReconciler struct {
	drift []inventory.StockSummary
	err   error
	calls int
}

func (s *stubReconciler) Reconcile(context.Context) ([]inventory.StockSummary, error) {
	s.calls++
	return s.drift, s.err
}

type stubLowStock struct {
	products []catalog.Product
	limit    int
}

func (s *stubLowStock) ListLowStock(_ context.Context, limit int) ([]catalog.Product, error) {
	s.limit = limit
	return s.products, nil
}

// gathered returns the first sample of a counter or gauge family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestReconcileJobCountsDrift(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	ledger := &stubReconciler{drift: []inventory.StockSummary{
		{ProductID: 1, SKU: "A", CurrentStock: 5, LedgerSum: 4},
		{ProductID: 2, SKU: "B", CurrentStock: 0, LedgerSum: 2},
	}}
	job := NewReconcileJob(ledger, nil, metrics)

	task, err := NewReconcileTask(time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, ledger.calls)

	assert.Equal(t, float64(2), gathered(t, reg, "storekeep_stock_drift_total"))
}

func TestReconcileJobFailureIsTracked(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	boom := errors.New("db down")
	job := NewReconcileJob(&stubReconciler{err: boom}, nil, metrics)

	err := job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, nil))
	require.ErrorIs(t, err, boom)

	assert.Equal(t, float64(1), gathered(t, reg, "storekeep_jobs_failures_total"))
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskInventoryReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockJobSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	lister := &stubLowStock{products: []catalog.Product{
		{ID: 1, SKU: "A", CurrentStock: 0, MinStockLevel: 5},
		{ID: 2, SKU: "B", CurrentStock: 3, MinStockLevel: 5},
		{ID: 3, SKU: "C", CurrentStock: 5, MinStockLevel: 5},
	}}
	job := NewLowStockJob(lister, nil, metrics)

	task, err := NewLowStockTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, defaultLowStockLimit, lister.limit)

	assert.Equal(t, float64(3), gathered(t, reg, "storekeep_low_stock_products"))
}

func TestNewTaskByName(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewTask(TaskInventoryReconcile, now)
	require.NoError(t, err)
	assert.Equal(t, TaskInventoryReconcile, task.Type())
	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.True(t, payload.ScheduledFor.Equal(now))

	task, err = NewTask(TaskLowStockScan, now)
	require.NoError(t, err)
	assert.Equal(t, TaskLowStockScan, task.Type())

	_, err = NewTask("mail:send", now)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestQueueHealth(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		NewHandler(inspector, nil).MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1, Failed: 2}})
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: QueueDefault, Pending: 4, Retry: 1, Failed: 2}, body)

	rec = serve(stubInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
