package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the collectors written by the inventory jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift    prometheus.Counter
	lowStock prometheus.Gauge
}

// NewMetrics registers the job collectors. A nil registerer means the global one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storekeep_jobs_total",
			Help: "Job executions by job name and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storekeep_jobs_failures_total",
			Help: "Failed job executions by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storekeep_job_duration_seconds",
			Help:    "Wall time of job executions.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		drift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storekeep_stock_drift_total",
			Help: "Products found with current stock different from the signed ledger sum.",
		}),
		lowStock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storekeep_low_stock_products",
			Help: "Active products at or below their minimum stock level at the last scan.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.drift, m.lowStock)
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. Safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	t.metrics.observe(t.job, time.Since(t.start), err)
	return err
}

func (m *Metrics) observe(job string, elapsed time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusFailure
		m.failures.WithLabelValues(job).Inc()
	}
	m.runs.WithLabelValues(job, status).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// AddDrift counts products whose stock disagreed with their ledger during reconciliation.
func (m *Metrics) AddDrift(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drift.Add(float64(count))
}

// SetLowStock records how many active products sit at or below their minimum level.
func (m *Metrics) SetLowStock(count int) {
	if m == nil {
		return
	}
	m.lowStock.Set(float64(count))
}
