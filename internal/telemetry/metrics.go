// Package telemetry records sync run metrics on a private registry and pushes
// them to a Prometheus Pushgateway at the end of an invocation.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeAuth    = "auth_error"
	OutcomeBusy    = "lease_held"
	OutcomeFailed  = "failed"
)

// RunStats is what one finished run reports.
type RunStats struct {
	Platform        string
	Outcome         string
	OrdersProcessed int
	BatchesFetched  int
	BatchesSkipped  int
	DaysUpserted    int
	DaysFailed      int
	Duration        time.Duration
}

// Recorder is safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	orders   *prometheus.CounterVec
	batches  *prometheus.CounterVec
	days     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = "marketsync"
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by platform and outcome.",
		}, []string{"platform", "outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_orders_processed_total",
			Help:      "Order details folded into daily metrics.",
		}, []string{"platform"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_detail_batches_total",
			Help:      "Order detail batches by status.",
		}, []string{"platform", "status"}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_days_total",
			Help:      "Daily metric rows written, by result.",
		}, []string{"platform", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Wall time of one sync run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"platform"}),
	}
	r.registry.MustRegister(r.runs, r.orders, r.batches, r.days, r.duration)
	return r
}

// Registry exposes the private registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveRun(s RunStats) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(s.Platform, s.Outcome).Inc()
	r.orders.WithLabelValues(s.Platform).Add(float64(s.OrdersProcessed))
	r.batches.WithLabelValues(s.Platform, "fetched").Add(float64(s.BatchesFetched))
	r.batches.WithLabelValues(s.Platform, "skipped").Add(float64(s.BatchesSkipped))
	r.days.WithLabelValues(s.Platform, "upserted").Add(float64(s.DaysUpserted))
	r.days.WithLabelValues(s.Platform, "failed").Add(float64(s.DaysFailed))
	r.duration.WithLabelValues(s.Platform).Observe(s.Duration.Seconds())
}

// Pusher sends the recorder's registry to a Pushgateway.
type Pusher struct {
	url      string
	job      string
	grouping map[string]string
}

// NewPusher returns nil when url is empty; a nil Pusher does nothing.
func NewPusher(url, job string, grouping map[string]string) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "marketsync_sync"
	}
	return &Pusher{url: url, job: job, grouping: grouping}
}

// Push adds the registry's metrics to the gateway group of this job.
func (p *Pusher) Push(ctx context.Context, r *Recorder) error {
	if p == nil || r == nil {
		return nil
	}
	pu := push.New(p.url, p.job).Gatherer(r.registry)
	for k, v := range p.grouping {
		pu = pu.Grouping(k, v)
	}
	if err := pu.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
