// Package metrics records per-run pipeline counters on a private
// Prometheus registry and optionally pushes them to a Pushgateway when the
// run ends.
package metrics

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "deb"

// Load job outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// Metrics holds the collectors of one run.
type Metrics struct {
	Registry *prometheus.Registry

	RowsRead      *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	Artifacts     *prometheus.CounterVec
	TableRows     *prometheus.GaugeVec
	LoadJobs      *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Rows read from CSV inputs.",
		}, []string{"dataset"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to Parquet artifacts.",
		}, []string{"dataset"}),
		Artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_written_total",
			Help:      "Parquet artifacts written.",
		}, []string{"dataset"}),
		TableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_rows",
			Help:      "Row count reported by the warehouse after a load.",
		}, []string{"dataset", "table"}),
		LoadJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_jobs_total",
			Help:      "Warehouse load jobs by outcome.",
		}, []string{"dataset", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"dataset", "stage"}),
	}
	m.Registry.MustRegister(m.RowsRead, m.RowsWritten, m.Artifacts, m.TableRows, m.LoadJobs, m.StageDuration)
	return m
}

// ObserveStage records the time since start for a stage.
func (m *Metrics) ObserveStage(dataset, stage string, start time.Time) {
	m.StageDuration.WithLabelValues(dataset, stage).Observe(time.Since(start).Seconds())
}

// Push sends the registry to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to push metrics to %s", url)
	}
	return nil
}
