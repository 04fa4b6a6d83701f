// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// This package adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the pipeline labels (entity, step, status, kind) onto
//     Prometheus labels.
//   - Pushing collected metrics to a Prometheus Pushgateway instance instead
//     of exposing an HTTP scrape endpoint, since a reload is a batch job
//     that exits before any scraper would find it.
//
// The package intentionally contains all Prometheus-specific dependencies so
// that the rest of the project remains decoupled from Prometheus and can swap
// to alternative backends (e.g. Datadog) without changes to the pipeline.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/roberthpchao/Northwind-ETL/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string            // e.g. http://pushgateway:9091
	jobName    string            // Pushgateway "job" group
	groupings  map[string]string // extra grouping labels, e.g. run_id
	reg        *prometheus.Registry

	// Step-level metrics
	stepCounter  *prometheus.CounterVec // "reload_step_total"
	stepDuration *prometheus.SummaryVec // "reload_step_duration_seconds"

	// Row- and batch-level metrics
	rowCounter   *prometheus.CounterVec // "reload_rows_total"
	batchCounter *prometheus.CounterVec // "reload_batches_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (often the pipeline job name).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "reload"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reload_step_total",
			Help: "Total number of pipeline stage executions, partitioned by entity, step, and status.",
		},
		[]string{"entity", "step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "reload_step_duration_seconds",
			Help:       "Duration of pipeline stages in seconds, partitioned by entity, step, and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"entity", "step", "status"},
	)

	// ROW metrics: kind (extracted, loaded, unresolved).
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reload_rows_total",
			Help: "Row-level counts per entity and kind (extracted, loaded, unresolved).",
		},
		[]string{"entity", "kind"},
	)

	// BATCH metrics: bulk-write flushes per entity.
	batchCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reload_batches_total",
			Help: "Total number of bulk-insert batches flushed per entity.",
		},
		[]string{"entity"},
	)

	if err := reg.Register(stepCounter); err != nil {
		return nil, fmt.Errorf("prompush: register step counter: %w", err)
	}
	if err := reg.Register(stepDuration); err != nil {
		return nil, fmt.Errorf("prompush: register step summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(batchCounter); err != nil {
		return nil, fmt.Errorf("prompush: register batch counter: %w", err)
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
		rowCounter:   rowCounter,
		batchCounter: batchCounter,
	}, nil
}

// WithGrouping adds a Pushgateway grouping label to every push. Grouping by
// a per-run value (such as the run ID) keeps successive runs from
// overwriting each other on the gateway.
func (b *Backend) WithGrouping(name, value string) *Backend {
	if b.groupings == nil {
		b.groupings = map[string]string{}
	}
	b.groupings[name] = value
	return b
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "reload_step_total":
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["entity"], labels["step"], labels["status"]).Add(delta)

	case "reload_rows_total":
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["entity"], labels["kind"]).Add(delta)

	case "reload_batches_total":
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.WithLabelValues(labels["entity"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "reload_step_duration_seconds" || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["entity"], labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	for name, value := range b.groupings {
		p = p.Grouping(name, value)
	}
	return p.Push()
}
