// Package metrics records operational counters and timings for the reload
// pipeline behind a pluggable Backend. The default backend is a no-op, so
// callers never guard their instrumentation; a concrete system (Prometheus
// Pushgateway, Datadog) is installed once at startup via SetBackend and the
// rest of the codebase stays unaware of it. Helpers cover the three shapes
// the pipeline emits: per-stage step results, row movement, and bulk-write
// batches.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal surface a metrics system must offer. Counters and
// duration-style observations are all the pipeline emits.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics for backends that need it, such as a
	// Pushgateway at the end of a batch run.
	Flush() error
}

// nop swallows everything; it is the default so metrics stay optional.
type nop struct{}

func (nop) IncCounter(name string, delta float64, labels Labels)       {}
func (nop) ObserveHistogram(name string, value float64, labels Labels) {}
func (nop) Flush() error                                               { return nil }

var active Backend = nop{}

// SetBackend installs a concrete backend. A nil argument keeps the current
// one, so callers may pass a constructor result unconditionally.
func SetBackend(b Backend) {
	if b != nil {
		active = b
	}
}

// Flush delegates to the installed backend.
func Flush() error { return active.Flush() }

// RecordStep emits the per-stage pair every pipeline stage reports: a result
// counter and the stage duration, labeled by entity, step, and outcome.
func RecordStep(entity, step string, err error, d time.Duration) {
	lbls := Labels{"entity": entity, "step": step, "status": statusOf(err)}
	active.IncCounter("reload_step_total", 1, lbls)
	active.ObserveHistogram("reload_step_duration_seconds", d.Seconds(), lbls)
}

func statusOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordRows counts row movement for an entity. The kind mirrors the outcome
// report fields: "extracted", "loaded", or "unresolved". Non-positive deltas
// are dropped so callers can pass counts straight through.
func RecordRows(entity, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	active.IncCounter("reload_rows_total", float64(delta), Labels{"entity": entity, "kind": kind})
}

// RecordBatches counts bulk-write batches against an entity's target table.
func RecordBatches(entity string, delta int64) {
	if delta <= 0 {
		return
	}
	active.IncCounter("reload_batches_total", float64(delta), Labels{"entity": entity})
}
