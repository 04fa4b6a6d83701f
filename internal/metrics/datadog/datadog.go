// Package datadog emits pipeline metrics over DogStatsD. Backend maps the
// metrics.Backend calls onto the official statsd client: labels become
// "key:value" tags, counter increments become Counts, and duration
// observations become Histograms. Nothing outside this package imports the
// Datadog SDK, so swapping agents is a one-line change in main.
package datadog

import (
	"fmt"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/roberthpchao/Northwind-ETL/internal/metrics"
)

// Config carries the DogStatsD connection settings.
type Config struct {
	// Addr locates the agent, either "host:port" or "unix:///path/to/socket".
	Addr string

	// Namespace, when set, prefixes every metric name (for example "reload.").
	Namespace string

	// GlobalTags ride along on every emission, e.g. "env:prod".
	GlobalTags []string
}

// Backend forwards metrics to a Datadog agent. Install one instance with
// metrics.SetBackend at startup; a zero value silently drops everything.
type Backend struct {
	client *statsd.Client
}

// NewBackend opens a statsd client against the agent at cfg.Addr.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: agent address required")
	}

	opts := make([]statsd.Option, 0, 2)
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}

	cl, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: statsd client: %w", err)
	}

	return &Backend{client: cl}, nil
}

// IncCounter sends a Count. DogStatsD counts are int64, so fractional
// deltas truncate.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.client.Count(name, int64(delta), ddTags(labels), 1)
}

// ObserveHistogram sends a Histogram sample.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.client.Histogram(name, value, ddTags(labels), 1)
}

// Flush closes the statsd client; Close is what drains its buffer, and a
// reload run exits right after flushing.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// ddTags renders labels as Datadog "key:value" pairs.
func ddTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	tags := make([]string, 0, len(lbls))
	for k, v := range lbls {
		tags = append(tags, k+":"+v)
	}
	return tags
}
