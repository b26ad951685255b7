// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime metrics registry for endpoint observability. Gauges and counters
// are backed by VictoriaMetrics metric sets so they can be scraped directly
// in Prometheus exposition format.

package control

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Registry holds one endpoint's gauges and counters.
type Registry struct {
	set *metrics.Set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{set: metrics.NewSet()}
}

// Gauge registers a pull-style gauge evaluated at scrape time.
func (r *Registry) Gauge(name string, f func() float64) {
	r.set.NewGauge(name, f)
}

// Counter registers and returns a monotonic counter.
func (r *Registry) Counter(name string) *metrics.Counter {
	return r.set.NewCounter(name)
}

// WritePrometheus dumps all registered metrics in exposition format.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}
