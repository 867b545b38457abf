// Package metrics defines a backend-agnostic metrics provider and three
// implementations (Prometheus, OpenTelemetry, noop), selected the same way
// the relay selects any other pluggable subsystem: one constructor switch
// driven by configuration.
package metrics

import "context"

// Provider is the minimal metrics contract used by every internal subsystem
// that records a counter, gauge or histogram.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	Health(ctx context.Context) error
	Close() error
}

type Counter interface{ Inc(delta float64, labels ...string) }
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}
type Histogram interface{ Observe(v float64, labels ...string) }

type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}
type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// Backend selects which Provider implementation to construct.
type Backend string

const (
	BackendProm Backend = "prom"
	BackendOtel Backend = "otel"
	BackendNoop Backend = "noop"
)

// Select constructs the Provider named by backend, falling back to noop for
// an unrecognized value rather than failing startup over an observability
// misconfiguration.
func Select(backend Backend) (Provider, error) {
	switch backend {
	case BackendProm:
		return NewPrometheusProvider()
	case BackendOtel:
		return NewOtelProvider()
	case BackendNoop, "":
		return NewNoopProvider(), nil
	default:
		return NewNoopProvider(), nil
	}
}
