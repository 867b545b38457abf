package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OtelProvider implements Provider on top of an in-process OpenTelemetry
// meter provider. It is selected when SAILRELAY_METRICS_BACKEND=otel, for
// deployments that already run an OTLP collector rather than scraping
// Prometheus directly.
type OtelProvider struct {
	mp *sdkmetric.MeterProvider
	m  metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOtelProvider builds an OtelProvider with an in-process meter provider.
// A real deployment would attach an OTLP exporter reader here; the relay
// ships with in-process aggregation only, leaving export wiring to the
// operator's sidecar.
func NewOtelProvider() (*OtelProvider, error) {
	mp := sdkmetric.NewMeterProvider()
	return &OtelProvider{
		mp:         mp,
		m:          mp.Meter("sailrelay"),
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}, nil
}

func fqName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "_" + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "_" + name
	}
	return name
}

func (p *OtelProvider) NewCounter(opts CounterOpts) Counter {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[fq]
	if !ok {
		var err error
		c, err = p.m.Float64Counter(fq, metric.WithDescription(opts.Help))
		if err != nil {
			return noopCounter{}
		}
		p.counters[fq] = c
	}
	return &otelCounter{c: c, labelKeys: opts.Labels}
}

func (p *OtelProvider) NewGauge(opts GaugeOpts) Gauge {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gauges[fq]
	if !ok {
		var err error
		g, err = p.m.Float64Gauge(fq, metric.WithDescription(opts.Help))
		if err != nil {
			return noopGauge{}
		}
		p.gauges[fq] = g
	}
	return &otelGauge{g: g, labelKeys: opts.Labels}
}

func (p *OtelProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histograms[fq]
	if !ok {
		var err error
		h, err = p.m.Float64Histogram(fq, metric.WithDescription(opts.Help))
		if err != nil {
			return noopHistogram{}
		}
		p.histograms[fq] = h
	}
	return &otelHistogram{h: h, labelKeys: opts.Labels}
}

func (p *OtelProvider) Health(ctx context.Context) error {
	if p.mp == nil {
		return fmt.Errorf("otel provider not initialized")
	}
	return nil
}

func (p *OtelProvider) Close() error {
	return p.mp.Shutdown(context.Background())
}

func attrsFor(keys, values []string) []attrKV {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	out := make([]attrKV, n)
	for i := 0; i < n; i++ {
		out[i] = attrKV{keys[i], values[i]}
	}
	return out
}

type attrKV struct{ k, v string }

func toAttrs(kvs []attrKV) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(kvs))
	for i, kv := range kvs {
		out[i] = attribute.String(kv.k, kv.v)
	}
	return out
}

type otelCounter struct {
	c         metric.Float64Counter
	labelKeys []string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	c.c.Add(context.Background(), delta, metric.WithAttributes(toAttrs(attrsFor(c.labelKeys, labels))...))
}

type otelGauge struct {
	g         metric.Float64Gauge
	labelKeys []string
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.g.Record(context.Background(), v, metric.WithAttributes(toAttrs(attrsFor(g.labelKeys, labels))...))
}
func (g *otelGauge) Add(delta float64, labels ...string) {
	g.g.Record(context.Background(), delta, metric.WithAttributes(toAttrs(attrsFor(g.labelKeys, labels))...))
}

type otelHistogram struct {
	h         metric.Float64Histogram
	labelKeys []string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, metric.WithAttributes(toAttrs(attrsFor(h.labelKeys, labels))...))
}
