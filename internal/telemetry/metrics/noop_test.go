package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopProviderDiscardsEverything(t *testing.T) {
	p := NewNoopProvider()
	assert.NotPanics(t, func() {
		p.NewCounter(CounterOpts{}).Inc(1, "label")
		p.NewGauge(GaugeOpts{}).Set(1, "label")
		p.NewGauge(GaugeOpts{}).Add(1, "label")
		p.NewHistogram(HistogramOpts{}).Observe(1, "label")
	})
	assert.NoError(t, p.Health(t.Context()))
	assert.NoError(t, p.Close())
}
