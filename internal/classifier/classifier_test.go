package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sailrelay/internal/ingest"
	"sailrelay/internal/wire"
)

func defaultThresholds() Thresholds {
	return Thresholds{DistanceM: 50, TimeS: 5, StaleS: 3, Hysteresis: 300 * time.Millisecond}
}

func mps(v float64) *float64 { return &v }
func secs(v float64) *float64 { return &v }

func TestClassifySafeWhenFarAndNotCrossing(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	status, tr := c.Classify(1, Input{
		Metric:     ingest.GateMetric{DPerpSignedM: 200, CrossingEvent: "NO_CROSSING", SpeedToLineMps: mps(1)},
		Now:        now,
		LastUpdate: now,
	})
	assert.Equal(t, wire.StatusSafe, status)
	assert.Nil(t, tr)
}

func TestApproachingRequiresHysteresisDwell(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	in := Input{
		Metric:     ingest.GateMetric{DPerpSignedM: 20, CrossingEvent: "NO_CROSSING", SpeedToLineMps: mps(1)},
		LastUpdate: now,
	}

	in.Now = now
	status, tr := c.Classify(1, in)
	assert.Equal(t, wire.StatusSafe, status, "candidate state not yet committed")
	assert.Nil(t, tr)

	in.Now = now.Add(100 * time.Millisecond)
	status, tr = c.Classify(1, in)
	assert.Equal(t, wire.StatusSafe, status, "still within hysteresis window")
	assert.Nil(t, tr)

	in.Now = now.Add(350 * time.Millisecond)
	status, tr = c.Classify(1, in)
	require.NotNil(t, tr)
	assert.Equal(t, wire.StatusApproaching, status)
	assert.Equal(t, wire.StatusSafe, tr.From)
	assert.Equal(t, wire.StatusApproaching, tr.To)
}

func TestStaleIsImmediate(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	lastUpdate := now.Add(-5 * time.Second)
	status, tr := c.Classify(1, Input{
		Metric:     ingest.GateMetric{DPerpSignedM: 200, CrossingEvent: "NO_CROSSING"},
		Now:        now,
		LastUpdate: lastUpdate,
	})
	require.NotNil(t, tr)
	assert.Equal(t, wire.StatusStale, status)
}

func TestCrossingLatchesAndIsIdempotent(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	in := Input{
		Metric:       ingest.GateMetric{DPerpSignedM: -1, CrossingEvent: "CROSSING_LEFT"},
		Now:          now,
		LastUpdate:   now,
		CrossingTsMs: now.UnixMilli(),
	}
	status, tr := c.Classify(1, in)
	require.NotNil(t, tr)
	assert.Equal(t, wire.StatusCrossed, status)
	assert.True(t, tr.IsCrossing)

	// second call with identical input must not re-emit the crossing event.
	in.Now = now.Add(100 * time.Millisecond)
	status, tr = c.Classify(1, in)
	assert.Equal(t, wire.StatusCrossed, status)
	assert.Nil(t, tr)

	// later input that would otherwise classify SAFE must not un-latch.
	in2 := Input{
		Metric:     ingest.GateMetric{DPerpSignedM: 300, CrossingEvent: "NO_CROSSING", SpeedToLineMps: mps(0)},
		Now:        now.Add(2 * time.Second),
		LastUpdate: now.Add(2 * time.Second),
	}
	status, tr = c.Classify(1, in2)
	assert.Equal(t, wire.StatusCrossed, status)
	assert.Nil(t, tr)
}

func TestOCSWhenCrossingBeforeStartSignal(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	startSignal := now.Add(1 * time.Second)
	in := Input{
		Metric:       ingest.GateMetric{DPerpSignedM: -1, CrossingEvent: "CROSSING_LEFT"},
		Now:          now,
		LastUpdate:   now,
		StartSignal:  &startSignal,
		CrossingTsMs: now.UnixMilli(),
	}
	status, tr := c.Classify(1, in)
	require.NotNil(t, tr)
	assert.Equal(t, wire.StatusOCS, status)
	assert.True(t, tr.IsOCS)
}

func TestRiskRequiresStartSignalAndETA(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	startSignal := now.Add(-1 * time.Second)
	in := Input{
		Metric:      ingest.GateMetric{DPerpSignedM: 10, CrossingEvent: "NO_CROSSING", EtaS: secs(3), SpeedToLineMps: mps(2)},
		LastUpdate:  now,
		StartSignal: &startSignal,
	}

	in.Now = now
	_, tr := c.Classify(1, in)
	assert.Nil(t, tr, "candidate state requires hysteresis dwell")

	in.Now = now.Add(400 * time.Millisecond)
	_, tr = c.Classify(1, in)
	require.NotNil(t, tr)
	assert.Equal(t, wire.StatusRisk, tr.To)
}

func TestResetClearsLatch(t *testing.T) {
	c := New(defaultThresholds())
	now := time.Now()
	in := Input{
		Metric:     ingest.GateMetric{DPerpSignedM: -1, CrossingEvent: "CROSSING_LEFT"},
		Now:        now,
		LastUpdate: now,
	}
	c.Classify(1, in)
	assert.Equal(t, wire.StatusCrossed, c.Status(1))
	c.Reset(1)
	assert.Equal(t, wire.StatusSafe, c.Status(1))
}
