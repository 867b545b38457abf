package kinematics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryPush(t *testing.T) {
	t.Run("single sample yields nil kinematics", func(t *testing.T) {
		h := NewHistory()
		k := h.Push(Sample{Lat: 22.12, Lon: 114.12, TsMs: 1000})
		assert.Nil(t, k.SogKnots)
		assert.Nil(t, k.CogDeg)
	})

	t.Run("two samples 500ms apart moving north yields sog/cog", func(t *testing.T) {
		h := NewHistory()
		h.Push(Sample{Lat: 22.1200, Lon: 114.1200, TsMs: 1000})
		k := h.Push(Sample{Lat: 22.1210, Lon: 114.1200, TsMs: 1500})
		require.NotNil(t, k.SogKnots)
		require.NotNil(t, k.CogDeg)
		assert.Greater(t, *k.SogKnots, 0.0)
		assert.InDelta(t, 0.0, *k.CogDeg, 1.0)
	})

	t.Run("jitter below 50ms yields nil", func(t *testing.T) {
		h := NewHistory()
		h.Push(Sample{Lat: 22.12, Lon: 114.12, TsMs: 1000})
		k := h.Push(Sample{Lat: 22.1201, Lon: 114.12, TsMs: 1010})
		assert.Nil(t, k.SogKnots)
	})

	t.Run("gap above 2s yields nil", func(t *testing.T) {
		h := NewHistory()
		h.Push(Sample{Lat: 22.12, Lon: 114.12, TsMs: 1000})
		k := h.Push(Sample{Lat: 22.1201, Lon: 114.12, TsMs: 4000})
		assert.Nil(t, k.SogKnots)
	})

	t.Run("history evicts samples older than 2s and caps length", func(t *testing.T) {
		h := NewHistory()
		for i := 0; i < 20; i++ {
			h.Push(Sample{Lat: 22.12, Lon: 114.12, TsMs: int64(i) * 100})
		}
		assert.LessOrEqual(t, len(h.samples), 10)
	})
}

func TestHaversineAndBearing(t *testing.T) {
	d := Haversine(22.1200, 114.1200, 22.1210, 114.1250)
	assert.InDelta(t, 523, d, 5)

	b := InitialBearing(22.1200, 114.1200, 22.1210, 114.1200)
	assert.InDelta(t, 0, b, 1)
}
