package startline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sailrelay/internal/wire"
)

func baseConfig() Config {
	return Config{AnchorLeftDeviceID: 101, AnchorRightDeviceID: 102, GeometryChangeM: 0.5, FreshnessWindow: 2 * time.Second}
}

func TestUpdateAnchorIgnoresNonAnchorDevice(t *testing.T) {
	tr := New(baseConfig())
	_, changed := tr.UpdateAnchor(1, 22.12, 114.12, time.Now())
	assert.False(t, changed)
	assert.False(t, tr.IsAnchor(1))
	assert.True(t, tr.IsAnchor(101))
}

func TestUpdateAnchorAnnouncesOnFirstFixOfBoth(t *testing.T) {
	tr := New(baseConfig())
	now := time.Now()
	_, changed := tr.UpdateAnchor(101, 22.1200, 114.1200, now)
	assert.True(t, changed)

	def, changed := tr.UpdateAnchor(102, 22.1210, 114.1250, now)
	assert.True(t, changed)
	assert.Equal(t, wire.QualityGood, def.Quality)
	assert.Greater(t, def.GateLengthM, 0.0)
}

func TestUpdateAnchorNoAnnounceWithinThreshold(t *testing.T) {
	tr := New(baseConfig())
	now := time.Now()
	tr.UpdateAnchor(101, 22.1200, 114.1200, now)
	tr.UpdateAnchor(102, 22.1210, 114.1250, now)

	// Tiny jitter well under GeometryChangeM should not re-announce.
	_, changed := tr.UpdateAnchor(101, 22.120000001, 114.120000001, now)
	assert.False(t, changed)
}

func TestQualityDegradesWhenOnlyOneAnchorKnown(t *testing.T) {
	tr := New(baseConfig())
	now := time.Now()
	tr.UpdateAnchor(101, 22.12, 114.12, now)
	def := tr.Definition(now)
	assert.Equal(t, wire.QualityDegraded, def.Quality)
}

func TestQualityDegradesWhenAnchorStale(t *testing.T) {
	tr := New(baseConfig())
	now := time.Now()
	tr.UpdateAnchor(101, 22.1200, 114.1200, now.Add(-10*time.Second))
	tr.UpdateAnchor(102, 22.1210, 114.1250, now)
	def := tr.Definition(now)
	assert.Equal(t, wire.QualityDegraded, def.Quality)
}
