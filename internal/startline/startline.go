// Package startline maintains current start-line geometry from the two
// configured anchor devices, republishing on geometry change and degrading
// quality when an anchor goes stale or geometry falls out of bounds.
package startline

import (
	"sync"
	"time"

	"sailrelay/internal/kinematics"
	"sailrelay/internal/wire"
)

const (
	minGateLengthM = 1.0
	maxGateLengthM = 1000.0
)

// Fix is one anchor's last known position.
type Fix struct {
	Lat, Lon float64
	SeenAt   time.Time
	HasFix   bool
}

// Config is the tracker's static configuration.
type Config struct {
	AnchorLeftDeviceID, AnchorRightDeviceID int
	GeometryChangeM                          float64
	FreshnessWindow                           time.Duration
}

// Tracker owns the left/right anchor fixes and the last-announced geometry.
// It is mutated only by the ingest task processing position updates.
type Tracker struct {
	cfg Config
	mu  sync.RWMutex

	left, right Fix
	lastAnnouncedLeft, lastAnnouncedRight Fix
	announced bool
}

// New builds a Tracker for the given anchor configuration.
func New(cfg Config) *Tracker {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = 2 * time.Second
	}
	if cfg.GeometryChangeM <= 0 {
		cfg.GeometryChangeM = 0.5
	}
	return &Tracker{cfg: cfg}
}

// UpdateAnchor records a position update for device if it is one of the
// configured anchors. It returns (definition, changed) where changed
// indicates the caller should fabricate and emit a start_line_definition
// envelope.
func (t *Tracker) UpdateAnchor(device int, lat, lon float64, now time.Time) (wire.StartLineDefinitionPayload, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch device {
	case t.cfg.AnchorLeftDeviceID:
		t.left = Fix{Lat: lat, Lon: lon, SeenAt: now, HasFix: true}
	case t.cfg.AnchorRightDeviceID:
		t.right = Fix{Lat: lat, Lon: lon, SeenAt: now, HasFix: true}
	default:
		return wire.StartLineDefinitionPayload{}, false
	}

	def := t.definitionLocked(now)

	moved := !t.announced ||
		movedBeyond(t.lastAnnouncedLeft, t.left, t.cfg.GeometryChangeM) ||
		movedBeyond(t.lastAnnouncedRight, t.right, t.cfg.GeometryChangeM)

	if !moved {
		return def, false
	}

	t.lastAnnouncedLeft = t.left
	t.lastAnnouncedRight = t.right
	t.announced = true
	return def, true
}

// Definition returns the current geometry without requiring an anchor
// update.
func (t *Tracker) Definition(now time.Time) wire.StartLineDefinitionPayload {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.definitionLocked(now)
}

func (t *Tracker) definitionLocked(now time.Time) wire.StartLineDefinitionPayload {
	def := wire.StartLineDefinitionPayload{
		AnchorLeft:  wire.AnchorFix{DeviceID: t.cfg.AnchorLeftDeviceID, Lat: t.left.Lat, Lon: t.left.Lon},
		AnchorRight: wire.AnchorFix{DeviceID: t.cfg.AnchorRightDeviceID, Lat: t.right.Lat, Lon: t.right.Lon},
	}
	if t.left.HasFix && t.right.HasFix {
		def.GateLengthM = kinematics.Haversine(t.left.Lat, t.left.Lon, t.right.Lat, t.right.Lon)
	}
	def.Quality = t.qualityLocked(now, def.GateLengthM)
	return def
}

func (t *Tracker) qualityLocked(now time.Time, gateLengthM float64) wire.StartLineQuality {
	if !t.left.HasFix || !t.right.HasFix {
		if t.left.HasFix || t.right.HasFix {
			return wire.QualityDegraded
		}
		return wire.QualityUnknown
	}
	leftFresh := now.Sub(t.left.SeenAt) <= t.cfg.FreshnessWindow
	rightFresh := now.Sub(t.right.SeenAt) <= t.cfg.FreshnessWindow
	lengthOK := gateLengthM >= minGateLengthM && gateLengthM <= maxGateLengthM
	if leftFresh && rightFresh && lengthOK {
		return wire.QualityGood
	}
	return wire.QualityDegraded
}

// IsAnchor reports whether device is one of the configured anchor ids.
func (t *Tracker) IsAnchor(device int) bool {
	return device == t.cfg.AnchorLeftDeviceID || device == t.cfg.AnchorRightDeviceID
}

func movedBeyond(prev, cur Fix, thresholdM float64) bool {
	if !prev.HasFix || !cur.HasFix {
		return prev.HasFix != cur.HasFix
	}
	return kinematics.Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon) > thresholdM
}
