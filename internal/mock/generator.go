// Package mock implements the Mock Producer (C13): a synthetic generator
// and a pack-replay source, both satisfying upstream.FrameSource so the
// mock binary drives the exact same subscriber/ingest/fabricator pipeline
// as the production relay.
package mock

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"sailrelay/internal/kinematics"
	"sailrelay/internal/upstream"
)

// athleteSim is one synthetic boat's simulated state.
type athleteSim struct {
	deviceID  int
	lat, lon  float64
	headingDeg float64
	speedKn   float64
}

// GeneratorConfig controls the synthetic scenario.
type GeneratorConfig struct {
	AthleteCount int
	AnchorLeftDeviceID, AnchorRightDeviceID int
	AnchorLeftLat, AnchorLeftLon             float64
	AnchorRightLat, AnchorRightLon           float64
	TickRate                                 time.Duration
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	if c.AthleteCount <= 0 {
		c.AthleteCount = 5
	}
	if c.AnchorLeftDeviceID == 0 {
		c.AnchorLeftDeviceID = 101
	}
	if c.AnchorRightDeviceID == 0 {
		c.AnchorRightDeviceID = 102
	}
	if c.AnchorLeftLat == 0 && c.AnchorLeftLon == 0 {
		c.AnchorLeftLat, c.AnchorLeftLon = 22.1200, 114.1200
	}
	if c.AnchorRightLat == 0 && c.AnchorRightLon == 0 {
		c.AnchorRightLat, c.AnchorRightLon = 22.1210, 114.1250
	}
	if c.TickRate <= 0 {
		c.TickRate = 100 * time.Millisecond // 10 Hz per §6.1
	}
	return c
}

// Generator is the shared simulation clock driving both the position and
// gate-metric synthetic streams.
type Generator struct {
	cfg      GeneratorConfig
	athletes []*athleteSim
}

// NewGenerator builds a Generator for cfg (defaults applied for zero
// fields).
func NewGenerator(cfg GeneratorConfig) *Generator {
	cfg = cfg.withDefaults()
	g := &Generator{cfg: cfg}
	for i := 0; i < cfg.AthleteCount; i++ {
		g.athletes = append(g.athletes, &athleteSim{
			deviceID:   i + 1,
			lat:        cfg.AnchorLeftLat - 0.01 - float64(i)*0.0005,
			lon:        cfg.AnchorLeftLon + float64(i)*0.001,
			headingDeg: 0,
			speedKn:    8 + float64(i%3),
		})
	}
	return g
}

// PositionSource returns a FrameSource emitting position-text frames.
func (g *Generator) PositionSource() upstream.FrameSource { return &genPositionSource{g: g} }

// GateSource returns a FrameSource emitting gate-metrics JSON frames.
func (g *Generator) GateSource() upstream.FrameSource { return &genGateSource{g: g} }

func (g *Generator) advance(dt time.Duration) {
	dtH := dt.Hours()
	for _, a := range g.athletes {
		distNm := a.speedKn * dtH
		distM := distNm * 1852.0
		east := distM * math.Sin(a.headingDeg*math.Pi/180)
		north := distM * math.Cos(a.headingDeg*math.Pi/180)
		dLat := north / 111_320.0
		dLon := east / (111_320.0 * math.Cos(a.lat*math.Pi/180))
		a.lat += dLat
		a.lon += dLon
		a.headingDeg = kinematics.InitialBearing(a.lat, a.lon, g.cfg.AnchorLeftLat, (g.cfg.AnchorLeftLon+g.cfg.AnchorRightLon)/2)
	}
}

type genPositionSource struct{ g *Generator }

func (s *genPositionSource) Run(ctx context.Context, out chan<- upstream.RawFrame) error {
	ticker := time.NewTicker(s.g.cfg.TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.g.advance(s.g.cfg.TickRate)
			out <- upstream.RawFrame{Data: []byte(s.g.renderPositionBlock())}
		}
	}
}

func (g *Generator) renderPositionBlock() string {
	var b strings.Builder
	nowUs := time.Now().UnixMicro()
	fmt.Fprintf(&b, "SERVER_TS:%d\n", nowUs)
	fmt.Fprintf(&b, "COUNT:%d\n", len(g.athletes)+2)
	// Anchor devices are identified by configured device id, not a wire flag;
	// source_mask 1 marks GPS-derived fixes for both anchors and athletes.
	fmt.Fprintf(&b, "POS:%d:%f:%f:%f:%d:%d\n", g.cfg.AnchorLeftDeviceID, g.cfg.AnchorLeftLat, g.cfg.AnchorLeftLon, 0.0, 1, nowUs)
	fmt.Fprintf(&b, "POS:%d:%f:%f:%f:%d:%d\n", g.cfg.AnchorRightDeviceID, g.cfg.AnchorRightLat, g.cfg.AnchorRightLon, 0.0, 1, nowUs)
	for _, a := range g.athletes {
		fmt.Fprintf(&b, "POS:%d:%f:%f:%f:%d:%d\n", a.deviceID, a.lat, a.lon, 0.0, 1, nowUs)
	}
	return b.String()
}

type genGateSource struct{ g *Generator }

func (s *genGateSource) Run(ctx context.Context, out chan<- upstream.RawFrame) error {
	ticker := time.NewTicker(s.g.cfg.TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			out <- upstream.RawFrame{Data: []byte(s.g.renderGateFrame())}
		}
	}
}

func (g *Generator) renderGateFrame() string {
	gateLengthM := kinematics.Haversine(g.cfg.AnchorLeftLat, g.cfg.AnchorLeftLon, g.cfg.AnchorRightLat, g.cfg.AnchorRightLon)
	var b strings.Builder
	fmt.Fprintf(&b, `{"server_timestamp_us":%d,"metrics":[`, time.Now().UnixMicro())
	for i, a := range g.athletes {
		dPerp, sAlong := g.projectOntoGate(a.lat, a.lon)
		etaS := math.Abs(dPerp) / metersPerSecond(a.speedKn)
		speedToLine := metersPerSecond(a.speedKn)
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"device_id":%d,"d_perp_signed_m":%f,"s_along":%f,"time_to_line_s":%f,"speed_to_line_mps":%f,"gate_length_m":%f,"crossing_event":"NO_CROSSING","crossing_confidence":1.0,"position_quality":1.0}`,
			a.deviceID, dPerp, sAlong, etaS, speedToLine, gateLengthM)
	}
	b.WriteString(`],"alerts":[]}`)
	return b.String()
}

// projectOntoGate returns the signed perpendicular distance and
// along-track position of (lat,lon) relative to the anchor-defined line,
// computed from haversine distances and initial bearings taken from the
// left anchor.
func (g *Generator) projectOntoGate(lat, lon float64) (dPerp, sAlong float64) {
	leftLat, leftLon := g.cfg.AnchorLeftLat, g.cfg.AnchorLeftLon
	gateLengthM := kinematics.Haversine(leftLat, leftLon, g.cfg.AnchorRightLat, g.cfg.AnchorRightLon)
	bearing := kinematics.InitialBearing(leftLat, leftLon, g.cfg.AnchorRightLat, g.cfg.AnchorRightLon) * math.Pi / 180
	distToPoint := kinematics.Haversine(leftLat, leftLon, lat, lon)
	bearingToPoint := kinematics.InitialBearing(leftLat, leftLon, lat, lon) * math.Pi / 180
	relBearing := bearingToPoint - bearing
	sAlong = distToPoint * math.Cos(relBearing)
	dPerp = distToPoint * math.Sin(relBearing)
	if gateLengthM > 0 {
		sAlong = math.Max(0, math.Min(gateLengthM, sAlong))
	}
	return dPerp, sAlong
}

func metersPerSecond(knots float64) float64 { return knots * 0.514444 }
