// Package kinematics derives speed-over-ground and course-over-ground from
// a bounded per-athlete position history, plus haversine distance/bearing
// helpers shared with the start-line tracker.
package kinematics

import "math"

const (
	earthRadiusM = 6_371_000.0
	historyCap   = 10
	maxAgeMs     = 2000
	jitterMs     = 50
	gapMs        = 2000
	knotsPerMps  = 1.94384
)

// Sample is one timestamped position in the upstream time base
// (milliseconds, already converted on ingress).
type Sample struct {
	Lat, Lon float64
	TsMs     int64
}

// Kinematics is the derived SOG/COG for a position update, or a pair of
// nils if fewer than two recent samples are available or the gap between
// them falls outside the valid jitter/gap window.
type Kinematics struct {
	SogKnots *float64
	CogDeg   *float64
}

// History is the bounded, age-limited position buffer for one athlete.
// Mutated only by the single ingest task that owns the athlete state table.
type History struct {
	samples []Sample
}

// NewHistory returns an empty history.
func NewHistory() *History { return &History{} }

// Push appends a new sample, evicting entries older than maxAgeMs relative
// to the newest sample and capping length at historyCap, then returns the
// kinematics derived from the two newest samples (or nils).
func (h *History) Push(s Sample) Kinematics {
	h.samples = append(h.samples, s)
	h.evict(s.TsMs)
	if len(h.samples) > historyCap {
		h.samples = h.samples[len(h.samples)-historyCap:]
	}
	if len(h.samples) < 2 {
		return Kinematics{}
	}
	prev := h.samples[len(h.samples)-2]
	cur := h.samples[len(h.samples)-1]
	return derive(prev, cur)
}

func (h *History) evict(newestTs int64) {
	cutoff := newestTs - maxAgeMs
	i := 0
	for ; i < len(h.samples); i++ {
		if h.samples[i].TsMs >= cutoff {
			break
		}
	}
	if i > 0 {
		h.samples = h.samples[i:]
	}
}

func derive(prev, cur Sample) Kinematics {
	dtMs := cur.TsMs - prev.TsMs
	if dtMs < jitterMs || dtMs > gapMs {
		return Kinematics{}
	}
	east, north := equirectangular(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
	dtS := float64(dtMs) / 1000.0
	speedMps := math.Hypot(east, north) / dtS
	sog := speedMps * knotsPerMps
	cog := math.Mod(math.Atan2(east, north)*180/math.Pi+360, 360)
	return Kinematics{SogKnots: &sog, CogDeg: &cog}
}

// equirectangular projects (lat2,lon2) relative to (lat1,lon1) to local
// east/north meters using the small-angle equirectangular approximation
// around the first point.
func equirectangular(lat1, lon1, lat2, lon2 float64) (east, north float64) {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	east = math.Cos(lat1*math.Pi/180) * dLon * earthRadiusM
	north = dLat * earthRadiusM
	return east, north
}

// Haversine returns the great-circle distance in meters between two
// lat/lon pairs, used by the start-line tracker for gate_length_m.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// InitialBearing returns the initial bearing in degrees [0,360) from
// (lat1,lon1) toward (lat2,lon2).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180
	y := math.Sin(dLambda) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dLambda)
	theta := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(theta+360, 360)
}
