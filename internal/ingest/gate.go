package ingest

import "encoding/json"

// GateMetric is one parsed entry of a gate-metrics frame.
type GateMetric struct {
	DeviceID           int
	DPerpSignedM       float64
	SAlong             float64
	EtaS               *float64
	SpeedToLineMps     *float64
	GateLengthM        float64
	CrossingEvent      string
	CrossingConfidence float64
	PositionQuality    float64
}

// Alert is an upstream-reported condition, passed through unvalidated; the
// spec does not define further structure for alerts beyond "array present".
type Alert map[string]any

// GateBatch is everything decoded from one gate-metrics JSON frame.
type GateBatch struct {
	ServerTsUs int64
	Metrics    []GateMetric
	Alerts     []Alert
	Dropped    int
}

type rawGateFrame struct {
	ServerTimestampUs int64            `json:"server_timestamp_us"`
	Metrics           []rawGateMetric  `json:"metrics"`
	Alerts            []Alert          `json:"alerts"`
}

type rawGateMetric struct {
	DeviceID           *int     `json:"device_id"`
	DPerpSignedM       *float64 `json:"d_perp_signed_m"`
	SAlong             *float64 `json:"s_along"`
	TimeToLineS        *float64 `json:"time_to_line_s"`
	SpeedToLineMps     *float64 `json:"speed_to_line_mps"`
	GateLengthM        *float64 `json:"gate_length_m"`
	CrossingEvent      *string  `json:"crossing_event"`
	CrossingConfidence *float64 `json:"crossing_confidence"`
	PositionQuality    *float64 `json:"position_quality"`
}

// ParseGateJSON decodes a newline-delimited-JSON gate-metrics frame. Unknown
// fields are ignored; a metric missing a required field is dropped and
// counted rather than aborting the whole frame.
func ParseGateJSON(raw []byte) GateBatch {
	var frame rawGateFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return GateBatch{Dropped: 1}
	}
	batch := GateBatch{ServerTsUs: frame.ServerTimestampUs, Alerts: frame.Alerts}
	for _, m := range frame.Metrics {
		gm, ok := toGateMetric(m)
		if ok {
			batch.Metrics = append(batch.Metrics, gm)
		} else {
			batch.Dropped++
		}
	}
	return batch
}

func toGateMetric(m rawGateMetric) (GateMetric, bool) {
	if m.DeviceID == nil || m.DPerpSignedM == nil || m.SAlong == nil || m.GateLengthM == nil ||
		m.CrossingEvent == nil || m.CrossingConfidence == nil || m.PositionQuality == nil {
		return GateMetric{}, false
	}
	return GateMetric{
		DeviceID:           *m.DeviceID,
		DPerpSignedM:       *m.DPerpSignedM,
		SAlong:             *m.SAlong,
		EtaS:               m.TimeToLineS,
		SpeedToLineMps:     m.SpeedToLineMps,
		GateLengthM:        *m.GateLengthM,
		CrossingEvent:      *m.CrossingEvent,
		CrossingConfidence: *m.CrossingConfidence,
		PositionQuality:    *m.PositionQuality,
	}, true
}
