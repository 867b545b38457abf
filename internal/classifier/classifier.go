// Package classifier maps gate metrics and timing to the coaching status
// enum, with hysteresis against flicker and latching on CROSSED/OCS. The
// evaluation order below is significant: first match wins.
package classifier

import (
	"time"

	"sailrelay/internal/ingest"
	"sailrelay/internal/wire"
)

// Thresholds are the configurable classification bounds.
type Thresholds struct {
	DistanceM  float64       // X_m: APPROACHING distance, default 50
	TimeS      float64       // Y_s: RISK ETA, default 5
	StaleS     float64       // N_s: STALE age, default 3
	Hysteresis time.Duration // candidate-state dwell time before committing, default 300ms
}

// Input is everything the classifier needs for one evaluation tick.
type Input struct {
	Metric       ingest.GateMetric
	SogKnots     *float64
	Now          time.Time
	LastUpdate   time.Time
	StartSignal  *time.Time
	CrossingTsMs int64 // device-side crossing timestamp, if CrossingEvent != NO_CROSSING
}

// athleteMemory is the per-device hysteresis/latch state, owned
// exclusively by the ingest task that also owns the state table.
type athleteMemory struct {
	status      wire.AthleteStatus
	enteredAt   time.Time
	candidate   wire.AthleteStatus
	candidateAt time.Time
	latched     bool
	crossedEventEmitted bool
	ocsEventEmitted     bool
}

// Classifier tracks per-device hysteresis/latch state across ticks.
type Classifier struct {
	thresholds Thresholds
	memory     map[int]*athleteMemory
}

// New builds a Classifier with memory for the lifetime of the process (or
// until Reset is called for a device).
func New(t Thresholds) *Classifier {
	if t.Hysteresis <= 0 {
		t.Hysteresis = 300 * time.Millisecond
	}
	return &Classifier{thresholds: t, memory: make(map[int]*athleteMemory)}
}

// Transition describes a status change worth emitting as an event.
type Transition struct {
	DeviceID   int
	From, To   wire.AthleteStatus
	IsCrossing bool
	IsOCS      bool
}

// Classify evaluates one tick for one device and returns the committed
// status plus an optional transition to emit. Calling Classify twice with
// identical Input and no elapsed time must not emit a duplicate transition
// (classifier idempotence).
func (c *Classifier) Classify(device int, in Input) (wire.AthleteStatus, *Transition) {
	mem := c.memory[device]
	if mem == nil {
		mem = &athleteMemory{status: wire.StatusSafe, enteredAt: in.Now}
		c.memory[device] = mem
	}

	// CROSSED/OCS are latched: once entered, only an explicit Reset clears them.
	if mem.latched {
		return mem.status, nil
	}

	candidate := c.evaluate(in, mem)

	immediate := candidate == wire.StatusCrossed || candidate == wire.StatusOCS || candidate == wire.StatusStale

	if candidate == mem.status {
		mem.candidate = ""
		return mem.status, nil
	}

	if !immediate {
		if mem.candidate != candidate {
			mem.candidate = candidate
			mem.candidateAt = in.Now
			return mem.status, nil
		}
		if in.Now.Sub(mem.candidateAt) < c.thresholds.Hysteresis {
			return mem.status, nil
		}
	}

	from := mem.status
	mem.status = candidate
	mem.enteredAt = in.Now
	mem.candidate = ""

	tr := &Transition{DeviceID: device, From: from, To: candidate}

	if candidate == wire.StatusCrossed || candidate == wire.StatusOCS {
		mem.latched = true
		if candidate == wire.StatusOCS {
			if !mem.ocsEventEmitted {
				mem.ocsEventEmitted = true
				tr.IsOCS = true
			}
		} else if !mem.crossedEventEmitted {
			mem.crossedEventEmitted = true
			tr.IsCrossing = true
		}
	}

	return mem.status, tr
}

func (c *Classifier) evaluate(in Input, mem *athleteMemory) wire.AthleteStatus {
	// rule 1: staleness
	if !in.LastUpdate.IsZero() && in.Now.Sub(in.LastUpdate).Seconds() > c.thresholds.StaleS {
		return wire.StatusStale
	}

	// rule 2: crossing, latched forward
	if in.Metric.CrossingEvent != string(wire.CrossingNone) || mem.status == wire.StatusCrossed || mem.status == wire.StatusOCS {
		if in.StartSignal != nil && in.CrossingTsMs < in.StartSignal.UnixMilli() {
			return wire.StatusOCS
		}
		return wire.StatusCrossed
	}

	movingToward := in.Metric.SpeedToLineMps != nil && *in.Metric.SpeedToLineMps > 0

	// rule 3: risk
	if in.StartSignal != nil && in.Metric.EtaS != nil && *in.Metric.EtaS <= c.thresholds.TimeS && movingToward {
		return wire.StatusRisk
	}

	// rule 4: approaching
	absD := in.Metric.DPerpSignedM
	if absD < 0 {
		absD = -absD
	}
	if absD <= c.thresholds.DistanceM && movingToward {
		return wire.StatusApproaching
	}

	// rule 5: default
	return wire.StatusSafe
}

// Reset clears latch/hysteresis state for one device, used by an operator
// reset between heats.
func (c *Classifier) Reset(device int) {
	delete(c.memory, device)
}

// Status returns the last committed status for device without mutating
// state, or SAFE if the device has never been classified.
func (c *Classifier) Status(device int) wire.AthleteStatus {
	if mem := c.memory[device]; mem != nil {
		return mem.status
	}
	return wire.StatusSafe
}
