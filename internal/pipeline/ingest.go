// Package pipeline runs the two ingest tasks (C2 parsers through C6
// fabrication) that own the athlete state table and the classifier: one per
// upstream topic, single-threaded per topic so per-device order is
// preserved end to end.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sailrelay/internal/classifier"
	"sailrelay/internal/fabricator"
	"sailrelay/internal/ingest"
	"sailrelay/internal/registry"
	"sailrelay/internal/startline"
	"sailrelay/internal/state"
	"sailrelay/internal/telemetry/events"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/telemetry/metrics"
	"sailrelay/internal/telemetry/tracing"
	"sailrelay/internal/upstream"
	"sailrelay/internal/wire"
)

// Config carries the classification/start-line tunables the ingest tasks
// need at runtime (mirrors config.ClassifyConfig/StartLineConfig, kept
// separate so this package never imports the config layer directly).
type Config struct {
	GateSignFlip bool
}

// Ingest owns the athlete state table, classifier, and start-line tracker —
// the single-writer entities of §5 — and drives them from the two
// upstream subscribers.
type Ingest struct {
	cfg Config

	posSub  *upstream.Subscriber
	gateSub *upstream.Subscriber

	registry   *registry.Registry
	table      *state.Table
	classifier *classifier.Classifier
	startLine  *startline.Tracker
	fab        *fabricator.Fabricator

	startSignal atomic.Pointer[time.Time]
	totalRelayed atomic.Int64

	logger logging.Logger
	bus    events.Bus
	tracer tracing.Tracer

	mPosRelayed  metrics.Counter
	mGateRelayed metrics.Counter

	wg sync.WaitGroup
}

// New builds an Ingest wired to its collaborators. Run starts the two
// per-topic tasks; they exit when their subscriber's Frames channel reads
// from a canceled context. tracer wraps each batch in a span so its trace
// id threads into the transition events the batch produces; pass a noop
// tracer (tracing.NewTracer(false)) to disable this.
func New(cfg Config, posSub, gateSub *upstream.Subscriber, reg *registry.Registry, table *state.Table, cls *classifier.Classifier, sl *startline.Tracker, fab *fabricator.Fabricator, logger logging.Logger, bus events.Bus, provider metrics.Provider, tracer tracing.Tracer) *Ingest {
	if tracer == nil {
		tracer = tracing.NewTracer(false)
	}
	ig := &Ingest{
		cfg: cfg, posSub: posSub, gateSub: gateSub,
		registry: reg, table: table, classifier: cls, startLine: sl, fab: fab,
		logger: logger, bus: bus, tracer: tracer,
	}
	if provider != nil {
		ig.mPosRelayed = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "ingest", Name: "position_batches_total", Help: "Position batches relayed"}})
		ig.mGateRelayed = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "ingest", Name: "gate_batches_total", Help: "Gate-metric batches relayed"}})
	}
	return ig
}

// SetStartSignal records the race committee's start time, consulted by the
// classifier's RISK/OCS rules.
func (ig *Ingest) SetStartSignal(t time.Time) {
	tt := t
	ig.startSignal.Store(&tt)
}

// TotalRelayed returns the count of outbound position_update + gate_metrics
// envelopes fabricated so far, for the heartbeat payload.
func (ig *Ingest) TotalRelayed() int64 { return ig.totalRelayed.Load() }

// Run starts both ingest tasks and blocks until ctx is canceled and both
// have drained.
func (ig *Ingest) Run(ctx context.Context) {
	ig.wg.Add(2)
	go ig.runPositions(ctx)
	go ig.runGate(ctx)
	ig.wg.Wait()
}

func (ig *Ingest) runPositions(ctx context.Context) {
	defer ig.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ig.posSub.Frames():
			if !ok {
				return
			}
			ig.handlePositionFrame(frame)
		}
	}
}

func (ig *Ingest) handlePositionFrame(frame upstream.RawFrame) {
	_, span := ig.tracer.StartSpan(context.Background(), "ingest.position_batch")
	defer span.End()

	batch := ingest.ParsePositionText(string(frame.Data))
	span.SetAttribute("samples", len(batch.Samples))
	now := time.Now()
	positions := make([]wire.AthletePosition, 0, len(batch.Samples))
	for _, s := range batch.Samples {
		if ig.startLine.IsAnchor(s.DeviceID) {
			if def, changed := ig.startLine.UpdateAnchor(s.DeviceID, s.Lat, s.Lon, now); changed {
				ig.fab.Stamp(wire.TypeStartLineDefinition, def)
			}
		}
		deviceTsMs := s.DeviceTsUs / 1000
		kin := ig.table.UpdatePosition(s.DeviceID, state.Position{Lat: s.Lat, Lon: s.Lon, AltM: s.AltM, SourceMask: s.SourceMask, DeviceTsMs: deviceTsMs}, now)
		rec := ig.registry.Lookup(s.DeviceID)
		positions = append(positions, wire.AthletePosition{
			DeviceID: s.DeviceID, AthleteID: rec.AthleteID, Name: rec.Name, Team: rec.Team,
			Lat: s.Lat, Lon: s.Lon, AltM: s.AltM, SourceMask: s.SourceMask, DeviceTsMs: deviceTsMs,
			SogKnots: kin.SogKnots, CogDeg: kin.CogDeg,
		})
	}
	if len(positions) == 0 {
		return
	}
	ig.fab.Stamp(wire.TypePositionUpdate, wire.PositionUpdatePayload{Positions: positions})
	ig.totalRelayed.Add(1)
	if ig.mPosRelayed != nil {
		ig.mPosRelayed.Inc(1)
	}
}

func (ig *Ingest) runGate(ctx context.Context) {
	defer ig.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ig.gateSub.Frames():
			if !ok {
				return
			}
			ig.handleGateFrame(frame)
		}
	}
}

func (ig *Ingest) handleGateFrame(frame upstream.RawFrame) {
	ctx, span := ig.tracer.StartSpan(context.Background(), "ingest.gate_batch")
	defer span.End()

	batch := ingest.ParseGateJSON(frame.Data)
	span.SetAttribute("metrics", len(batch.Metrics))
	now := time.Now()
	crossingTsMs := batch.ServerTsUs / 1000
	metricsOut := make([]wire.AthleteGateMetric, 0, len(batch.Metrics))
	for _, m := range batch.Metrics {
		if ig.cfg.GateSignFlip {
			m.DPerpSignedM = -m.DPerpSignedM
		}
		ig.table.UpdateGateMetric(m.DeviceID, m, now)
		snap := ig.table.Snapshot(m.DeviceID)
		var sog *float64
		var lastUpdate time.Time
		if snap != nil {
			sog = snap.Kinematics.SogKnots
			lastUpdate = snap.LastUpdate
		}
		status, transition := ig.classifier.Classify(m.DeviceID, classifier.Input{
			Metric: m, SogKnots: sog, Now: now, LastUpdate: lastUpdate,
			StartSignal: ig.startSignal.Load(), CrossingTsMs: crossingTsMs,
		})
		ig.table.SetStatus(m.DeviceID, status, now)
		rec := ig.registry.Lookup(m.DeviceID)
		metricsOut = append(metricsOut, wire.AthleteGateMetric{
			DeviceID: m.DeviceID, AthleteID: rec.AthleteID,
			DPerpSignedM: m.DPerpSignedM, SAlong: m.SAlong, EtaS: m.EtaS, SpeedToLineMps: m.SpeedToLineMps,
			GateLengthM: m.GateLengthM, CrossingEvent: wire.CrossingEvent(m.CrossingEvent),
			CrossingConfidence: m.CrossingConfidence, PositionQuality: m.PositionQuality, Status: status,
		})
		if transition != nil {
			ig.emitTransition(ctx, rec, *transition)
		}
	}
	if len(metricsOut) == 0 {
		return
	}
	ig.fab.Stamp(wire.TypeGateMetrics, wire.GateMetricsPayload{Metrics: metricsOut})
	ig.totalRelayed.Add(1)
	if ig.mGateRelayed != nil {
		ig.mGateRelayed.Inc(1)
	}
}

func (ig *Ingest) emitTransition(ctx context.Context, rec registry.Record, tr classifier.Transition) {
	if tr.IsCrossing {
		ig.fab.Stamp(wire.TypeEvent, wire.EventPayload{Kind: wire.EventCrossing, DeviceID: tr.DeviceID, AthleteID: rec.AthleteID, FromStatus: tr.From, ToStatus: tr.To})
	}
	if tr.IsOCS {
		ig.fab.Stamp(wire.TypeEvent, wire.EventPayload{Kind: wire.EventOCS, DeviceID: tr.DeviceID, AthleteID: rec.AthleteID, FromStatus: tr.From, ToStatus: tr.To})
	}
	if !tr.IsCrossing && !tr.IsOCS {
		ig.fab.Stamp(wire.TypeEvent, wire.EventPayload{Kind: wire.EventStatusChange, DeviceID: tr.DeviceID, AthleteID: rec.AthleteID, FromStatus: tr.From, ToStatus: tr.To})
	}
	if ig.bus != nil {
		ig.bus.PublishCtx(ctx, events.StatusTransitionEvent(rec.AthleteID, tr.From, tr.To))
	}
}

// Reset clears classifier latch/hysteresis state for device. No route of
// the control surface calls it.
func (ig *Ingest) Reset(device int) {
	ig.classifier.Reset(device)
}
