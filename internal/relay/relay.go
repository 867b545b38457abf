// Package relay is the composition root: it wires the registry, upstream
// subscribers, ingest tasks, fabricator, broadcaster, recorder, watchdog,
// and control surface into one running service — a single struct owning
// every subsystem's lifecycle behind Start/Shutdown/HealthSnapshot.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sailrelay/internal/api"
	"sailrelay/internal/broadcast"
	"sailrelay/internal/classifier"
	"sailrelay/internal/config"
	"sailrelay/internal/fabricator"
	"sailrelay/internal/pipeline"
	"sailrelay/internal/recorder"
	"sailrelay/internal/registry"
	"sailrelay/internal/startline"
	"sailrelay/internal/state"
	"sailrelay/internal/telemetry/events"
	"sailrelay/internal/telemetry/health"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/telemetry/metrics"
	"sailrelay/internal/telemetry/tracing"
	"sailrelay/internal/upstream"
	"sailrelay/internal/watchdog"
)

// Relay owns every subsystem's lifecycle for one running instance.
type Relay struct {
	cfg config.Config

	logger logging.Logger
	bus    events.Bus
	metricsProvider metrics.Provider

	registry *registry.Registry
	table    *state.Table
	classifier *classifier.Classifier
	startLine *startline.Tracker
	fab       *fabricator.Fabricator

	posSub  *upstream.Subscriber
	gateSub *upstream.Subscriber
	ingest  *pipeline.Ingest

	broadcaster *broadcast.Broadcaster
	recorder    *recorder.Recorder
	catalog     *recorder.Catalog
	watchdog    *watchdog.Watchdog
	evaluator   *health.Evaluator
	server      *api.Server

	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a Relay from cfg. posSource/gateSource let callers (cmd/relay
// for production TCP, cmd/mock for generator/replay) supply the
// FrameSource implementations without this package depending on either.
func New(cfg config.Config, posSource, gateSource upstream.FrameSource, logger logging.Logger) (*Relay, error) {
	provider, err := metrics.Select(metrics.Backend(cfg.Telemetry.MetricsBackend))
	if err != nil {
		return nil, fmt.Errorf("relay: select metrics backend: %w", err)
	}
	bus := events.NewBus(provider)

	reg := registry.New(cfg.Session.AthletesConfig, logger, bus)
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("relay: load registry: %w", err)
	}

	table := state.New()
	cls := classifier.New(classifier.Thresholds{
		DistanceM:  cfg.Classify.ThresholdDistanceM,
		TimeS:      cfg.Classify.ThresholdTimeS,
		StaleS:     cfg.Classify.ThresholdStaleS,
		Hysteresis: time.Duration(cfg.Classify.HysteresisMs) * time.Millisecond,
	})
	sl := startline.New(startline.Config{
		AnchorLeftDeviceID:  cfg.StartLine.AnchorLeftDeviceID,
		AnchorRightDeviceID: cfg.StartLine.AnchorRightDeviceID,
		GeometryChangeM:     cfg.StartLine.GeometryChangeM,
		FreshnessWindow:     time.Duration(cfg.StartLine.FreshnessWindowS * float64(time.Second)),
	})

	fab := fabricator.New()

	posSub := upstream.New("position", posSource, cfg.Queues.UpstreamInbound, logger, bus, provider)
	gateSub := upstream.New("gate", gateSource, cfg.Queues.UpstreamInbound, logger, bus, provider)

	tracer := tracing.NewTracer(cfg.Telemetry.TracingEnabled)

	ing := pipeline.New(pipeline.Config{GateSignFlip: cfg.Classify.GateSignFlip}, posSub, gateSub, reg, table, cls, sl, fab, logger, bus, provider, tracer)

	bc := broadcast.New(cfg.Queues.PerClient, 5*time.Second, logger, bus, provider)
	rec := recorder.New(cfg.Session.SessionDir, cfg.Queues.Recorder, fab, logger, bus, provider)
	catalog := recorder.NewCatalog(cfg.Session.SessionDir)

	fab.AddSink(bc)
	fab.AddSink(rec)

	heartbeatInterval := time.Duration(cfg.Telemetry.HeartbeatIntervalS) * time.Second
	wd := watchdog.New(heartbeatInterval, time.Duration(cfg.Classify.ThresholdStaleS*float64(time.Second)), watchdog.Sources{
		Table:            table,
		PositionsUp:      posSub.Connected,
		GateUp:           gateSub.Connected,
		ConnectedClients: bc.Count,
		TotalRelayed:     ing.TotalRelayed,
	}, fab)

	r := &Relay{
		cfg: cfg, logger: logger, bus: bus, metricsProvider: provider,
		registry: reg, table: table, classifier: cls, startLine: sl, fab: fab,
		posSub: posSub, gateSub: gateSub, ingest: ing,
		broadcaster: bc, recorder: rec, catalog: catalog, watchdog: wd,
	}
	r.evaluator = health.NewEvaluator(2*time.Second,
		health.ProbeFunc(r.probeUpstream(health.ProbePositionUpstream, posSub)),
		health.ProbeFunc(r.probeUpstream(health.ProbeGateUpstream, gateSub)),
		health.ProbeFunc(r.probeBroadcast),
		health.ProbeFunc(r.probeRecorder),
		health.ProbeFunc(r.probeStateTable),
	)
	r.server = api.New(api.Deps{
		Registry: reg, Recorder: rec, Catalog: catalog, Broadcaster: bc, Ingest: ing,
		Evaluator: r.evaluator, Logger: logger, MetricsProvider: provider,
	})
	return r, nil
}

func (r *Relay) probeUpstream(name string, sub *upstream.Subscriber) func(ctx context.Context) health.ProbeResult {
	return func(ctx context.Context) health.ProbeResult {
		if sub.Connected() {
			return health.Healthy(name)
		}
		return health.Degraded(name, fmt.Sprintf("disconnected, %d reconnects", sub.Reconnects()))
	}
}

func (r *Relay) probeBroadcast(ctx context.Context) health.ProbeResult {
	return health.BroadcastProbe(health.ProbeBroadcast, r.broadcaster.Dropped())
}

func (r *Relay) probeRecorder(ctx context.Context) health.ProbeResult {
	if r.recorder.Dropped() > 0 {
		return health.Degraded(health.ProbeRecorder, fmt.Sprintf("%d envelopes dropped", r.recorder.Dropped()))
	}
	return health.Healthy(health.ProbeRecorder)
}

// probeStateTable reports the fraction of tracked athletes the watchdog
// would currently consider stale, using the same staleness threshold.
func (r *Relay) probeStateTable(ctx context.Context) health.ProbeResult {
	staleAfter := time.Duration(r.cfg.Classify.ThresholdStaleS * float64(time.Second))
	stale, total := r.table.StaleCounts(time.Now(), staleAfter)
	return health.StaleAthleteProbe(health.ProbeStateTable, stale, total, 0.5, 1.0)
}

// Start launches every background task: subscribers, ingest tasks, and the
// watchdog. It does not bind the HTTP server; callers serve r.Server()
// themselves (cmd/relay uses its own http.Server) so main retains control
// of the bind address.
func (r *Relay) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.startedAt = time.Now()

	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.posSub.Run(ctx) }()
	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.gateSub.Run(ctx) }()
	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.ingest.Run(ctx) }()
	r.wg.Add(1)
	go func() { defer r.wg.Done(); r.watchdog.Run(ctx) }()
}

// Server returns the REST/websocket handler for binding in cmd/relay.
func (r *Relay) Server() *api.Server { return r.server }

// Shutdown stops subscribers, drains ingest, closes the broadcaster, and
// flushes the recorder, in that order, per §5's shutdown sequence.
func (r *Relay) Shutdown(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.broadcaster.CloseAll(ctx)
	r.recorder.Close()
	_ = r.registry.Close()
}

// HealthSnapshot evaluates (or returns cached) subsystem health.
func (r *Relay) HealthSnapshot(ctx context.Context) health.Snapshot {
	return r.evaluator.Evaluate(ctx)
}
