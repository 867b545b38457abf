package upstream

import (
	"context"
	"sync/atomic"
	"time"

	"sailrelay/internal/telemetry/events"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/telemetry/metrics"
)

// RawFrame is one undecoded frame handed from a FrameSource to a Subscriber.
// For the position topic it is a text block; for the gate topic it is one
// JSON line.
type RawFrame struct {
	Data []byte
}

// FrameSource produces raw frames until ctx is canceled or a fatal error
// occurs. Implementations: tcpFrameSource for production, and the
// generator/pack-replay sources internal/mock provides for the mock
// producer (C13).
type FrameSource interface {
	// Run connects (or reconnects once per call) and streams frames to out
	// until the connection drops or ctx is canceled. A returned error other
	// than context.Canceled triggers the subscriber's backoff/retry loop.
	Run(ctx context.Context, out chan<- RawFrame) error
}

// Subscriber owns one upstream topic: a bounded inbound queue, a
// reconnecting FrameSource, and the drop/reconnect counters exposed via
// /api/health.
type Subscriber struct {
	name    string
	source  FrameSource
	queue   chan RawFrame
	logger  logging.Logger
	bus     events.Bus

	connected atomic.Bool
	dropped   atomic.Int64
	reconnects atomic.Int64

	mDropped    metrics.Counter
	mReconnects metrics.Counter
	mQueueDepth metrics.Gauge
}

// New builds a Subscriber named name (used in logs/metrics/events) with a
// bounded inbound queue of the given capacity.
func New(name string, source FrameSource, queueCap int, logger logging.Logger, bus events.Bus, provider metrics.Provider) *Subscriber {
	s := &Subscriber{name: name, source: source, queue: make(chan RawFrame, queueCap), logger: logger, bus: bus}
	if provider != nil {
		s.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "upstream", Name: "dropped_total", Help: "Frames dropped due to full inbound queue", Labels: []string{"topic"}}})
		s.mReconnects = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "upstream", Name: "reconnects_total", Help: "Upstream reconnect attempts", Labels: []string{"topic"}}})
		s.mQueueDepth = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "upstream", Name: "queue_depth", Help: "Inbound queue depth", Labels: []string{"topic"}}})
	}
	return s
}

// Frames returns the channel the ingest task reads from.
func (s *Subscriber) Frames() <-chan RawFrame { return s.queue }

// Connected reports whether a FrameSource.Run call is in progress: it is
// set before the source dials and cleared when Run returns.
func (s *Subscriber) Connected() bool { return s.connected.Load() }

// Dropped returns the number of frames dropped because the inbound queue
// was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Reconnects returns the number of reconnect attempts made so far.
func (s *Subscriber) Reconnects() int64 { return s.reconnects.Load() }

// Run drives the FrameSource forever, reconnecting with exponential backoff
// on failure, until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) {
	bo := newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		s.connected.Store(true)
		err := s.runOnce(ctx, bo)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.reconnects.Add(1)
		if s.mReconnects != nil {
			s.mReconnects.Inc(1, s.name)
		}
		if s.logger != nil {
			s.logger.Warn(ctx, "upstream subscriber disconnected, backing off", "topic", s.name, "error", err)
		}
		if s.bus != nil {
			s.bus.Publish(events.UpstreamDisconnectedEvent(s.name))
		}
		delay := bo.Next()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce connects once via the FrameSource, forwarding frames into the
// bounded inbound queue (dropping the oldest on overflow) until the source
// returns. The first frame received resets the backoff, matching "a
// successful receive resets the backoff".
func (s *Subscriber) runOnce(ctx context.Context, bo *backoff) error {
	errCh := make(chan error, 1)
	frameCh := make(chan RawFrame, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { errCh <- s.source.Run(runCtx, frameCh) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case f := <-frameCh:
			bo.Reset()
			s.enqueue(f)
		}
	}
}

func (s *Subscriber) enqueue(f RawFrame) {
	select {
	case s.queue <- f:
	default:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- f:
		default:
		}
		s.dropped.Add(1)
		if s.mDropped != nil {
			s.mDropped.Inc(1, s.name)
		}
	}
	if s.mQueueDepth != nil {
		s.mQueueDepth.Set(float64(len(s.queue)), s.name)
	}
}
