// Package broadcast fans fabricated envelopes out to connected websocket
// clients. Each client owns a bounded queue and an independent send loop so
// one slow consumer never stalls the others, and implements the ordered
// drop policy of §4.9: heartbeats go first, then position/gate batches,
// events and start-line definitions are never dropped (the client is
// disconnected instead once a drop would be required past a grace period).
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sailrelay/internal/telemetry/events"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/telemetry/metrics"
	"sailrelay/internal/wire"
)

// CloseCode 1008 per RFC 6455: policy violation, used for the slow-consumer
// disconnect.
const CloseCodeSlowConsumer = 1008

const graceBeforeDisconnect = 2 * time.Second

// Sender is the minimal contract a websocket connection must satisfy; it is
// the gorilla/websocket *Conn in production and a fake in tests.
type Sender interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
	CloseWithReason(code int, reason string) error
}

// Client is one connected websocket subscriber.
type Client struct {
	id     string
	conn   Sender
	queue  chan wire.Envelope
	done   chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	blockedSince time.Time

	logger logging.Logger
	onDrop func(msgType string)
}

func newClient(id string, conn Sender, queueCap int, logger logging.Logger, onDrop func(string)) *Client {
	return &Client{id: id, conn: conn, queue: make(chan wire.Envelope, queueCap), done: make(chan struct{}), logger: logger, onDrop: onDrop}
}

// offer attempts a non-blocking enqueue, applying the drop policy when the
// queue is full. Returns true if the envelope was enqueued (or already
// addressed by a drop substitution), false if the client should be
// disconnected for persistent overflow on a must-not-drop type.
func (c *Client) offer(env wire.Envelope) bool {
	select {
	case c.queue <- env:
		c.mu.Lock()
		c.blockedSince = time.Time{}
		c.mu.Unlock()
		return true
	default:
	}

	c.dropOldestFor(env.Type)
	select {
	case c.queue <- env:
		c.mu.Lock()
		c.blockedSince = time.Time{}
		c.mu.Unlock()
		return true
	default:
	}

	if !mustNotDrop(env.Type) {
		c.mu.Lock()
		c.blockedSince = time.Time{}
		c.mu.Unlock()
		return true
	}

	c.mu.Lock()
	if c.blockedSince.IsZero() {
		c.blockedSince = time.Now()
	}
	blockedFor := time.Since(c.blockedSince)
	c.mu.Unlock()
	return blockedFor < graceBeforeDisconnect
}

// dropOldestFor evicts one queued message to make room, preferring a
// heartbeat over a position/gate message per the ordered policy.
func (c *Client) dropOldestFor(incoming string) {
	n := len(c.queue)
	// The first n steps rotate the whole queue looking only for a heartbeat;
	// the next n take the oldest droppable message of any type.
	for i := 0; i < 2*n; i++ {
		heartbeatPass := i < n
		select {
		case m := <-c.queue:
			if m.Type == wire.TypeHeartbeat || (!heartbeatPass && !mustNotDrop(m.Type)) {
				if c.onDrop != nil {
					c.onDrop(m.Type)
				}
				return
			}
			select {
			case c.queue <- m:
			default:
			}
		default:
			return
		}
	}
	_ = incoming
}

func mustNotDrop(msgType string) bool {
	return msgType == wire.TypeEvent || msgType == wire.TypeStartLineDefinition
}

func (c *Client) sendLoop(writeTimeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case env, ok := <-c.queue:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				c.closeOnce.Do(func() { _ = c.conn.Close(); close(c.done) })
				return
			}
		}
	}
}

func (c *Client) disconnectSlow() {
	c.closeOnce.Do(func() {
		_ = c.conn.CloseWithReason(CloseCodeSlowConsumer, "slow consumer")
		close(c.done)
	})
}

// Broadcaster owns the connected-client set. It is the single writer of
// that set, matching the single-writer discipline the rest of the relay
// uses for shared mutable state.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	queueCap int
	writeTimeout time.Duration

	logger logging.Logger
	bus    events.Bus

	droppedTotal atomic.Int64
	mDropped     metrics.Counter
	mClients     metrics.Gauge
}

// New builds a Broadcaster whose clients get a queue of queueCap messages
// and writeTimeout per write.
func New(queueCap int, writeTimeout time.Duration, logger logging.Logger, bus events.Bus, provider metrics.Provider) *Broadcaster {
	b := &Broadcaster{clients: make(map[string]*Client), queueCap: queueCap, writeTimeout: writeTimeout, logger: logger, bus: bus}
	if provider != nil {
		b.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "broadcast", Name: "dropped_total", Help: "Messages dropped by client backpressure policy", Labels: []string{"type"}}})
		b.mClients = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "broadcast", Name: "connected_clients", Help: "Currently connected websocket clients"}})
	}
	return b
}

// Register adds conn as a new client and starts its send loop, returning an
// id the caller should pass to Unregister on disconnect.
func (b *Broadcaster) Register(id string, conn Sender) *Client {
	c := newClient(id, conn, b.queueCap, b.logger, func(msgType string) {
		b.droppedTotal.Add(1)
		if b.mDropped != nil {
			b.mDropped.Inc(1, msgType)
		}
	})
	b.mu.Lock()
	b.clients[id] = c
	n := len(b.clients)
	b.mu.Unlock()
	if b.mClients != nil {
		b.mClients.Set(float64(n))
	}
	go c.sendLoop(b.writeTimeout)
	return c
}

// Unregister removes a client from the set. Idempotent.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	n := len(b.clients)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.closeOnce.Do(func() { _ = c.conn.Close(); close(c.done) })
	if b.mClients != nil {
		b.mClients.Set(float64(n))
	}
}

// Offer implements fabricator.Sink: it fans env out to every connected
// client, applying the per-client drop policy and disconnecting clients
// that persist in overflow past the grace period.
func (b *Broadcaster) Offer(env wire.Envelope) {
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if !c.offer(env) {
			c.disconnectSlow()
			if b.bus != nil {
				b.bus.Publish(events.SlowConsumerDisconnectEvent(c.id))
			}
			b.Unregister(c.id)
		}
	}
}

// Dropped returns the running count of messages dropped across all clients
// to the backpressure policy, for the broadcaster's health probe.
func (b *Broadcaster) Dropped() int64 {
	return b.droppedTotal.Load()
}

// Count returns the number of currently connected clients.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// CloseAll disconnects every client, used during shutdown.
func (b *Broadcaster) CloseAll(ctx context.Context) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.Unregister(id)
	}
}
