// Package upstream implements the two long-lived upstream subscribers
// (positions, gate metrics): bounded inbound queues, reconnection with
// exponential backoff and jitter, and a pluggable FrameSource so the mock
// producer can drive the same pipeline from a generator or pack replay.
package upstream

import (
	"math/rand"
	"sync"
	"time"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
	jitterFrac  = 0.2
)

// backoff tracks per-subscriber circuit state, closed/open/half-open-shaped,
// but driven by dial success/failure instead of request feedback: a
// subscriber is never truly "open" (it always retries), so this just tracks
// the backoff delay to use for the next reconnect attempt.
type backoff struct {
	mu      sync.Mutex
	current time.Duration
	rng     *rand.Rand
}

func newBackoff() *backoff {
	return &backoff{current: backoffBase, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns the delay to wait before the next reconnect attempt and
// advances the internal state toward the cap.
func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	jitter := 1 + (b.rng.Float64()*2-1)*jitterFrac
	delay := time.Duration(float64(d) * jitter)
	b.current *= 2
	if b.current > backoffCap {
		b.current = backoffCap
	}
	return delay
}

// Reset returns the backoff to its base delay, called on a successful read.
func (b *backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = backoffBase
}
