// Package fabricator is the single point that stamps every outbound
// message with type, schema version, sequence number, timestamp, and
// current session id, then routes it to the broadcaster and recorder.
// Stamping has no I/O and is synchronous, matching the concurrency model's
// requirement that the fabricator never suspends.
package fabricator

import (
	"sync/atomic"
	"time"

	"sailrelay/internal/wire"
)

// Sink receives every fabricated envelope. The broadcaster and recorder
// both implement Sink.
type Sink interface {
	Offer(env wire.Envelope)
}

// Fabricator stamps envelopes and fans them out to its sinks.
type Fabricator struct {
	seq       atomic.Int64
	sessionID atomic.Pointer[string]
	sinks     []Sink
	clock     func() time.Time
}

// New builds a Fabricator with seq starting at 1, as required by the wire
// contract (process-lifetime monotonic counter).
func New(sinks ...Sink) *Fabricator {
	f := &Fabricator{sinks: sinks, clock: time.Now}
	return f
}

// SetSessionID stamps session_id on every subsequent envelope, or clears it
// if id is nil. Called by the recorder on start/stop.
func (f *Fabricator) SetSessionID(id *string) {
	f.sessionID.Store(id)
}

// Stamp builds an envelope of the given type/payload, assigns the next
// sequence number and current wall clock, and routes it to every sink.
func (f *Fabricator) Stamp(msgType string, payload any) wire.Envelope {
	env := wire.Envelope{
		Type:          msgType,
		SchemaVersion: wire.SchemaVersion,
		Seq:           f.seq.Add(1),
		TsMs:          f.clock().UnixMilli(),
		SessionID:     f.sessionID.Load(),
		Payload:       payload,
	}
	for _, s := range f.sinks {
		s.Offer(env)
	}
	return env
}

// AddSink registers an additional sink (used during composition wiring in
// internal/relay before the fabricator starts receiving traffic).
func (f *Fabricator) AddSink(s Sink) {
	f.sinks = append(f.sinks, s)
}
