// Package watchdog implements the heartbeat/device-health ticker task
// (C12): the sole writer of DEVICE_OFFLINE/DEVICE_ONLINE events, and the
// periodic heartbeat envelope.
package watchdog

import (
	"context"
	"time"

	"sailrelay/internal/fabricator"
	"sailrelay/internal/state"
	"sailrelay/internal/wire"
)

// Sources is everything the watchdog reads a snapshot of per tick.
type Sources struct {
	Table            *state.Table
	PositionsUp      func() bool
	GateUp           func() bool
	ConnectedClients func() int
	TotalRelayed     func() int64
}

// Watchdog ticks once per interval, emitting a heartbeat and scanning for
// device staleness transitions.
type Watchdog struct {
	interval    time.Duration
	staleAfter  time.Duration
	src         Sources
	fab         *fabricator.Fabricator
	startedAt   time.Time
	offline     map[int]bool
}

// New builds a Watchdog ticking every interval, treating a device as
// offline once it hasn't updated for staleAfter.
func New(interval, staleAfter time.Duration, src Sources, fab *fabricator.Fabricator) *Watchdog {
	return &Watchdog{interval: interval, staleAfter: staleAfter, src: src, fab: fab, startedAt: time.Now(), offline: make(map[int]bool)}
}

// Run ticks until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	now := time.Now()
	w.emitHeartbeat(now)
	w.scanDeviceHealth(now)
}

func (w *Watchdog) emitHeartbeat(now time.Time) {
	payload := wire.HeartbeatPayload{
		UptimeS:          int64(now.Sub(w.startedAt).Seconds()),
		AthletesTracked:  w.src.Table.Count(),
		TotalRelayed:     w.callInt64(w.src.TotalRelayed),
	}
	if w.src.ConnectedClients != nil {
		payload.ConnectedClients = w.src.ConnectedClients()
	}
	if w.src.PositionsUp != nil {
		payload.PositionsUp = w.src.PositionsUp()
	}
	if w.src.GateUp != nil {
		payload.GateUp = w.src.GateUp()
	}
	w.fab.Stamp(wire.TypeHeartbeat, payload)
}

func (w *Watchdog) callInt64(f func() int64) int64 {
	if f == nil {
		return 0
	}
	return f()
}

func (w *Watchdog) scanDeviceHealth(now time.Time) {
	stale := make(map[int]bool)
	for _, id := range w.src.Table.StaleDevices(now, w.staleAfter) {
		stale[id] = true
		if !w.offline[id] {
			w.offline[id] = true
			w.fab.Stamp(wire.TypeDeviceHealth, wire.DeviceHealthPayload{DeviceID: id, Online: false, LastSeenMs: w.lastSeenMs(id)})
			w.fab.Stamp(wire.TypeEvent, wire.EventPayload{Kind: wire.EventDeviceOffline, DeviceID: id})
		}
	}
	for id, wasOffline := range w.offline {
		if wasOffline && !stale[id] {
			delete(w.offline, id)
			w.fab.Stamp(wire.TypeDeviceHealth, wire.DeviceHealthPayload{DeviceID: id, Online: true, LastSeenMs: w.lastSeenMs(id)})
			w.fab.Stamp(wire.TypeEvent, wire.EventPayload{Kind: wire.EventDeviceOnline, DeviceID: id})
		}
	}
}

func (w *Watchdog) lastSeenMs(device int) int64 {
	a := w.src.Table.Snapshot(device)
	if a == nil || a.LastUpdate.IsZero() {
		return 0
	}
	return a.LastUpdate.UnixMilli()
}
