// Package registry resolves numeric device identifiers to athlete identity.
// The table is held behind an atomic.Pointer and replaced wholesale on
// reload, a copy-on-write discipline under which concurrent readers always
// see either the old table or the new one in entirety, never a partial mix.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"sailrelay/internal/telemetry/events"
	"sailrelay/internal/telemetry/logging"
)

// Record is one athlete's identity, owned by the registry and immutable
// within a session.
type Record struct {
	AthleteID string `json:"athlete_id"`
	DeviceID  int    `json:"device_id"`
	Name      string `json:"name"`
	Team      string `json:"team"`
}

type table struct {
	byDevice map[int]Record
}

// Registry maps device_id -> {athlete_id, name, team}. Unknown devices
// return a synthetic record rather than an error, since the relay must keep
// tracking numeric ids it has never seen in the registry document.
type Registry struct {
	cur    atomic.Pointer[table]
	path   string
	logger logging.Logger
	bus    events.Bus
	watch  *fsnotify.Watcher
	cancel context.CancelFunc
}

// New constructs a Registry. Call Load to populate it from path, and Watch
// to start hot-reloading on file writes.
func New(path string, logger logging.Logger, bus events.Bus) *Registry {
	r := &Registry{path: path, logger: logger, bus: bus}
	r.cur.Store(&table{byDevice: map[int]Record{}})
	return r
}

// Load reads and parses the registry document at r.path, swapping it in
// atomically on success. On failure the existing table (if any) is kept.
func (r *Registry) Load() error {
	recs, err := parseFile(r.path)
	if err != nil {
		return fmt.Errorf("registry: load %s: %w", r.path, err)
	}
	r.swap(recs)
	return nil
}

// Replace atomically installs a new set of records, used by PUT
// /api/athletes. It also persists the document back to r.path
// so a later restart observes the change, matching §4.1a.
func (r *Registry) Replace(recs []Record) error {
	r.swap(recs)
	return r.persist(recs)
}

func (r *Registry) swap(recs []Record) {
	t := &table{byDevice: make(map[int]Record, len(recs))}
	for _, rec := range recs {
		t.byDevice[rec.DeviceID] = rec
	}
	r.cur.Store(t)
}

func (r *Registry) persist(recs []Record) error {
	if r.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(r.path, data, 0o644)
}

func parseFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return recs, nil
}

// Lookup resolves device into an athlete record. Unknown devices get a
// synthetic identity rather than an error.
func (r *Registry) Lookup(device int) Record {
	t := r.cur.Load()
	if rec, ok := t.byDevice[device]; ok {
		return rec
	}
	return Record{
		AthleteID: "T" + strconv.Itoa(device),
		DeviceID:  device,
		Name:      "Unknown " + strconv.Itoa(device),
		Team:      "—",
	}
}

// All returns a snapshot of every known record.
func (r *Registry) All() []Record {
	t := r.cur.Load()
	out := make([]Record, 0, len(t.byDevice))
	for _, rec := range t.byDevice {
		out = append(out, rec)
	}
	return out
}

// Watch starts an fsnotify watch on the registry file's directory and
// reloads on write events.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: watcher: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("registry: watch %s: %w", dir, err)
	}
	r.watch = w
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.watchLoop(ctx, w)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Load(); err != nil {
				if r.logger != nil {
					r.logger.Warn(ctx, "registry reload failed", "error", err)
				}
				if r.bus != nil {
					r.bus.Publish(events.RegistryReloadFailedEvent(err))
				}
				continue
			}
			if r.logger != nil {
				r.logger.Info(ctx, "registry reloaded", "path", r.path)
			}
			if r.bus != nil {
				r.bus.Publish(events.RegistryReloadedEvent())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if r.logger != nil {
				r.logger.Warn(ctx, "registry watcher error", "error", err)
			}
		}
	}
}

// Close stops the file watch.
func (r *Registry) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}
