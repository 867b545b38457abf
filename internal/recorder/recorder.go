// Package recorder implements the session recorder (C10): an IDLE/RECORDING
// state machine whose own dedicated task drains a bounded queue and appends
// session-relative envelopes to a JSON-Lines pack file, so recording writes
// never block the ingestion path. The drain loop uses a bounded channel
// plus a ticker-driven flush, the same checkpoint-loop shape as other
// bounded background writers in this repo.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sailrelay/internal/telemetry/events"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/telemetry/metrics"
	"sailrelay/internal/wire"
)

var (
	ErrAlreadyRecording = errors.New("recorder: already recording")
	ErrNotRecording     = errors.New("recorder: not recording")
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type command struct {
	kind      cmdKind
	sessionID string
	resultCh  chan startResult
}

type startResult struct {
	sessionID string
	err       error
}

// SessionSetter is the subset of fabricator.Fabricator the recorder needs.
type SessionSetter interface {
	SetSessionID(id *string)
}

// Recorder is the single owner of session state: the file handle, the
// current session id, and the IDLE/RECORDING flag are touched only by its
// own actor goroutine.
type Recorder struct {
	dir string
	fab SessionSetter

	queue   chan wire.Envelope
	cmdCh   chan command
	dropped atomic.Int64
	recording atomic.Bool

	logger logging.Logger
	bus    events.Bus

	mDropped metrics.Counter
	mState   metrics.Gauge

	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New builds a Recorder writing packs under dir, draining a queue of
// queueCap envelopes, and notifying fab of the active session id.
func New(dir string, queueCap int, fab SessionSetter, logger logging.Logger, bus events.Bus, provider metrics.Provider) *Recorder {
	r := &Recorder{
		dir:           dir,
		fab:           fab,
		queue:         make(chan wire.Envelope, queueCap),
		cmdCh:         make(chan command),
		logger:        logger,
		bus:           bus,
		flushInterval: 200 * time.Millisecond,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	if provider != nil {
		r.mDropped = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "recorder", Name: "dropped_total", Help: "Envelopes dropped due to full recorder queue"}})
		r.mState = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{Namespace: "sailrelay", Subsystem: "recorder", Name: "recording", Help: "1 if a session is currently recording"}})
	}
	go r.run()
	return r
}

// Offer implements fabricator.Sink. It never blocks: when the queue is
// full the envelope is dropped and counted, whether or not a session is
// currently recording.
func (r *Recorder) Offer(env wire.Envelope) {
	select {
	case r.queue <- env:
	default:
		r.dropped.Add(1)
		if r.mDropped != nil {
			r.mDropped.Inc(1)
		}
	}
}

// Dropped returns the number of envelopes dropped for queue overflow.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Recording reports whether a session is currently being recorded.
func (r *Recorder) Recording() bool { return r.recording.Load() }

// Start begins recording to a new pack file named sessionID (auto-generated
// if empty), requiring the recorder be IDLE.
func (r *Recorder) Start(ctx context.Context, sessionID string) (string, error) {
	resultCh := make(chan startResult, 1)
	select {
	case r.cmdCh <- command{kind: cmdStart, sessionID: sessionID, resultCh: resultCh}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.stopCh:
		return "", errors.New("recorder: closed")
	}
	select {
	case res := <-resultCh:
		return res.sessionID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop ends the current recording, requiring the recorder be RECORDING.
func (r *Recorder) Stop(ctx context.Context) error {
	resultCh := make(chan startResult, 1)
	select {
	case r.cmdCh <- command{kind: cmdStop, resultCh: resultCh}:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopCh:
		return errors.New("recorder: closed")
	}
	select {
	case res := <-resultCh:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands and, if recording, flushes and closes the
// active pack file.
func (r *Recorder) Close() {
	close(r.stopCh)
	<-r.doneCh
}

type openPack struct {
	sessionID string
	startMs   int64
	file      *os.File
	writer    *bufio.Writer
}

func (r *Recorder) run() {
	defer close(r.doneCh)
	var pack *openPack
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			if pack != nil {
				_ = pack.writer.Flush()
				_ = pack.file.Close()
			}
			return
		case cmd := <-r.cmdCh:
			switch cmd.kind {
			case cmdStart:
				if pack != nil {
					cmd.resultCh <- startResult{err: ErrAlreadyRecording}
					continue
				}
				p, err := r.openPack(cmd.sessionID)
				if err != nil {
					cmd.resultCh <- startResult{err: err}
					continue
				}
				pack = p
				r.recording.Store(true)
				if r.mState != nil {
					r.mState.Set(1)
				}
				id := pack.sessionID
				r.fab.SetSessionID(&id)
				cmd.resultCh <- startResult{sessionID: pack.sessionID}
			case cmdStop:
				if pack == nil {
					cmd.resultCh <- startResult{err: ErrNotRecording}
					continue
				}
				_ = pack.writer.Flush()
				closeErr := pack.file.Close()
				pack = nil
				r.recording.Store(false)
				if r.mState != nil {
					r.mState.Set(0)
				}
				r.fab.SetSessionID(nil)
				cmd.resultCh <- startResult{err: closeErr}
			}
		case env := <-r.queue:
			if pack == nil {
				continue
			}
			if err := r.appendEnvelope(pack, env); err != nil {
				if r.logger != nil {
					r.logger.Error(context.Background(), "recorder write failed, aborting session", "error", err, "session_id", pack.sessionID)
				}
				if r.bus != nil {
					r.bus.Publish(events.RecorderWriteFailedEvent(pack.sessionID, err))
				}
				_ = pack.file.Close()
				pack = nil
				r.recording.Store(false)
				if r.mState != nil {
					r.mState.Set(0)
				}
				r.fab.SetSessionID(nil)
			}
		case <-ticker.C:
			if pack != nil {
				_ = pack.writer.Flush()
			}
		}
	}
}

func (r *Recorder) openPack(sessionID string) (*openPack, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pack file: %w", err)
	}
	w := bufio.NewWriter(f)
	meta := map[string]any{
		"_meta":          true,
		"schema_version": wire.SchemaVersion,
		"session_id":     sessionID,
		"created":        time.Now().UTC().Format(time.RFC3339),
		"description":    "",
	}
	if err := writeLine(w, meta); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return &openPack{sessionID: sessionID, startMs: time.Now().UnixMilli(), file: f, writer: w}, nil
}

func (r *Recorder) appendEnvelope(pack *openPack, env wire.Envelope) error {
	rel := env
	rel.TsMs = env.TsMs - pack.startMs
	return writeLine(pack.writer, rel)
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
