// Package api implements the REST control surface (C11) and the /ws
// websocket endpoint with plain handlers: no router framework,
// net/http.ServeMux's Go 1.22+ method+pattern routing, encoding/json
// responses, 4xx for client faults and 5xx with a correlation id for
// unexpected ones.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sailrelay/internal/broadcast"
	"sailrelay/internal/pipeline"
	"sailrelay/internal/recorder"
	"sailrelay/internal/registry"
	"sailrelay/internal/telemetry/health"
	"sailrelay/internal/telemetry/logging"
	"sailrelay/internal/telemetry/metrics"
)

// Deps are the composition root's collaborators the control surface reads
// and mutates.
type Deps struct {
	Registry    *registry.Registry
	Recorder    *recorder.Recorder
	Catalog     *recorder.Catalog
	Broadcaster *broadcast.Broadcaster
	Ingest      *pipeline.Ingest
	Evaluator   *health.Evaluator
	Logger      logging.Logger
	MetricsProvider metrics.Provider
}

// Server hosts the REST API and websocket endpoint on one http.ServeMux.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	upgrader websocket.Upgrader
}

// New builds a Server. Call Handler to get the http.Handler to serve.
func New(deps Deps) *Server {
	s := &Server{deps: deps, upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the composed http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/athletes", s.handleGetAthletes)
	s.mux.HandleFunc("PUT /api/athletes", s.handlePutAthletes)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleSessionMessages)
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.handleSessionExport)
	s.mux.HandleFunc("POST /api/sessions/start", s.handleSessionStart)
	s.mux.HandleFunc("POST /api/sessions/stop", s.handleSessionStop)
	s.mux.HandleFunc("POST /api/start-signal", s.handleStartSignal)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
	if s.deps.MetricsProvider != nil {
		if mh, ok := s.deps.MetricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
			s.mux.Handle("GET /metrics", mh.MetricsHandler())
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeFault logs an unexpected fault and returns an opaque correlation id
// to the client instead of internal error text, per §7.
func (s *Server) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	id := correlationID()
	if s.deps.Logger != nil {
		s.deps.Logger.Error(r.Context(), "request fault", "correlation_id", id, "error", err, "path", r.URL.Path)
	}
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal fault", "correlation_id": id})
}

func correlationID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "health evaluator unavailable")
		return
	}
	snap := s.deps.Evaluator.Evaluate(r.Context())
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetAthletes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Registry.All())
}

func (s *Server) handlePutAthletes(w http.ResponseWriter, r *http.Request) {
	var recs []registry.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deps.Registry.Replace(recs); err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.deps.Catalog.List()
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []recorder.Summary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := s.deps.Catalog.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := s.deps.Catalog.StreamMessages(id, w); err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/x-ndjson")
		if err := s.deps.Catalog.StreamMessages(id, w); err != nil {
			s.writeError(w, http.StatusNotFound, "session not found")
		}
	case "csv", "":
		w.Header().Set("Content-Type", "text/csv")
		if err := s.deps.Catalog.ExportCSV(id, w); err != nil {
			s.writeError(w, http.StatusNotFound, "session not found")
		}
	default:
		s.writeError(w, http.StatusBadRequest, "unsupported export format")
	}
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	id, err := s.deps.Recorder.Start(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			s.writeError(w, http.StatusConflict, "already recording")
			return
		}
		s.writeFault(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recorder.Stop(r.Context()); err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			s.writeError(w, http.StatusConflict, "not recording")
			return
		}
		s.writeFault(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStartSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TsMs int64 `json:"ts_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TsMs == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.deps.Ingest.SetStartSignal(time.UnixMilli(req.TsMs))
	s.writeJSON(w, http.StatusOK, map[string]int64{"ts_ms": req.TsMs})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	adapted := newWSConn(conn)
	id := correlationID()
	s.deps.Broadcaster.Register(id, adapted)
	go func() {
		defer s.deps.Broadcaster.Unregister(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ListenAndServe is a thin wrapper so the composition root doesn't need to
// construct an http.Server itself.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
