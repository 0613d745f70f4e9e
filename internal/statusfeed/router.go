package statusfeed

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultWSPath      = "/ws"
	defaultEventsLimit = 50
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.accessLog)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)
	})

	path := s.cfg.WebSocket.Path
	if path == "" {
		path = defaultWSPath
	}
	r.Get(path, s.handleWebSocket)

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleHealth reports 200 while the broker connection is up and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	v := s.status()
	status, text := http.StatusOK, "ok"
	if !v.Connected {
		status, text = http.StatusServiceUnavailable, "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status":  text,
		"state":   v.State,
		"version": s.version,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "event journal is disabled")
		return
	}

	limit := defaultEventsLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading journal failed", "error", err)
		writeInternalError(w, "failed to read events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

// handleWebSocket upgrades the connection and starts the client pumps. The
// first message on every connection is the current snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, s.snapshotMessage)
	s.hub.register(client, s.snapshotMessage)

	go client.writePump()
	go client.readPump()
}
