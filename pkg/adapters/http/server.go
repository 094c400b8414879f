// Package http exposes a ports.Backend over REST plus a websocket push
// feed, and provides a client that speaks the same contract.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/canopyhq/canopy/internal/logging"
	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Watcher is the optional push capability of a backend. When the
// wrapped backend implements it, the server mounts a websocket feed of
// accepted events at /trees/{treeID}/watch.
type Watcher interface {
	Watch(treeID string) (<-chan domain.Event, func())
}

// SubmitRequest is the body of POST /trees/{treeID}/events.
type SubmitRequest struct {
	LastKnownServerVersion uint64         `json:"last_known_server_version"`
	Events                 []domain.Event `json:"events"`
}

// EventsResponse is the body of GET /trees/{treeID}/events.
type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

// Server serves the backend contract over HTTP.
type Server struct {
	backend  ports.Backend
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets a structured logger for request handling.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewHandler creates an HTTP handler exposing backend.
func NewHandler(backend ports.Backend, opts ...ServerOption) http.Handler {
	s := &Server{
		backend: backend,
		logger:  logging.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Post("/trees/{treeID}/events", s.handleSubmit)
	r.Get("/trees/{treeID}/events", s.handleEvents)
	if _, ok := backend.(Watcher); ok {
		r.Get("/trees/{treeID}/watch", s.handleWatch)
	}
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	treeID := chi.URLParam(r, "treeID")

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid submit body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.backend.Submit(r.Context(), treeID, req.LastKnownServerVersion, req.Events)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "submit failed", "tree", treeID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	treeID := chi.URLParam(r, "treeID")

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid 'after' parameter", http.StatusBadRequest)
			return
		}
		after = parsed
	}

	events, err := s.backend.Events(r.Context(), treeID, after)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "events fetch failed", "tree", treeID, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	treeID := chi.URLParam(r, "treeID")
	watcher := s.backend.(Watcher)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "websocket upgrade failed", "tree", treeID, "err", err)
		return
	}
	defer conn.Close()

	events, cancel := watcher.Watch(treeID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.DebugContext(r.Context(), "watch connection closed", "tree", treeID, "err", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
