// Package api exposes the operator-facing status endpoints: health, per
// source counters, the error log, stored items and queue statistics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/trendwatch-io/trendwatch/internal/crawler"
	"github.com/trendwatch-io/trendwatch/internal/queue"
)

// Server serves the read-only status API.
type Server struct {
	manager *crawler.Manager
	queue   *queue.Queue
}

// NewServer creates a status API over the given manager and queue. queue may
// be nil when analysis is disabled.
func NewServer(m *crawler.Manager, q *queue.Queue) *Server {
	return &Server{manager: m, queue: q}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/errors", s.handleErrors)
		r.Get("/items", s.handleItems)
		r.Get("/queue/stats", s.handleQueueStats)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	respondJSON(w, http.StatusOK, s.manager.GetStats(sourceID))
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries := s.manager.GetErrors(r.Context(),
		q.Get("source_id"),
		q.Get("unresolved") == "true",
		queryInt(q.Get("limit"), 100),
	)
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(entries),
		"errors": entries,
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := s.manager.GetItems(r.Context(),
		q.Get("source_id"),
		queryInt(q.Get("limit"), 100),
		queryInt(q.Get("offset"), 0),
		q.Get("filtered") == "true",
	)
	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	stats := s.queue.GetStats()
	respondJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"running": s.queue.IsRunning(),
		"stats":   stats,
	})
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}
