// Package api exposes the HTTP surface: the websocket endpoint, a
// health check, a presence snapshot and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coachline/internal/logging"
	"coachline/internal/presence"
	"coachline/pkg/types"
)

type Server struct {
	registry *presence.Registry
	ws       http.Handler
	router   chi.Router
}

func NewServer(registry *presence.Registry, ws http.Handler) *Server {
	s := &Server{
		registry: registry,
		ws:       ws,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)
	s.router.Use(corsMiddleware)

	s.router.Get("/healthz", s.healthCheck)
	s.router.Get("/api/presence", s.presenceSnapshot)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/ws", s.ws.ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string    `json:"status"`
	OnlineUsers int       `json:"online_users"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		OnlineUsers: s.registry.Count(),
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Server) presenceSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, types.OnlineUsersPayload{
		Count: len(snapshot),
		Users: snapshot,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug().Err(err).Msg("failed to encode response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades are long-lived; logging them on completion
		// would report the whole session duration as request latency.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
