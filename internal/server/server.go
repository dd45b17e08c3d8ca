// Package server exposes status polling, manual triggers and the live event
// stream over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"farewatch/internal/config"
	"farewatch/internal/metrics"
	"farewatch/internal/runstate"
	"farewatch/internal/scheduler"
	"farewatch/internal/storage"
)

// Deps are the collaborators the HTTP surface composes.
type Deps struct {
	State     *runstate.State
	Scheduler scheduler.Scheduler
	Store     storage.ResultStore
	Metrics   *metrics.Metrics
}

// Server holds the routes and their dependencies.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger
}

// New builds the HTTP surface.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	r.Get("/ws", s.handleWebSocket)

	s.mountAPI(r)
	r.Route("/api", s.mountAPI)

	return r
}

func (s *Server) mountAPI(r chi.Router) {
	r.Get("/status", s.handleStatus)
	r.Get("/check", s.handleCheck)
	r.Post("/check", s.handleCheck)
	r.Get("/history", s.handleHistory)
	r.Get("/stream", s.handleStream)
}

// loggingMiddleware logs one line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// writeJSONResponse writes data with the given status code.
func (s *Server) writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSONResponse(w, status, ErrorResponse{Error: message})
}
