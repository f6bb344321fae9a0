// Package server exposes the publish pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/withObsrvr/top10-publisher/internal/history"
	"github.com/withObsrvr/top10-publisher/internal/logging"
	"github.com/withObsrvr/top10-publisher/internal/metrics"
	"github.com/withObsrvr/top10-publisher/internal/pipeline"
)

// Runner runs one publish for a topic.
type Runner interface {
	Run(ctx context.Context, topic string) *pipeline.Report
}

// Server is the HTTP front end of the publisher.
type Server struct {
	runner  Runner
	history history.Recorder
	metrics bool
	router  *chi.Mux
	server  *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithHistory serves recent publish attempts on GET /history.
func WithHistory(h history.Recorder) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics serves the Prometheus handler on GET /metrics.
func WithMetrics() Option {
	return func(s *Server) { s.metrics = true }
}

// ErrorResponse is the body of 4xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type analyzeRequest struct {
	Topic string `json:"topic"`
}

// New creates a server.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner: runner,
		router: chi.NewRouter(),
	}
	for _, o := range opts {
		o(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/analyze", s.handleAnalyze)
	if s.history != nil {
		s.router.Get("/history", s.handleHistory)
	}
	if s.metrics {
		s.router.Handle("/metrics", metrics.Handler())
	}
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Runs wait on the remote job; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("starting server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": pipeline.Version,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if n := utf8.RuneCountInString(topic); n < 3 || n > 50 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "topic must be 3-50 characters"})
		return
	}

	ctx := logging.WithCorrelationID(r.Context(), middleware.GetReqID(r.Context()))
	rep := s.runner.Run(ctx, topic)

	status := http.StatusOK
	if !rep.Succeeded() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, rep)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("history lookup failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "history unavailable"})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
