// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/cors"

	"github.com/okian/fundus/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatusProvider
	Analyzer
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxUploadBytes caps the accepted image size.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithAllowedOrigins sets the CORS origins for the JSON API.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithLogger sets the logger used by handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the analysis API.
type Server struct {
	healthHandler  *HealthHandler
	statusHandler  *StatusHandler
	analyzeHandler *AnalyzeHandler

	maxUploadBytes int64
	allowedOrigins []string
	logger         logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxUploadBytes: 10 << 20,
		allowedOrigins: []string{"*"},
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.healthHandler = NewHealthHandler()
	s.statusHandler = NewStatusHandler(deps)
	s.analyzeHandler = NewAnalyzeHandler(deps, s.maxUploadBytes, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})

	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/api/v1/status", c.Handler(s.withRequestID(MetricsMiddleware(s.statusHandler.HandleStatus, "status"))))
	mux.Handle("/api/v1/analyze", c.Handler(s.withRequestID(MetricsMiddleware(s.analyzeHandler.HandleAnalyze, "analyze"))))
}

func (s *Server) withRequestID(next http.HandlerFunc) http.Handler {
	return RequestIDMiddleware(next, s.logger)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeErrorMessage(w, status, code, msg)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, msg string) {
	if rw, ok := w.(*responseWriter); ok {
		rw.errorCode = code
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
