package observability

import (
	"context"
	"net/http"
	"time"
)

// Server exposes the metrics and health endpoints on their own listener,
// separate from the analysis API.
type Server struct {
	httpServer *http.Server
	checker    *Checker
}

// NewServer creates an observability server on addr.
func NewServer(addr string, checker *Checker) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.Handle("/metrics", MetricsHandler())

	return &Server{
		checker: checker,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
