// Package server is the thin HTTP adapter over the engine: request
// decoding, rate limiting, and error translation. All scoring semantics
// live in the engine itself.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	sentinel "github.com/vigil-ai/sentinel"
	"github.com/vigil-ai/sentinel/pkg/config"
	metrics "github.com/vigil-ai/sentinel/pkg/observability"
)

// maxBodyBytes bounds request bodies; messages cap at 10k characters so
// this leaves generous room for history and metadata.
const maxBodyBytes = 1 << 20

// Server serves the analysis API.
type Server struct {
	engine     *sentinel.Engine
	httpServer *http.Server
	limiter    *clientLimiter
}

// New creates the HTTP adapter for engine on cfg.Addr.
func New(engine *sentinel.Engine, cfg config.ServerConfig) *Server {
	s := &Server{engine: engine}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /v1/analyze/batch", s.handleAnalyzeBatch)
	mux.HandleFunc("POST /v1/config/reload", s.handleReloadConfig)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.middleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the composed handler. Test hook.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// middleware applies body limits, rate limiting, request IDs and metrics.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if s.limiter != nil && !s.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, "429", time.Since(start))
			return
		}

		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.RecordHTTPRequest(r.Method, r.URL.Path, statusLabel(rec.status), time.Since(start))
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req sentinel.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	if _, ok := req.Metadata["request_id"]; !ok {
		req.Metadata["request_id"] = r.Header.Get("X-Request-Id")
	}

	assessment, err := s.engine.Analyze(r.Context(), req)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[server] analyze failed: %v", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

type batchRequest struct {
	Messages       []string `json:"messages"`
	IncludeDetails bool     `json:"include_details"`
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return
	}

	result, err := s.engine.AnalyzeBatch(r.Context(), req.Messages, req.IncludeDetails)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[server] batch analyze failed: %v", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleReloadConfig swaps the engine configuration from a YAML body, the
// same document format the config file uses.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(body, cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config: "+err.Error())
		return
	}

	if err := s.engine.ReloadConfig(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientLimiter keeps one token bucket per client, evicting idle entries.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	cl := &clientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   limit,
		burst:   burst,
	}
	go cl.evictLoop()
	return cl
}

func (cl *clientLimiter) allow(key string) bool {
	cl.mu.Lock()
	b, ok := cl.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[key] = b
	}
	b.lastSeen = time.Now()
	cl.mu.Unlock()
	return b.limiter.Allow()
}

func (cl *clientLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		cl.mu.Lock()
		for key, b := range cl.clients {
			if b.lastSeen.Before(cutoff) {
				delete(cl.clients, key)
			}
		}
		cl.mu.Unlock()
	}
}
