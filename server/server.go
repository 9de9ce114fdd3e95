// Package server provides the HTTP front end of the artifact cache.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/store/metadb"
	"github.com/wolfeidau/artifact-cache/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken enables Bearer token authentication when set.
	AuthToken string

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration

	// RequestTimeout bounds the time spent resolving one request, including
	// upstream fetches. Zero means no limit.
	RequestTimeout time.Duration

	// Logger for the server
	Logger *slog.Logger
}

// Cache resolves artifact requests.
type Cache interface {
	FetchArtifact(ctx context.Context, policy string, coord artifactcache.Coordinate, tracked bool) (*artifactcache.ArtifactResult, error)
	FetchMetadata(ctx context.Context, policy, group, target string) (*artifactcache.ArtifactResult, error)
}

// Deployer stores uploaded build outputs.
type Deployer interface {
	Deploy(ctx context.Context, coord artifactcache.Coordinate, r io.Reader) (string, error)
	DeployMetadata(ctx context.Context, group, target string, r io.Reader) (string, error)
}

// StatsSource reports cache statistics.
type StatsSource interface {
	Stats(ctx context.Context) (*metadb.Stats, error)
	ListEntries(ctx context.Context, prefix string, limit int) ([]metadb.Entry, error)
	Recent(ctx context.Context, limit int) ([]metadb.Entry, error)
}

const defaultEntryLimit = 100

// Option configures a Server.
type Option func(*Server)

// WithDeployer enables PUT uploads.
func WithDeployer(d Deployer) Option {
	return func(s *Server) {
		s.deployer = d
	}
}

// WithStats serves /stats from src.
func WithStats(src StatsSource) Option {
	return func(s *Server) {
		s.stats = src
	}
}

// Server is the HTTP server for the artifact cache.
type Server struct {
	config     Config
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger

	cache    Cache
	deployer Deployer
	stats    StatsSource
}

// New creates a server resolving requests through c.
func New(cfg Config, c Cache, opts ...Option) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		cache:  c,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(s.authMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /stats/entries", s.handleEntries)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// GET also matches HEAD.
	mux.HandleFunc("GET /maven2/{policy}/{path...}", s.handleFetch)
	mux.HandleFunc("PUT /maven2/{policy}/{path...}", s.handleDeploy)
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "index not enabled"})
		return
	}

	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleEntries lists indexed entries. With a prefix query parameter it
// returns matching keys in key order, otherwise the most recently cached.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "index not enabled"})
		return
	}

	limit := defaultEntryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	var (
		entries []metadb.Entry
		err     error
	)
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		entries, err = s.stats.ListEntries(r.Context(), prefix, limit)
	} else {
		entries, err = s.stats.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("listing entries", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []metadb.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Policy != "" {
			attrs = append(attrs, "policy", tags.Policy)
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}
		if tags.Repository != "" {
			attrs = append(attrs, "repository", tags.Repository)
		}

		if isInternal(r.URL.Path) {
			s.logger.Debug("http request", attrs...)
		} else {
			s.logger.Info("http request", attrs...)
		}

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

func isInternal(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/stats")
}

// Start starts the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting server", "address", l.Addr().String())
	return s.httpServer.Serve(l)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// contentType returns the content type for an artifact file name.
func contentType(target string) string {
	if _, _, ok := artifactcache.DigestTarget(target); ok {
		return "text/plain"
	}
	ext := target[strings.LastIndex(target, ".")+1:]
	switch ext {
	case "jar", "war", "ear", "aar":
		return "application/java-archive"
	case "pom", "xml":
		return "application/xml"
	case "zip":
		return "application/zip"
	case "module", "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
