package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurocodex/codexdb/pkg/api/apierr"
	"github.com/neurocodex/codexdb/pkg/concurrency"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
	"github.com/neurocodex/codexdb/pkg/lifecycle"
	mcpapi "github.com/neurocodex/codexdb/pkg/mcp"
)

// VersionHeader selects the dataset version of a request. The version
// query parameter is the fallback.
const VersionHeader = "X-Dataset-Version"

// Server is the HTTP/JSON API server.
type Server struct {
	pool      *concurrency.DatasetPool
	config    *core.Config
	lifecycle *lifecycle.Manager

	httpServer *http.Server
	addr       string
	mcpPath    string

	// nil when rate limiting is off
	limiter *clientLimiter
}

// NewServer creates a new API server
func NewServer(addr string, pool *concurrency.DatasetPool, cfg *core.Config) *Server {
	s := &Server{
		pool:   pool,
		config: cfg,
		addr:   addr,
	}
	if cfg.Server.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, cfg.Server.RateLimitIdle)
	}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("/health", s.handleHealth)

	// Dataset versions
	mux.HandleFunc("/v1/versions", s.handleVersions)

	// Cell lookup
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/search/advanced", s.handleAdvancedSearch)
	mux.HandleFunc("/v1/cells/", s.handleCell)

	// Connectivity
	mux.HandleFunc("/v1/connections", s.handleConnections)
	mux.HandleFunc("/v1/pathways", s.handlePathways)
	mux.HandleFunc("/v1/reachable", s.handleReachable)
	mux.HandleFunc("/v1/distance-matrix", s.handleDistanceMatrix)
	mux.HandleFunc("/v1/motifs", s.handleMotifs)

	// Stats
	mux.HandleFunc("/v1/stats", s.handleStats)

	if cfg.MCP.Enabled {
		path := cfg.MCP.Path
		if strings.TrimSpace(path) == "" {
			path = "/mcp"
		}
		if len(path) > 1 {
			path = strings.TrimRight(path, "/")
		}

		mcpHandler, err := mcpapi.NewHandler(mcpapi.Config{
			APIKey:         cfg.MCP.APIKey,
			Stateless:      cfg.MCP.Stateless,
			RateLimitRPS:   cfg.MCP.RateLimitRPS,
			RateLimitBurst: cfg.MCP.RateLimitBurst,
			EnablePrompts:  cfg.MCP.EnablePrompts,
			AllowedTools:   cfg.MCP.AllowedTools,
		}, newMCPBackend(s))
		if err != nil {
			log.Printf("⚠ MCP endpoint disabled: %v", err)
		} else {
			s.mcpPath = path
			mux.Handle(path, mcpHandler)
			log.Printf("MCP endpoint enabled at %s (stateless=%v)", path, cfg.MCP.Stateless)
		}
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withMiddleware adds common middleware (request id, CORS, rate limit,
// request body limit, logging).
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isMCPPath(r.URL.Path) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
			return
		}

		reqID := r.Header.Get(apierr.RequestIDHeader)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set(apierr.RequestIDHeader, reqID)

		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+VersionHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.limiter != nil && !s.limiter.allow(clientKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(s.limiter.retryAfter()))
			apierr.TooManyRequests(w, "rate limit exceeded")
			return
		}

		// Request body size limit
		if s.config.Server.MaxRequestBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxRequestBody)
		}

		w.Header().Set("Content-Type", "application/json")

		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v [%s]", r.Method, r.URL.Path, time.Since(start), reqID)
	})
}

func (s *Server) isMCPPath(path string) bool {
	if s.mcpPath == "" {
		return false
	}
	if path == s.mcpPath {
		return true
	}
	return strings.HasPrefix(path, s.mcpPath+"/")
}

// writeOperationError maps query errors to HTTP API errors and logs
// internal failures.
func (s *Server) writeOperationError(w http.ResponseWriter, err error) {
	status, _ := apierr.CodeFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	apierr.FromError(w, err)
}

func (s *Server) decodeJSONRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierr.PayloadTooLarge(w, err.Error())
			return false
		}
		apierr.InvalidJSON(w)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func clampPositive(value, fallback, maxValue int) int {
	if value <= 0 {
		value = fallback
	}
	if maxValue > 0 && value > maxValue {
		return maxValue
	}
	return value
}

func parsePositiveQueryInt(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// SetLifecycle records every dataset access with lm.
func (s *Server) SetLifecycle(lm *lifecycle.Manager) {
	s.lifecycle = lm
}

// dataset resolves and loads a version and records the access.
func (s *Server) dataset(ctx context.Context, version string) (*engine.Store, string, error) {
	ds, resolved, err := s.pool.Get(ctx, version)
	if err != nil {
		return nil, "", err
	}
	if s.lifecycle != nil {
		s.lifecycle.RecordActivity(resolved)
	}
	return ds, resolved, nil
}

func (s *Server) lifecycleStats() map[string]any {
	if s.lifecycle == nil {
		return nil
	}
	return s.lifecycle.Stats()
}

// Start starts the server.
func (s *Server) Start() error {
	log.Printf("🚀 codexdb API server starting on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// getVersion extracts the requested dataset version; "" means the default.
func (s *Server) getVersion(r *http.Request) string {
	// Header takes priority
	if v := r.Header.Get(VersionHeader); v != "" {
		return v
	}
	return r.URL.Query().Get("version")
}
