// Package server provides the HTTP surface for the Engram memory service:
// store/query/clarify operations, read-only listing and export, admin cache
// controls, Prometheus metrics, and a WebSocket event feed.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/metrics"
)

const (
	serviceName    = "engram"
	serviceVersion = "1.0.0"
)

// Server hosts the HTTP API on top of a MemoryEngine.
type Server struct {
	cfg        *config.Config
	engine     *engine.MemoryEngine
	hub        *EventHub
	keys       apiKeys
	limiter    *engine.RateLimiter
	httpServer *http.Server
}

// New wires the engine into an HTTP server. The event hub is started by
// Start and stopped by Shutdown.
func New(cfg *config.Config, eng *engine.MemoryEngine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		keys:   parseAPIKeys(cfg.Security.APIKeys),
		limiter: engine.NewRateLimiter(
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
			cfg.RateLimit.MaxRequests,
		),
	}
	if cfg.Features.EnableEvents {
		s.hub = NewEventHub()
	}
	return s
}

// publish broadcasts an event when the feed is enabled.
func (s *Server) publish(event Event) {
	if s.hub != nil {
		s.hub.Publish(event)
	}
}

// routes builds the full handler chain. Order of the outer middleware:
// security headers, optional global limiter, metrics. API routes
// additionally pass authentication and the per-caller window limiter.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	api := func(h http.HandlerFunc) http.Handler {
		return requireAuth(rateLimitMiddleware(h, s.limiter), s.keys)
	}

	mux.Handle("POST /api/v1/store", api(s.handleStore))
	mux.Handle("POST /api/v1/query", api(s.handleQuery))
	mux.Handle("POST /api/v1/clarify", api(s.handleClarify))
	mux.Handle("POST /api/v1/cancel", api(s.handleCancel))
	mux.Handle("POST /api/v1/update", api(s.handleUpdate))
	mux.Handle("POST /api/v1/delete", api(s.handleDelete))
	mux.Handle("POST /api/v1/auto", api(s.handleAuto))
	mux.Handle("GET /api/v1/memories", api(s.handleListMemories))
	mux.Handle("GET /api/v1/memories/{id}", api(s.handleGetMemory))
	mux.Handle("GET /api/v1/export", api(s.handleExport))
	mux.Handle("GET /api/v1/admin/cache/stats", api(s.handleCacheStats))
	mux.Handle("POST /api/v1/admin/cache/clear", api(s.handleCacheClear))

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Features.EnableMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.handleWebSocket)
	}

	var global *rate.Limiter
	if s.cfg.RateLimit.GlobalPerSec > 0 {
		global = rate.NewLimiter(rate.Limit(s.cfg.RateLimit.GlobalPerSec), s.cfg.RateLimit.GlobalBurst)
	}

	handler := metrics.Middleware(mux)
	handler = globalLimitMiddleware(handler, global)
	handler = securityHeadersMiddleware(handler)
	return handler
}

// Start begins listening and serving. Returns the actual listen address,
// useful with port 0 in tests. Serving happens on a background goroutine.
func (s *Server) Start(ctx context.Context) (string, error) {
	if s.hub != nil {
		go s.hub.Run()
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: HTTP server stopped: %v", err)
		}
	}()

	log.Printf("engram listening on %s", listener.Addr())
	return listener.Addr().String(), nil
}

// Shutdown drains in-flight requests and stops the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler {
	if s.hub != nil {
		go s.hub.Run()
	}
	return s.routes()
}
