// Package api is the HTTP surface of the gateway: the MCP endpoints, the
// websocket upgrade and the health/readiness probes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/agentos-labs/agentos/pkg/agent"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/config"
	"github.com/agentos-labs/agentos/pkg/events"
)

// HealthChecker reports the health of one dependency.
type HealthChecker func(ctx context.Context) error

// Deps bundles everything the server needs.
type Deps struct {
	Config   *config.Config
	Registry *agent.Registry
	Manager  *events.ConnectionManager
	Verifier *auth.Verifier
	// Dependency health checks keyed by name, probed by /status.
	Health map[string]HealthChecker
}

// Server is the HTTP gateway.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	http   *http.Server
	deps   Deps
}

// NewServer builds the router with the full middleware chain.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(traceMiddleware())
	engine.Use(requestLogMiddleware())

	corsCfg := cors.DefaultConfig()
	if len(deps.Config.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = deps.Config.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", csrfHeaderName)
	corsCfg.AllowCredentials = !corsCfg.AllowAllOrigins
	engine.Use(cors.New(corsCfg))

	s := &Server{cfg: deps.Config, engine: engine, deps: deps}

	engine.GET("/health", s.handleHealth)
	engine.GET("/status", s.handleStatus)
	engine.GET("/ws", authMiddleware(deps.Verifier), s.handleWS)

	limiter := newRateLimiter(deps.Config.RateLimit.PerSecond(), deps.Config.RateLimit.Count)

	v1 := engine.Group("/api/v1/mcp")
	v1.Use(rateLimitMiddleware(limiter))
	v1.Use(authMiddleware(deps.Verifier))
	v1.GET("/tools", csrfMiddleware(deps.Config.CSRFEnabled), s.handleTools)
	v1.POST("/exec", s.handleExec)
	v1.POST("/execute", csrfMiddleware(deps.Config.CSRFEnabled), s.handleExecute)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server until ctx is cancelled, then drains with a
// 10 second grace period.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}
