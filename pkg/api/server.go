// Package api exposes the HTTP surface: the WebSocket endpoint, health
// probes, and Prometheus metrics.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/registry"
	"github.com/codeready-toolchain/conductor/pkg/session"
)

// Server is the HTTP server fronting the session manager.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	registry *registry.Registry
	gatherer prometheus.Gatherer
	auth     Authenticator

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer creates the HTTP server and wires all routes. gatherer may be
// nil to disable the /metrics endpoint.
func NewServer(
	cfg *config.Config,
	sessions *session.Manager,
	reg *registry.Registry,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		registry: reg,
		gatherer: gatherer,
		auth:     proxyHeaderAuthenticator{},
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/ws", s.wsHandler)
	e.GET("/healthz", s.livenessHandler)
	e.GET("/api/v1/system/health", s.healthHandler)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	s.echo = e
	return s
}

// SetAuthenticator replaces the default proxy-header authenticator.
// Called once during startup, before Start.
func (s *Server) SetAuthenticator(a Authenticator) {
	s.auth = a
}

// Start listens on addr and serves until Shutdown. Blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown closes every live session, then stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Shutdown(ctx)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
