package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/conductor/pkg/version"
)

// SystemHealthResponse is the detailed health report.
type SystemHealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ActiveSessions    int    `json:"active_sessions"`
	ActiveConnections int    `json:"active_connections"`
	ConnectionLimit   int    `json:"connection_limit_per_user"`
}

// livenessHandler handles GET /healthz.
// Minimal unauthenticated probe: the process is up and serving.
func (s *Server) livenessHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// healthHandler handles GET /api/v1/system/health.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &SystemHealthResponse{
		Status:            "healthy",
		Version:           version.GitCommit,
		ActiveSessions:    s.sessions.ActiveSessions(),
		ActiveConnections: s.registry.TotalActive(),
		ConnectionLimit:   s.registry.Limit(),
	})
}
