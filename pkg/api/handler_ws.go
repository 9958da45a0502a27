package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and hands them to the
// session manager. Admission against the per-user limit happens inside
// HandleConnection; an over-limit connection is upgraded, then closed with a
// policy close code.
func (s *Server) wsHandler(c *echo.Context) error {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedWSOrigins
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// Blocks until the WebSocket closes.
	s.sessions.HandleConnection(c.Request().Context(), conn, s.auth.Authenticate(c).UserID)
	return nil
}
