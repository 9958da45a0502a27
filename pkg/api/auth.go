package api

import (
	echo "github.com/labstack/echo/v5"
)

// Identity is the authenticated caller of a request. The per-user
// connection limit keys on UserID, so an unauthenticated deployment shares
// one "anonymous" budget across all clients.
type Identity struct {
	UserID string
}

// Authenticator resolves the caller identity for a request. Token
// validation is the fronting proxy's job; implementations only map what
// the proxy asserted into an Identity.
type Authenticator interface {
	Authenticate(c *echo.Context) Identity
}

// proxyHeaderAuthenticator reads the identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "anonymous"
type proxyHeaderAuthenticator struct{}

func (proxyHeaderAuthenticator) Authenticate(c *echo.Context) Identity {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return Identity{UserID: user}
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return Identity{UserID: email}
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return Identity{UserID: user}
	}
	return Identity{UserID: "anonymous"}
}
