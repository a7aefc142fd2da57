package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// corsPolicy configures the CORS helper.
type corsPolicy struct {
	// AllowOrigin is either "*", a comma-separated allowlist, or empty (no
	// CORS headers beyond echoing the caller's own origin).
	AllowOrigin string
}

func newCORSPolicy(allowOrigin string) corsPolicy {
	return corsPolicy{AllowOrigin: strings.TrimSpace(allowOrigin)}
}

func (p corsPolicy) allowedOrigin(requestOrigin string) (origin string, echoed bool) {
	if p.AllowOrigin == "*" {
		return "*", false
	}
	if p.AllowOrigin == "" {
		if requestOrigin == "" {
			return "", false
		}
		return requestOrigin, true
	}
	for _, allowed := range strings.Split(p.AllowOrigin, ",") {
		if strings.EqualFold(strings.TrimSpace(allowed), requestOrigin) {
			return requestOrigin, true
		}
	}
	return "", false
}

// apply sets the CORS response headers for one request.
func (p corsPolicy) apply(c echo.Context) {
	header := c.Response().Header()
	origin, echoed := p.allowedOrigin(c.Request().Header.Get("Origin"))
	if origin == "" {
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
	if echoed {
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Set("Vary", "Origin")
	}
	header.Set("Access-Control-Allow-Headers", "Content-Type, x-fortistate-token, Authorization")
	header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
}

// corsMiddleware applies the CORS headers to every response and answers
// preflight OPTIONS requests with 204 and no body.
func corsMiddleware(policy corsPolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			policy.apply(c)
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}
