package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecureHeaders adds security-related HTTP headers to responses. When hsts
// is true, Strict-Transport-Security is also set (for deployments fronted by
// HTTPS, e.g. behind a dev proxy with TLS).
//
// The inspector's static shell (static_handlers.go) has no inline scripts
// and loads no third-party assets, so a single fixed CSP covers every
// route — there's no SPA-vs-template split and no nonce to plumb through.
func SecureHeaders(hsts ...bool) echo.MiddlewareFunc {
	enableHSTS := len(hsts) > 0 && hsts[0]

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			h.Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self'; "+
					"style-src 'self' 'unsafe-inline'; "+
					"img-src 'self' data:; "+
					"connect-src 'self' ws: wss:")

			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")

			if enableHSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			return next(c)
		}
	}
}
