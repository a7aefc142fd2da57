package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireJSONContentType returns middleware that rejects POST requests
// carrying a body whose Content-Type is not application/json. GET, DELETE,
// HEAD, and OPTIONS are always allowed through, as is any request with no
// body (Content-Length 0 or absent) — the inspector's JSON body reader
// already treats an empty body as `{}`.
func RequireJSONContentType() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodPost {
				return next(c)
			}
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			ct := c.Request().Header.Get(echo.HeaderContentType)
			if !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
				return c.String(http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			}
			return next(c)
		}
	}
}
