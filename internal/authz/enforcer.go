// Package authz implements role enforcement: credential extraction,
// legacy-token and session-token evaluation, and the echo middleware that
// gates every mutating and administrative route.
package authz

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fortistate/inspector/internal/core/domain"
	"github.com/fortistate/inspector/internal/session"
)

// AuthInfoKey is the echo context key a Decision's AuthInfo is cached under,
// so downstream handlers never re-parse credentials.
const AuthInfoKey = "fortistate_auth_info"

// AuthInfo is what a successful (or anonymous-allowed) evaluation yields to
// handlers.
type AuthInfo struct {
	Session *domain.Session
	Role    domain.Role
	Via     string // "session", "legacy-token", or "anonymous"
}

// Decision is Evaluate's result.
type Decision struct {
	OK         bool
	StatusCode int
	Reason     string
	Message    string
	Auth       AuthInfo
}

// CallOptions configures one call's evaluation.
type CallOptions struct {
	RequiredRole domain.Role
	Optional     bool // never demands a session or the legacy token: an absent or unrecognized token evaluates as anonymous
	AllowsLegacy bool
}

// Enforcer resolves bearer credentials to roles and decides allow/deny per
// call.
type Enforcer struct {
	sessions        *session.Store
	legacyToken     string
	requireSessions bool
}

// New builds an Enforcer. legacyToken may be empty (no legacy fallback
// configured).
func New(sessions *session.Store, legacyToken string, requireSessions bool) *Enforcer {
	return &Enforcer{sessions: sessions, legacyToken: legacyToken, requireSessions: requireSessions}
}

// ExtractToken resolves the caller's credential, preferring an explicit
// query token, then the x-fortistate-token header, then Authorization:
// Bearer. Results are trimmed; empty is treated as absent.
func ExtractToken(queryToken, headerToken, authorizationHeader string) string {
	if t := strings.TrimSpace(queryToken); t != "" {
		return t
	}
	if t := strings.TrimSpace(headerToken); t != "" {
		return t
	}
	const prefix = "Bearer "
	trimmed := strings.TrimSpace(authorizationHeader)
	if strings.HasPrefix(trimmed, prefix) {
		if t := strings.TrimSpace(trimmed[len(prefix):]); t != "" {
			return t
		}
	}
	return ""
}

// Evaluate decides one call: legacy token first, then session token with a
// role check, then the session/legacy requirements, then anonymous.
func (e *Enforcer) Evaluate(token string, opts CallOptions) Decision {
	if e.legacyToken != "" && token != "" && opts.AllowsLegacy && constantTimeEqual(token, e.legacyToken) {
		return Decision{
			OK:   true,
			Auth: AuthInfo{Role: domain.RoleAdmin, Via: "legacy-token"},
		}
	}

	if ctx := e.sessions.ValidateToken(token); ctx != nil {
		if !e.sessions.CanAct(ctx.Session.Role, opts.RequiredRole) {
			return Decision{
				OK:         false,
				StatusCode: http.StatusForbidden,
				Reason:     "insufficient-role",
				Message:    "insufficient role for this action",
			}
		}
		return Decision{
			OK:   true,
			Auth: AuthInfo{Session: ctx.Session, Role: ctx.Session.Role, Via: "session"},
		}
	}

	if e.legacyToken != "" && !opts.Optional {
		return Decision{
			OK:         false,
			StatusCode: http.StatusUnauthorized,
			Reason:     "legacy-token-required",
			Message:    "a valid token is required",
		}
	}

	// A non-optional call needs a session once the process demands them or
	// once any session exists at all — creating the first session locks
	// anonymous callers out of every mutating endpoint.
	requireSession := !opts.Optional && (e.requireSessions || e.sessions.HasSessions())
	if requireSession {
		return Decision{
			OK:         false,
			StatusCode: http.StatusUnauthorized,
			Reason:     "session-required",
			Message:    "a valid session is required",
		}
	}

	return Decision{OK: true, Auth: AuthInfo{Role: domain.RoleNone, Via: "anonymous"}}
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Middleware returns echo middleware that evaluates opts against the
// request's credentials and writes the status and a short plain-text body
// on deny.
func (e *Enforcer) Middleware(opts CallOptions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			token := ExtractToken(
				c.QueryParam("token"),
				req.Header.Get("x-fortistate-token"),
				req.Header.Get("Authorization"),
			)

			decision := e.Evaluate(token, opts)
			if !decision.OK {
				return c.String(decision.StatusCode, decision.Message)
			}

			c.Set(AuthInfoKey, decision.Auth)
			return next(c)
		}
	}
}

// FromContext retrieves the AuthInfo cached by Middleware.
func FromContext(c echo.Context) AuthInfo {
	if v, ok := c.Get(AuthInfoKey).(AuthInfo); ok {
		return v
	}
	return AuthInfo{Role: domain.RoleNone, Via: "anonymous"}
}

// WebSocket close codes for the equivalent decision applied to an upgrade
// request: 4401 unauthorized, 4403 forbidden role or origin.
const (
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
)

// CloseCodeFor maps a denied Decision's status code onto the WS close code
// the gateway should use.
func CloseCodeFor(decision Decision) int {
	if decision.StatusCode == http.StatusForbidden {
		return CloseForbidden
	}
	return CloseUnauthorized
}
