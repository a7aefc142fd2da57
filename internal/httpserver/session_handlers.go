package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/config"
	"github.com/fortistate/inspector/internal/core/domain"
)

type createSessionRequest struct {
	Role      string `json:"role"`
	ExpiresIn string `json:"expiresIn"`
	Label     string `json:"label"`
}

type createSessionResponse struct {
	Session   *domain.Session `json:"session"`
	Token     string          `json:"token"`
	TokenType string          `json:"tokenType"`
}

// handleSessionCreate implements POST /session/create. The required role
// depends on the request itself: minting an admin session requires an admin
// caller once any session exists, any creation requires at least editor once
// sessions are both demanded and present, and the very first session (or any
// creation in a no-auth deployment) is open — that bootstrap path is how a
// fresh install gets its initial admin.
func (rt *Router) handleSessionCreate(c echo.Context) error {
	var req createSessionRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}

	role := domain.ParseRole(req.Role)
	if role == domain.RoleNone {
		return c.String(http.StatusBadRequest, "role must be observer, editor, or admin")
	}

	required := domain.RoleObserver
	optional := true
	switch {
	case role == domain.RoleAdmin && rt.sessions.HasSessions():
		required, optional = domain.RoleAdmin, false
	case rt.requireSessions && rt.sessions.HasSessions():
		required, optional = domain.RoleEditor, false
	}

	callerToken := authz.ExtractToken(
		c.QueryParam("token"),
		c.Request().Header.Get("x-fortistate-token"),
		c.Request().Header.Get("Authorization"),
	)
	decision := rt.enforcer.Evaluate(callerToken, authz.CallOptions{
		RequiredRole: required,
		Optional:     optional,
		AllowsLegacy: true,
	})
	if !decision.OK {
		return c.String(decision.StatusCode, decision.Message)
	}
	auth := decision.Auth

	var ttlMs *int64
	if req.ExpiresIn != "" {
		d, err := config.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			return c.String(http.StatusBadRequest, "invalid expiresIn duration")
		}
		ms := d.Milliseconds()
		ttlMs = &ms
	}

	var issuedBy *uuid.UUID
	if auth.Session != nil {
		id := auth.Session.ID
		issuedBy = &id
	}

	sess, token, tokenType, err := rt.sessions.CreateSession(domain.CreateSessionParams{
		Role:      role,
		TTLMs:     ttlMs,
		Label:     req.Label,
		IssuedBy:  issuedBy,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return internalError(c, err)
	}

	rt.audit.Append("session:create", &sess.ID, &sess.Role, map[string]any{"via": auth.Via})
	return c.JSON(http.StatusOK, createSessionResponse{Session: sess, Token: token, TokenType: string(tokenType)})
}

type sessionCurrentResponse struct {
	Session         *domain.Session `json:"session"`
	RequireSessions bool            `json:"requireSessions"`
	HasSessions     bool            `json:"hasSessions"`
}

// handleSessionCurrent implements GET /session/current: observer,
// optional — anonymous callers get a null session rather than a 401.
func (rt *Router) handleSessionCurrent(c echo.Context) error {
	auth := authz.FromContext(c)
	return c.JSON(http.StatusOK, sessionCurrentResponse{
		Session:         auth.Session,
		RequireSessions: rt.requireSessions,
		HasSessions:     rt.sessions.HasSessions(),
	})
}

// handleSessionList implements GET /session/list: admin.
func (rt *Router) handleSessionList(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"sessions": rt.sessions.ListSessions()})
}

type revokeSessionRequest struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// handleSessionRevoke implements POST /session/revoke: admin.
func (rt *Router) handleSessionRevoke(c echo.Context) error {
	var req revokeSessionRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}

	var id uuid.UUID
	switch {
	case req.SessionID != "":
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid sessionId")
		}
		id = parsed
	case req.Token != "":
		ctx := rt.sessions.ValidateToken(req.Token)
		if ctx == nil {
			return c.String(http.StatusNotFound, "unknown token")
		}
		id = ctx.Session.ID
	default:
		return c.String(http.StatusBadRequest, "sessionId or token is required")
	}

	if !rt.sessions.RevokeSession(id) {
		return c.String(http.StatusNotFound, "session not found")
	}

	auth := authz.FromContext(c)
	rt.audit.Append("session:revoke", &id, nil, map[string]any{"by": auth.Via})
	return c.NoContent(http.StatusNoContent)
}
