// Package httpserver implements the inspector's HTTP surface: route
// registration, CORS, rate limiting, body-size/content-type enforcement,
// and the per-domain handlers backing every REST and SSE endpoint.
package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/fortistate/inspector/internal/audit"
	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/broadcast"
	"github.com/fortistate/inspector/internal/core/domain"
	"github.com/fortistate/inspector/internal/core/ports"
	"github.com/fortistate/inspector/internal/history"
	"github.com/fortistate/inspector/internal/httpserver/middleware"
	"github.com/fortistate/inspector/internal/presence"
	"github.com/fortistate/inspector/internal/remotestore"
	"github.com/fortistate/inspector/internal/session"
	"github.com/fortistate/inspector/internal/universe"
)

// Dependencies holds every collaborator the router's handlers call into.
type Dependencies struct {
	Sessions        *session.Store
	Enforcer        *authz.Enforcer
	Audit           *audit.Log
	Presence        *presence.Manager
	Stores          ports.StoreFactory
	Remote          *remotestore.Registry
	Hub             *broadcast.Hub
	Telemetry       *broadcast.TelemetryHub
	History         *history.Ring
	Universes       *universe.Registry
	Logger          *slog.Logger
	Root            string
	AllowOpen       bool
	RequireSessions bool
	AllowOrigin     string
}

// Router handles HTTP routing and handler registration for the inspector.
type Router struct {
	echo *echo.Echo

	sessions        *session.Store
	enforcer        *authz.Enforcer
	audit           *audit.Log
	presence        *presence.Manager
	stores          ports.StoreFactory
	remote          *remotestore.Registry
	hub             *broadcast.Hub
	telemetry       *broadcast.TelemetryHub
	history         *history.Ring
	universes       *universe.Registry
	logger          *slog.Logger
	root            string
	allowOpen       bool
	requireSessions bool

	cors        corsPolicy
	rateLimiter *middleware.RateLimiter
	wsHandler   echo.HandlerFunc
}

// NewRouter creates a new Router instance.
func NewRouter(e *echo.Echo, deps Dependencies) (*Router, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Router{
		echo:            e,
		sessions:        deps.Sessions,
		enforcer:        deps.Enforcer,
		audit:           deps.Audit,
		presence:        deps.Presence,
		stores:          deps.Stores,
		remote:          deps.Remote,
		hub:             deps.Hub,
		telemetry:       deps.Telemetry,
		history:         deps.History,
		universes:       deps.Universes,
		logger:          logger,
		root:            deps.Root,
		allowOpen:       deps.AllowOpen,
		requireSessions: deps.RequireSessions,
		cors:            newCORSPolicy(deps.AllowOrigin),
		rateLimiter:     middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
	}

	return rt, nil
}

// Stop releases the router's background resources (the rate limiter's
// cleanup goroutine).
func (rt *Router) Stop() {
	rt.rateLimiter.Stop()
}

// RegisterRoutes registers all HTTP routes.
func (rt *Router) RegisterRoutes() {
	e := rt.echo

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(rt.logger))
	e.Use(middleware.SecureHeaders())
	e.Use(corsMiddleware(rt.cors))
	e.Use(rt.rateLimiter.Middleware())
	e.Use(middleware.RequireJSONContentType())

	observer := rt.enforcer.Middleware(authz.CallOptions{RequiredRole: domain.RoleObserver, Optional: true})
	editor := rt.enforcer.Middleware(authz.CallOptions{RequiredRole: domain.RoleEditor, AllowsLegacy: true})
	admin := rt.enforcer.Middleware(authz.CallOptions{RequiredRole: domain.RoleAdmin, AllowsLegacy: true})

	e.GET("/", rt.handleIndex)
	e.GET("/debug", rt.handleDebug, admin)

	e.GET("/ws", rt.handleWebSocket)

	// Observation endpoints: a presented session token must carry at least
	// the observer role, but no token is ever demanded — anonymous callers
	// pass whether or not sessions are required or already exist.
	e.GET("/remote-stores", rt.handleRemoteStores, observer)
	e.GET("/history", rt.handleHistory, observer)
	e.GET("/presets", rt.handlePresets, observer)
	e.GET("/presence", rt.handlePresence, observer)
	e.GET("/telemetry/stream", rt.handleTelemetryStream, observer)
	e.GET("/api/universes", rt.handleUniverseList, observer)
	e.GET("/api/universes/:id/versions/:vid", rt.handleUniverseVersion, observer)
	e.GET("/session/current", rt.handleSessionCurrent, observer)

	// Mutating endpoints: editor role required (the legacy shared secret is
	// also accepted and evaluates as admin).
	e.POST("/register", rt.handleRegister, editor)
	e.POST("/change", rt.handleChange, editor)
	e.POST("/apply-preset", rt.handleApplyPreset, editor)
	e.POST("/duplicate-store", rt.handleDuplicateStore, editor)
	e.POST("/swap-stores", rt.handleSwapStores, editor)
	e.POST("/move-store", rt.handleMoveStore, editor)
	e.POST("/open-source", rt.handleOpenSource, admin)
	e.GET("/locate-source", rt.handleLocateSource, admin)
	e.POST("/api/universes", rt.handleUniverseCreate, editor)
	e.POST("/api/universes/:id/versions", rt.handleUniverseCreateVersion, editor)
	e.POST("/api/universes/:id/launch", rt.handleUniverseLaunch, editor)
	e.DELETE("/api/universes/:id", rt.handleUniverseDelete, editor)

	// Session and audit administration. /session/create enforces its own
	// gate: the required role depends on the requested role and on whether
	// any session exists yet, which only the handler can see after reading
	// the body.
	e.POST("/session/create", rt.handleSessionCreate)
	e.GET("/session/list", rt.handleSessionList, admin)
	e.POST("/session/revoke", rt.handleSessionRevoke, admin)
	e.GET("/audit/log", rt.handleAuditLog, admin)

	// Dev-only token helper, gated separately by FORTISTATE_INSPECTOR_ALLOW_OPEN
	// for the open-source handler and always available for set-token since it
	// only ever manages the local convenience file.
	e.GET("/set-token", rt.handleSetTokenGet, admin)
	e.POST("/set-token", rt.handleSetTokenPost, admin)
}

// handleWebSocket is wired up by engine.go once the WebSocket Gateway
// (internal/wsgateway) is constructed; see SetWebSocketHandler.
func (rt *Router) handleWebSocket(c echo.Context) error {
	if rt.wsHandler == nil {
		return c.NoContent(501)
	}
	return rt.wsHandler(c)
}

// SetWebSocketHandler installs the WebSocket Gateway's Handle method. It is
// a separate setter (rather than a Dependencies field) because the gateway
// itself depends on this router's collaborators being constructed first —
// engine.go builds both and wires them together.
func (rt *Router) SetWebSocketHandler(h echo.HandlerFunc) {
	rt.wsHandler = h
}
