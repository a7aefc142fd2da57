// Package wsgateway implements the WebSocket gateway: upgrade, origin
// policy, role enforcement, the hello/snapshot/presence-init seed sequence,
// inbound message dispatch, and close-time cleanup. The read/write pumps
// live in internal/broadcast.Peer.
package wsgateway

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fortistate/inspector/internal/audit"
	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/broadcast"
	"github.com/fortistate/inspector/internal/core/domain"
	"github.com/fortistate/inspector/internal/core/ports"
	"github.com/fortistate/inspector/internal/metrics"
	"github.com/fortistate/inspector/internal/presence"
	"github.com/fortistate/inspector/internal/remotestore"
)

const writeWait = 10 * time.Second

// OriginPolicy configures the origin check applied after upgrade.
type OriginPolicy struct {
	AllowList []string // empty means "no allowlist configured"
	Strict    bool
}

func (p OriginPolicy) allowed(origin string) bool {
	if len(p.AllowList) == 0 {
		return true
	}
	if origin == "" {
		return !p.Strict
	}
	for _, allowed := range p.AllowList {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Gateway is the WebSocket Gateway.
type Gateway struct {
	hub       *broadcast.Hub
	enforcer  *authz.Enforcer
	presence  *presence.Manager
	stores    ports.StoreFactory
	remote    *remotestore.Registry
	auditLog  *audit.Log
	metrics   *metrics.Registry
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	origin    OriginPolicy
	optionalF func() bool // whether the observer requirement may relax to anonymous, per connect
}

// Deps bundles every collaborator the gateway needs.
type Deps struct {
	Hub      *broadcast.Hub
	Enforcer *authz.Enforcer
	Presence *presence.Manager
	Stores   ports.StoreFactory
	Remote   *remotestore.Registry
	Audit    *audit.Log
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	Origin   OriginPolicy
	// Optional reports whether the observer requirement for this connect
	// may be relaxed to anonymous: no sessions demanded or on record, or
	// anonymous observers explicitly allowed.
	Optional func() bool
}

// New constructs a Gateway.
func New(d Deps) *Gateway {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	optional := d.Optional
	if optional == nil {
		optional = func() bool { return true }
	}
	return &Gateway{
		hub:      d.Hub,
		enforcer: d.Enforcer,
		presence: d.Presence,
		stores:   d.Stores,
		remote:   d.Remote,
		auditLog: d.Audit,
		metrics:  d.Metrics,
		logger:   logger,
		origin:   d.Origin,
		// CheckOrigin always accepts at the HTTP-upgrade layer: origin
		// policy is enforced ourselves, after upgrading, so a denial can
		// use the 4401/4403 close codes instead of a pre-upgrade HTTP
		// status.
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		optionalF: optional,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Handle upgrades one HTTP request to a WebSocket connection, enforces the
// observer requirement and origin policy, and seeds the new peer.
func (g *Gateway) Handle(c echo.Context) error {
	req := c.Request()
	token := authz.ExtractToken(
		firstNonEmpty(c.QueryParam("token"), c.QueryParam("sessionToken"), c.QueryParam("accessToken")),
		req.Header.Get("x-fortistate-token"),
		req.Header.Get("Authorization"),
	)

	decision := g.enforcer.Evaluate(token, authz.CallOptions{
		RequiredRole: domain.RoleObserver,
		Optional:     g.optionalF(),
		AllowsLegacy: true,
	})
	if g.metrics != nil {
		g.metrics.RecordAuth(decision.Auth.Via, decision.OK)
	}

	conn, err := g.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		return err
	}

	if !decision.OK {
		g.denyAndClose(conn, authz.CloseCodeFor(decision), decision.Reason, decision.Message)
		return nil
	}

	origin := req.Header.Get("Origin")
	if !g.origin.allowed(origin) {
		g.denyAndClose(conn, authz.CloseForbidden, "origin-rejected", "origin not allowed")
		return nil
	}

	g.accept(conn, req, decision.Auth)
	return nil
}

func (g *Gateway) denyAndClose(conn *websocket.Conn, code int, reason, message string) {
	g.auditLog.Append("ws:connect", nil, nil, map[string]any{"success": false, "reason": reason})
	msg := websocket.FormatCloseMessage(code, message)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

func (g *Gateway) accept(conn *websocket.Conn, req *http.Request, auth authz.AuthInfo) {
	peerID := uuid.New()

	var sessCtx *domain.SessionContext
	if auth.Session != nil {
		sessCtx = &domain.SessionContext{Session: auth.Session}
	}

	peer := broadcast.NewPeer(g.hub, conn, peerID, g.logger, g.onInbound)
	peer.SetOnClose(func() { g.onPeerClosed(peer) })
	g.hub.Register(peer)
	peer.Start()

	remoteAddr := req.RemoteAddr
	g.auditLog.Append("ws:connect", sessionIDOf(auth), roleOf(auth), map[string]any{"success": true, "via": auth.Via})

	peer.Send(map[string]any{"type": "hello", "version": 1})
	peer.Send(map[string]any{"type": "snapshot", "stores": g.snapshot()})

	// presence.Add sends presence:init directly to this peer (already
	// registered above) and broadcasts presence:join to everyone else,
	// landing it after the snapshot.
	g.presence.Add(peerID, sessCtx, &remoteAddr)
}

func sessionIDOf(auth authz.AuthInfo) *uuid.UUID {
	if auth.Session == nil {
		return nil
	}
	id := auth.Session.ID
	return &id
}

func roleOf(auth authz.AuthInfo) *domain.Role {
	role := auth.Role
	return &role
}

// snapshot merges the live store primitive over the persisted remote-store
// mirror.
func (g *Gateway) snapshot() map[string]any {
	out := make(map[string]any)
	if g.remote != nil {
		for k, v := range g.remote.All() {
			out[k] = v
		}
	}
	if g.stores != nil {
		for _, key := range g.stores.Keys() {
			if store, ok := g.stores.Get(key); ok {
				out[key] = store.Get()
			}
		}
	}
	return out
}

// onInbound dispatches one decoded client-to-server frame: req:snapshot
// resend, presence:update, presence:ping. Anything else is silently
// ignored.
func (g *Gateway) onInbound(peer *broadcast.Peer, frame map[string]any) {
	switch frame["type"] {
	case "req:snapshot":
		peer.Send(map[string]any{"type": "snapshot", "stores": g.snapshot()})
	case "presence:update":
		g.presence.Update(peer.ID, presenceUpdateFromFrame(frame))
	case "presence:ping":
		g.presence.Touch(peer.ID)
	}
}

func presenceUpdateFromFrame(frame map[string]any) presence.Update {
	var upd presence.Update
	if v, ok := frame["activeStore"]; ok {
		if s, ok := v.(string); ok {
			upd.ActiveStore = &s
		}
	}
	if v, ok := frame["cursorPath"]; ok {
		if path, ok := v.([]any); ok {
			upd.CursorPath = path
		}
	}
	return upd
}

// onPeerClosed runs once peer's underlying connection is gone for any
// reason: presence removal (which broadcasts the leave) plus the
// ws:disconnect audit entry.
func (g *Gateway) onPeerClosed(peer *broadcast.Peer) {
	g.presence.Remove(peer.ID)
	g.auditLog.Append("ws:disconnect", nil, nil, map[string]any{
		"code":   peer.CloseCode,
		"reason": peer.CloseReason,
	})
}
