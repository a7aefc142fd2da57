// Package presence tracks connected WebSocket peers and their
// cursor/active-store metadata, and owns the join/update/leave broadcast
// hooks. Entries are keyed by the per-connection peer id.
package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortistate/inspector/internal/core/domain"
)

// Broadcaster is the narrow interface PresenceManager needs from the
// BroadcastHub, kept separate to avoid an import cycle between the two
// packages.
type Broadcaster interface {
	BroadcastExcept(except uuid.UUID, message any)
	SendTo(peer uuid.UUID, message any) bool
}

// Update is a partial presence update.
type Update struct {
	ActiveStore *string
	CursorPath  []any
}

// Manager is the PresenceManager.
type Manager struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.PresenceUser

	broadcaster Broadcaster
	guestSeq    int
}

// New constructs a Manager. broadcaster may be nil for tests that only
// exercise bookkeeping.
func New(broadcaster Broadcaster) *Manager {
	return &Manager{
		users:       make(map[uuid.UUID]*domain.PresenceUser),
		broadcaster: broadcaster,
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// displayName derives what other peers see: "label (role)" when the session
// is labeled, "role <first 8 of session id>" when it isn't, and a numbered
// guest name for anonymous connections.
func displayName(sessCtx *domain.SessionContext, guestSeq *int) string {
	if sessCtx != nil {
		sess := sessCtx.Session
		if sess.Label != "" {
			return fmt.Sprintf("%s (%s)", sess.Label, sess.Role.String())
		}
		if sess.Role != domain.RoleNone {
			return fmt.Sprintf("%s %s", sess.Role.String(), sess.ID.String()[:8])
		}
	}
	*guestSeq++
	return fmt.Sprintf("Guest %d", *guestSeq)
}

// Add registers peer and returns its PresenceUser, broadcasting
// presence:join to everyone else and sending presence:init to peer itself.
func (m *Manager) Add(peer uuid.UUID, sessCtx *domain.SessionContext, remoteAddress *string) *domain.PresenceUser {
	m.mu.Lock()

	var sessionID *uuid.UUID
	role := domain.RoleNone
	if sessCtx != nil {
		id := sessCtx.Session.ID
		sessionID = &id
		role = sessCtx.Session.Role
	}

	now := nowMs()
	user := &domain.PresenceUser{
		SessionID:     sessionID,
		DisplayName:   displayName(sessCtx, &m.guestSeq),
		Role:          role,
		ConnectedAt:   now,
		LastActivity:  now,
		ActiveStore:   nil,
		CursorPath:    nil,
		RemoteAddress: remoteAddress,
	}
	m.users[peer] = user

	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.BroadcastExcept(peer, map[string]any{"type": "presence:join", "user": user})
		m.broadcaster.SendTo(peer, map[string]any{"type": "presence:init", "users": snapshot})
	}

	return user
}

// Update applies a partial update and touches lastActivity, broadcasting
// presence:update.
func (m *Manager) Update(peer uuid.UUID, upd Update) {
	m.mu.Lock()
	user, ok := m.users[peer]
	if !ok {
		m.mu.Unlock()
		return
	}
	if upd.ActiveStore != nil {
		user.ActiveStore = upd.ActiveStore
	}
	if upd.CursorPath != nil {
		user.CursorPath = upd.CursorPath
	}
	user.LastActivity = nowMs()
	sessionID := user.SessionID
	activeStore := user.ActiveStore
	cursorPath := user.CursorPath
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.BroadcastExcept(peer, map[string]any{
			"type":        "presence:update",
			"sessionId":   sessionID,
			"activeStore": activeStore,
			"cursorPath":  cursorPath,
		})
	}
}

// Touch records a heartbeat for peer.
func (m *Manager) Touch(peer uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[peer]; ok {
		user.LastActivity = nowMs()
	}
}

// Remove drops peer and broadcasts presence:leave.
func (m *Manager) Remove(peer uuid.UUID) {
	m.mu.Lock()
	user, ok := m.users[peer]
	if ok {
		delete(m.users, peer)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastExcept(peer, map[string]any{
			"type":      "presence:leave",
			"sessionId": user.SessionID,
		})
	}
}

// GetAll returns a snapshot of every connected peer's PresenceUser.
func (m *Manager) GetAll() []*domain.PresenceUser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []*domain.PresenceUser {
	out := make([]*domain.PresenceUser, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

// Count returns the number of connected peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// RemoveIdleUsers drops every peer whose lastActivity is older than
// maxIdleMs and returns their ids, so the gateway can also close their
// sockets.
func (m *Manager) RemoveIdleUsers(maxIdleMs int64) []uuid.UUID {
	cutoff := nowMs() - maxIdleMs

	m.mu.Lock()
	var idle []uuid.UUID
	for peer, user := range m.users {
		if user.LastActivity < cutoff {
			idle = append(idle, peer)
		}
	}
	m.mu.Unlock()

	for _, peer := range idle {
		m.Remove(peer)
	}
	return idle
}
