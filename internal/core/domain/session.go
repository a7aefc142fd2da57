package domain

import (
	"github.com/google/uuid"
)

// Session is the server-side identity of an authenticated caller.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Role      Role       `json:"role"`
	CreatedAt int64      `json:"createdAt"` // ms since epoch
	ExpiresAt *int64     `json:"expiresAt,omitempty"`
	Label     string     `json:"label,omitempty"`
	IssuedBy  *uuid.UUID `json:"issuedBy,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"userAgent,omitempty"`
}

// IsExpired reports whether the session has a deadline and it has passed.
func (s *Session) IsExpired(nowMs int64) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return nowMs >= *s.ExpiresAt
}

// TokenType distinguishes the two bearer-credential representations
// SessionStore can mint.
type TokenType string

const (
	TokenTypeOpaque TokenType = "opaque"
	TokenTypeJWT    TokenType = "jwt"
)

// CreateSessionParams configures SessionStore.CreateSession.
type CreateSessionParams struct {
	Role      Role
	TTLMs     *int64 // nil means "use the store default"; a negative/zero value is rejected by the caller layer
	Label     string
	IssuedBy  *uuid.UUID
	IP        string
	UserAgent string
}

// SessionContext is what RoleEnforcer and handlers receive from a validated
// token: the underlying session plus which credential form produced it.
type SessionContext struct {
	Session   *Session
	TokenType TokenType
}
