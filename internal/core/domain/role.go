// Package domain holds the data model shared by every inspector component:
// sessions, remote-store entries, presence users, audit/telemetry/history
// entries, and universes.
package domain

import "encoding/json"

// Role is the total-ordered authorization level of a session or legacy caller.
type Role int

const (
	// RoleNone marks an unauthenticated/anonymous caller.
	RoleNone Role = iota
	RoleObserver
	RoleEditor
	RoleAdmin
)

// String renders the role for persistence and audit entries.
func (r Role) String() string {
	switch r {
	case RoleObserver:
		return "observer"
	case RoleEditor:
		return "editor"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// ParseRole converts a persisted/wire role string back into a Role.
// Unknown strings resolve to RoleNone so a stale or forged label never
// grants more than anonymous access.
func ParseRole(s string) Role {
	switch s {
	case "observer":
		return RoleObserver
	case "editor":
		return RoleEditor
	case "admin":
		return RoleAdmin
	default:
		return RoleNone
	}
}

// Allows reports whether a caller holding r may perform an action that
// requires at least the `required` role.
func (r Role) Allows(required Role) bool {
	return r >= required
}

// MarshalJSON encodes Role as its wire string ("observer", "editor",
// "admin", "none") rather than the underlying int, keeping wire frames and
// persisted session/audit files human-readable.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON reverses MarshalJSON via ParseRole; an unrecognized string
// decodes to RoleNone rather than erroring, consistent with ParseRole's
// fail-safe behavior for forged/stale labels.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseRole(s)
	return nil
}
