package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// AuditEntry is an append-only record of one accepted action.
type AuditEntry struct {
	Time      int64          `json:"time"`
	Action    string         `json:"action"`
	SessionID *uuid.UUID     `json:"sessionId,omitempty"`
	Role      *Role          `json:"role,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// TelemetryEntry is an opaque JSON object the core only buffers and fans out.
type TelemetryEntry = map[string]any

// HistoryEntry records one accepted mutation for the bounded replay log.
type HistoryEntry struct {
	Action string         `json:"action"`
	Ts     int64          `json:"ts"`
	Extra  map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside action/ts instead of nesting it
// under a key.
func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Extra)+2)
	for k, v := range h.Extra {
		out[k] = v
	}
	out["action"] = h.Action
	out["ts"] = h.Ts
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON: action and ts are lifted out, every
// other key is kept in Extra.
func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["action"]; ok {
		if err := json.Unmarshal(v, &h.Action); err != nil {
			return err
		}
		delete(raw, "action")
	}
	if v, ok := raw["ts"]; ok {
		if err := json.Unmarshal(v, &h.Ts); err != nil {
			return err
		}
		delete(raw, "ts")
	}
	if len(raw) == 0 {
		h.Extra = nil
		return nil
	}
	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		extra[k] = val
	}
	h.Extra = extra
	return nil
}

// PresenceUser is the live metadata the server tracks for one connected
// WebSocket peer.
type PresenceUser struct {
	SessionID     *uuid.UUID `json:"sessionId"`
	DisplayName   string     `json:"displayName"`
	Role          Role       `json:"role"`
	ConnectedAt   int64      `json:"connectedAt"`
	LastActivity  int64      `json:"lastActivity"`
	ActiveStore   *string    `json:"activeStore"`
	CursorPath    []any      `json:"cursorPath"`
	RemoteAddress *string    `json:"remoteAddress,omitempty"`
}
