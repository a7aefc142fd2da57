package domain

import "encoding/json"

// Universe is a persisted canvas + bindings document with linear version
// history.
type Universe struct {
	ID                string         `json:"id"`
	Label             string         `json:"label"`
	Description       string         `json:"description,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	CreatedAt         int64          `json:"createdAt"`
	UpdatedAt         int64          `json:"updatedAt"`
	OwnerID           string         `json:"ownerId"`
	MarketTags        []string       `json:"marketTags,omitempty"`
	ActiveVersionID   *string        `json:"activeVersionId"`
	VersionIDs        []string       `json:"versionIds"`
	IntegrationCounts map[string]int `json:"integrationCounts,omitempty"`
	DataSensitivity   string         `json:"dataSensitivity,omitempty"`
}

// UniverseVersion is one immutable snapshot of a universe's canvas.
type UniverseVersion struct {
	ID              string         `json:"id"`
	Label           string         `json:"label,omitempty"`
	Description     string         `json:"description,omitempty"`
	CreatedAt       int64          `json:"createdAt"`
	CreatedBy       string         `json:"createdBy,omitempty"`
	CanvasState     CanvasState    `json:"canvasState"`
	Bindings        []Binding      `json:"bindings,omitempty"`
	LastRunSummary  map[string]any `json:"lastRunSummary,omitempty"`
}

// CanvasState is the node/edge/viewport document a version carries.
type CanvasState struct {
	Nodes    []map[string]any `json:"nodes"`
	Edges    []map[string]any `json:"edges"`
	Viewport map[string]any   `json:"viewport"`
}

// Binding links a canvas node to an external integration provider; its
// ProviderID feeds Universe.IntegrationCounts. Callers may attach arbitrary
// provider-specific fields, preserved round-trip in Extra.
type Binding struct {
	ProviderID string         `json:"providerId"`
	Extra      map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside providerId.
func (b Binding) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+1)
	for k, v := range b.Extra {
		out[k] = v
	}
	out["providerId"] = b.ProviderID
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON: providerId is lifted out, every other
// key is kept in Extra.
func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["providerId"]; ok {
		if err := json.Unmarshal(v, &b.ProviderID); err != nil {
			return err
		}
		delete(raw, "providerId")
	}
	if len(raw) == 0 {
		b.Extra = nil
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
	b.Extra = extra
	return nil
}
