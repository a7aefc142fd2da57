// Package presets holds the small built-in catalog POST /apply-preset draws
// from. The
// loader that would normally contribute presets from a project's own
// fortistate.config.js is out of scope; this catalog is the
// built-in fallback every inspector ships with regardless of plugin
// configuration.
package presets

// Preset is one named starting value a caller can apply to a store key via
// POST /apply-preset.
type Preset struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	InstallsCSS bool   `json:"installsCss"`
	Value       any    `json:"value"`
}

var catalog = []Preset{
	{
		Name:        "counter",
		Label:       "Counter",
		Description: "A single numeric counter seeded at zero.",
		Value:       float64(0),
	},
	{
		Name:        "toggle",
		Label:       "Toggle",
		Description: "A boolean flag seeded false.",
		Value:       false,
	},
	{
		Name:        "list",
		Label:       "List",
		Description: "An empty ordered list.",
		Value:       []any{},
	},
	{
		Name:        "kanban-board",
		Label:       "Kanban Board",
		Description: "A three-column board with empty card lists; ships with inspector CSS for column styling.",
		InstallsCSS: true,
		Value: map[string]any{
			"columns": []any{
				map[string]any{"id": "todo", "title": "To do", "cards": []any{}},
				map[string]any{"id": "doing", "title": "Doing", "cards": []any{}},
				map[string]any{"id": "done", "title": "Done", "cards": []any{}},
			},
		},
	},
}

// Catalog returns every preset.
func Catalog() []Preset {
	out := make([]Preset, len(catalog))
	copy(out, catalog)
	return out
}

// Find looks up a preset by name.
func Find(name string) (Preset, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
