package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/presets"
)

// handleRemoteStores implements GET /remote-stores: observer.
func (rt *Router) handleRemoteStores(c echo.Context) error {
	return c.JSON(http.StatusOK, rt.remote.All())
}

type registerRequest struct {
	Key     string `json:"key"`
	Initial any    `json:"initial"`
}

// handleRegister implements POST /register: editor. Upserts a remote
// store: the write goes through the store primitive (whose subscription is
// the one broadcast source, store:create or store:change) and is then
// mirrored into the persisted remote registry.
func (rt *Router) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	if req.Key == "" {
		return c.String(http.StatusBadRequest, "key is required")
	}

	if store, ok := rt.stores.Get(req.Key); ok {
		store.Set(req.Initial)
	} else {
		rt.stores.Create(req.Key, req.Initial)
	}
	if err := rt.remote.Set(req.Key, req.Initial); err != nil {
		return internalError(c, err)
	}

	rt.recordMutation(c, "register", map[string]any{"key": req.Key})
	return c.NoContent(http.StatusOK)
}

type changeRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// handleChange implements POST /change: editor.
func (rt *Router) handleChange(c echo.Context) error {
	var req changeRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	if req.Key == "" {
		return c.String(http.StatusBadRequest, "key is required")
	}

	if store, ok := rt.stores.Get(req.Key); ok {
		store.Set(req.Value)
	} else {
		rt.stores.Create(req.Key, req.Value)
	}
	if err := rt.remote.Set(req.Key, req.Value); err != nil {
		return internalError(c, err)
	}

	rt.recordMutation(c, "change", map[string]any{"key": req.Key})
	return c.NoContent(http.StatusOK)
}

type applyPresetRequest struct {
	Name       string `json:"name"`
	TargetKey  string `json:"targetKey"`
	InstallCSS bool   `json:"installCss"`
}

// handleApplyPreset implements POST /apply-preset. InstallCSS only matters
// to UI-shipping presets; the server records the request but serves no CSS
// itself.
func (rt *Router) handleApplyPreset(c echo.Context) error {
	var req applyPresetRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	preset, ok := presets.Find(req.Name)
	if !ok {
		return c.String(http.StatusBadRequest, "unknown preset")
	}

	targetKey := req.TargetKey
	if targetKey == "" {
		targetKey = preset.Name
	}

	if store, ok := rt.stores.Get(targetKey); ok {
		store.Set(preset.Value)
	} else {
		rt.stores.Create(targetKey, preset.Value)
	}
	if err := rt.remote.Set(targetKey, preset.Value); err != nil {
		return internalError(c, err)
	}

	rt.recordMutation(c, "apply-preset", map[string]any{"name": req.Name, "targetKey": targetKey, "installCss": req.InstallCSS})
	return c.NoContent(http.StatusOK)
}

type duplicateStoreRequest struct {
	SourceKey string `json:"sourceKey"`
	DestKey   string `json:"destKey"`
}

// handleDuplicateStore implements POST /duplicate-store: editor.
func (rt *Router) handleDuplicateStore(c echo.Context) error {
	var req duplicateStoreRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	src, ok := rt.stores.Get(req.SourceKey)
	if !ok {
		return c.String(http.StatusNotFound, "source store not found")
	}
	if req.DestKey == "" {
		return c.String(http.StatusBadRequest, "destKey is required")
	}

	value := src.Get()
	rt.stores.Create(req.DestKey, value)
	if err := rt.remote.Set(req.DestKey, value); err != nil {
		return internalError(c, err)
	}

	rt.hub.Broadcast(map[string]any{"type": "store:duplicate", "sourceKey": req.SourceKey, "destKey": req.DestKey})
	rt.recordMutation(c, "duplicate-store", map[string]any{"sourceKey": req.SourceKey, "destKey": req.DestKey})
	return c.NoContent(http.StatusOK)
}

type swapStoresRequest struct {
	KeyA string `json:"keyA"`
	KeyB string `json:"keyB"`
}

// handleSwapStores implements POST /swap-stores: editor. Swaps
// the two stores' values in place (neither key is created or removed).
func (rt *Router) handleSwapStores(c echo.Context) error {
	var req swapStoresRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	a, ok := rt.stores.Get(req.KeyA)
	if !ok {
		return c.String(http.StatusNotFound, fmt.Sprintf("store %q not found", req.KeyA))
	}
	b, ok := rt.stores.Get(req.KeyB)
	if !ok {
		return c.String(http.StatusNotFound, fmt.Sprintf("store %q not found", req.KeyB))
	}

	valueA, valueB := a.Get(), b.Get()
	a.Set(valueB)
	b.Set(valueA)
	if err := rt.remote.Set(req.KeyA, valueB); err != nil {
		return internalError(c, err)
	}
	if err := rt.remote.Set(req.KeyB, valueA); err != nil {
		return internalError(c, err)
	}

	rt.recordMutation(c, "swap-stores", map[string]any{"keyA": req.KeyA, "keyB": req.KeyB})
	return c.NoContent(http.StatusOK)
}

type moveStoreRequest struct {
	SourceKey string `json:"sourceKey"`
	DestKey   string `json:"destKey"`
}

// handleMoveStore implements POST /move-store: editor. Moves a value from
// sourceKey to destKey in the store primitive itself — the only operation
// that removes a remote-owned key — and mirrors both sides into the
// persisted registry. The primitive emits the two frames observers see:
// store:create for the destination, store:change with a nil value for the
// removed source.
func (rt *Router) handleMoveStore(c echo.Context) error {
	var req moveStoreRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	src, ok := rt.stores.Get(req.SourceKey)
	if !ok {
		return c.String(http.StatusNotFound, "source store not found")
	}
	if req.DestKey == "" {
		return c.String(http.StatusBadRequest, "destKey is required")
	}

	value := src.Get()
	rt.stores.Create(req.DestKey, value)
	rt.stores.Delete(req.SourceKey)
	if err := rt.remote.Set(req.DestKey, value); err != nil {
		return internalError(c, err)
	}
	if err := rt.remote.Delete(req.SourceKey); err != nil {
		return internalError(c, err)
	}

	rt.recordMutation(c, "move-store", map[string]any{"sourceKey": req.SourceKey, "destKey": req.DestKey})
	return c.NoContent(http.StatusOK)
}

// recordMutation writes the one audit entry every accepted mutation owes
// and appends the matching history ring entry.
func (rt *Router) recordMutation(c echo.Context, action string, details map[string]any) {
	auth := authz.FromContext(c)
	var sessionID *uuid.UUID
	if auth.Session != nil {
		sessionID = &auth.Session.ID
	}
	role := auth.Role
	rt.audit.Append(action, sessionID, &role, details)
	rt.history.Append(action, details)
}

// handleHistory implements GET /history: observer.
func (rt *Router) handleHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"entries": rt.history.All()})
}

// handlePresets implements GET /presets: observer.
func (rt *Router) handlePresets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"presets": presets.Catalog()})
}

// handlePresence implements GET /presence: observer.
func (rt *Router) handlePresence(c echo.Context) error {
	users := rt.presence.GetAll()
	return c.JSON(http.StatusOK, map[string]any{"users": users, "total": len(users)})
}

// handleTelemetryStream implements GET /telemetry/stream:
// observer, SSE.
func (rt *Router) handleTelemetryStream(c echo.Context) error {
	return rt.telemetry.Serve(c.Response(), c.Request())
}
