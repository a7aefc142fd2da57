package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/core/domain"
	"github.com/fortistate/inspector/internal/universe"
)

// handleUniverseList implements GET /api/universes: observer.
func (rt *Router) handleUniverseList(c echo.Context) error {
	list, err := rt.universes.List()
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"universes": list})
}

// handleUniverseVersion implements GET /api/universes/:id/versions/:vid
//: observer.
func (rt *Router) handleUniverseVersion(c echo.Context) error {
	v, err := rt.universes.GetVersion(c.Param("id"), c.Param("vid"))
	if err != nil {
		if errors.Is(err, universe.ErrNotFound) {
			return c.String(http.StatusNotFound, "version not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

type createUniverseRequest struct {
	ID              string              `json:"id"`
	Label           string              `json:"label"`
	Description     string              `json:"description"`
	Icon            string              `json:"icon"`
	MarketTags      []string            `json:"marketTags"`
	DataSensitivity string              `json:"dataSensitivity"`
	Canvas          *domain.CanvasState `json:"canvas"`
	Bindings        []domain.Binding    `json:"bindings"`
}

// handleUniverseCreate implements POST /api/universes: editor.
// A request carrying `canvas` uses the canvas creation form; one without it
// uses the metadata-only form.
func (rt *Router) handleUniverseCreate(c echo.Context) error {
	var req createUniverseRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}

	auth := authz.FromContext(c)
	ownerID := ""
	if auth.Session != nil {
		ownerID = auth.Session.ID.String()
	}

	if req.Canvas == nil {
		u, err := rt.universes.CreateFromMetadata(universe.MetadataInput{ID: req.ID, Label: req.Label, OwnerID: ownerID})
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		rt.recordMutation(c, "universe:create", map[string]any{"universeId": u.ID})
		return c.JSON(http.StatusCreated, u)
	}

	u, err := rt.universes.CreateFromCanvas(universe.CanvasInput{
		Label:           req.Label,
		Description:     req.Description,
		Icon:            req.Icon,
		OwnerID:         ownerID,
		MarketTags:      req.MarketTags,
		DataSensitivity: req.DataSensitivity,
		Canvas:          *req.Canvas,
		Bindings:        req.Bindings,
	})
	if err != nil {
		return internalError(c, err)
	}
	rt.recordMutation(c, "universe:create", map[string]any{"universeId": u.ID})
	return c.JSON(http.StatusCreated, u)
}

type createVersionRequest struct {
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Canvas      domain.CanvasState `json:"canvas"`
	Bindings    []domain.Binding   `json:"bindings"`
}

// handleUniverseCreateVersion implements POST /api/universes/:id/versions
//: editor.
func (rt *Router) handleUniverseCreateVersion(c echo.Context) error {
	var req createVersionRequest
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}

	auth := authz.FromContext(c)
	createdBy := ""
	if auth.Session != nil {
		createdBy = auth.Session.ID.String()
	}

	id := c.Param("id")
	v, err := rt.universes.CreateVersion(id, req.Canvas, req.Bindings, createdBy, req.Label, req.Description)
	if err != nil {
		if errors.Is(err, universe.ErrNotFound) {
			return c.String(http.StatusNotFound, "universe not found")
		}
		return internalError(c, err)
	}

	rt.recordMutation(c, "universe:create-version", map[string]any{"universeId": id, "versionId": v.ID})
	return c.JSON(http.StatusCreated, v)
}

// handleUniverseLaunch implements POST /api/universes/:id/launch: editor.
func (rt *Router) handleUniverseLaunch(c echo.Context) error {
	id := c.Param("id")
	result, err := rt.universes.Launch(id)
	if err != nil {
		if errors.Is(err, universe.ErrNotFound) {
			return c.String(http.StatusNotFound, "universe not found")
		}
		return internalError(c, err)
	}

	rt.recordMutation(c, "universe:launch", map[string]any{"universeId": id, "launchId": result.LaunchID})
	return c.JSON(http.StatusAccepted, result)
}

// handleUniverseDelete implements DELETE /api/universes/:id:
// editor.
func (rt *Router) handleUniverseDelete(c echo.Context) error {
	id := c.Param("id")
	if err := rt.universes.Delete(id); err != nil {
		return internalError(c, err)
	}
	rt.recordMutation(c, "universe:delete", map[string]any{"universeId": id})
	return c.NoContent(http.StatusNoContent)
}
