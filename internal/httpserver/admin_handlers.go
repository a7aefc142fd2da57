package httpserver

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fortistate/inspector/internal/authz"
	"github.com/fortistate/inspector/internal/crypto"
)

const legacyTokenFileName = ".fortistate-inspector-token"

type legacyTokenFile struct {
	Token string `json:"token"`
}

// handleSetTokenGet implements GET /set-token:
// returns the legacy dev token, minting and persisting one on first use.
// Changing FORTISTATE_LEGACY_TOKEN in the environment and restarting is
// still how the token actually used by RoleEnforcer is set; this endpoint
// only manages the on-disk convenience copy the CLI reads.
func (rt *Router) handleSetTokenGet(c echo.Context) error {
	path := filepath.Join(rt.root, legacyTokenFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		var f legacyTokenFile
		if jsonErr := readJSONFile(data, &f); jsonErr == nil && f.Token != "" {
			return c.JSON(http.StatusOK, f)
		}
	}

	token, err := crypto.RandomToken(24)
	if err != nil {
		return internalError(c, err)
	}
	f := legacyTokenFile{Token: token}
	if err := writeJSONFile(path, f); err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// handleSetTokenPost implements POST /set-token: overwrites the persisted
// dev token file with a caller-supplied value.
func (rt *Router) handleSetTokenPost(c echo.Context) error {
	var req legacyTokenFile
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	if req.Token == "" {
		return c.String(http.StatusBadRequest, "token is required")
	}
	path := filepath.Join(rt.root, legacyTokenFileName)
	if err := writeJSONFile(path, req); err != nil {
		return internalError(c, err)
	}

	auth := authz.FromContext(c)
	var sessionID *uuid.UUID
	if auth.Session != nil {
		sessionID = &auth.Session.ID
	}
	role := auth.Role
	rt.audit.Append("set-token", sessionID, &role, map[string]any{"via": auth.Via})
	return c.NoContent(http.StatusNoContent)
}

// handleOpenSource implements POST /open-source, gated by
// FORTISTATE_INSPECTOR_ALLOW_OPEN: best-effort shells out to $EDITOR (or a
// short list of common editors) to open a file. A 1s probe timeout bounds
// each attempt.
func (rt *Router) handleOpenSource(c echo.Context) error {
	if !rt.allowOpen {
		return c.String(http.StatusForbidden, "open-in-editor is disabled")
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := readJSONBody(c.Request(), &req); err != nil {
		return badRequest(c, err)
	}
	if req.Path == "" {
		return c.String(http.StatusBadRequest, "path is required")
	}

	editors := []string{os.Getenv("EDITOR"), "code", "cursor", "vim"}
	var lastErr error
	for _, editor := range editors {
		if editor == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
		err := exec.CommandContext(ctx, editor, req.Path).Start()
		cancel()
		if err == nil {
			rt.recordMutation(c, "open-source", map[string]any{"path": req.Path, "editor": editor})
			return c.NoContent(http.StatusNoContent)
		}
		lastErr = err
	}
	return internalError(c, lastErr)
}

// handleLocateSource implements GET /locate-source. Earlier releases walked
// the project tree here but never emitted a match for any file found, so
// clients only ever saw an empty list; that observable behavior is kept
// rather than growing a new grep surface nothing depends on.
func (rt *Router) handleLocateSource(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"matches": []string{}})
}

// handleDebug implements GET /debug: a small process/runtime snapshot for
// local troubleshooting.
func (rt *Router) handleDebug(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"root":            rt.root,
		"requireSessions": rt.requireSessions,
		"hasSessions":     rt.sessions.HasSessions(),
		"peers":           rt.hub.PeerCount(),
		"telemetryStreams": rt.telemetry.StreamCount(),
		"presenceUsers":   rt.presence.Count(),
		"historyEntries":  rt.history.Len(),
	})
}
