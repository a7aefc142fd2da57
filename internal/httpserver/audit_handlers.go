package httpserver

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// handleAuditLog implements GET /audit/log?limit=&format=json|csv|plain
//: admin.
func (rt *Router) handleAuditLog(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.String(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	entries, err := rt.audit.Tail(limit)
	if err != nil {
		return internalError(c, err)
	}

	switch format := c.QueryParam("format"); format {
	case "", "json":
		return c.JSON(http.StatusOK, map[string]any{"entries": entries})
	case "plain":
		var b strings.Builder
		for _, e := range entries {
			sessionID := "-"
			if e.SessionID != nil {
				sessionID = e.SessionID.String()
			}
			role := "-"
			if e.Role != nil {
				role = e.Role.String()
			}
			fmt.Fprintf(&b, "%d\t%s\t%s\t%s\n", e.Time, e.Action, sessionID, role)
		}
		return c.String(http.StatusOK, b.String())
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"time", "action", "sessionId", "role"})
		for _, e := range entries {
			sessionID := ""
			if e.SessionID != nil {
				sessionID = e.SessionID.String()
			}
			role := ""
			if e.Role != nil {
				role = e.Role.String()
			}
			_ = w.Write([]string{strconv.FormatInt(e.Time, 10), e.Action, sessionID, role})
		}
		w.Flush()
		return c.Blob(http.StatusOK, "text/csv", []byte(b.String()))
	default:
		return c.String(http.StatusBadRequest, "unknown format")
	}
}
