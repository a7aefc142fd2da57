package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// badRequest maps a readJSONBody error onto a status: 413 for an oversized
// body, 400 for anything else (malformed JSON, read failure).
func badRequest(c echo.Context, err error) error {
	if errors.Is(err, errBodyTooLarge) {
		return c.String(http.StatusRequestEntityTooLarge, "payload too large")
	}
	return c.String(http.StatusBadRequest, "invalid request body")
}

// internalError logs and returns a generic 500, never leaking err's text to
// the caller.
func internalError(c echo.Context, err error) error {
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, "internal error")
}
