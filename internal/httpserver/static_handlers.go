package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// indexHTML is a minimal placeholder for the inspector UI shell. The actual
// HTML/JS inspector UI assets are an out-of-scope collaborator;
// this just gives `GET /` something to serve so the endpoint exists and a
// browser hitting the bare server URL gets a usable landing page instead of
// a 404.
const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>fortistate inspector</title></head>
<body>
<h1>fortistate inspector</h1>
<p>Connect to <code>/ws</code> for the live store feed, or see <code>/api/universes</code>, <code>/history</code>, <code>/presence</code>.</p>
</body>
</html>
`

// handleIndex implements GET /: inspector HTML (static).
func (rt *Router) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, indexHTML)
}
