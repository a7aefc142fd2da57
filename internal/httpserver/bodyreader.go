package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes is the JSON body size cap.
const maxBodyBytes = 1 << 20 // 1 MiB

// errBodyTooLarge is returned by readJSONBody when the request body exceeds
// maxBodyBytes.
var errBodyTooLarge = errors.New("payload too large")

// readJSONBody collects up to maxBodyBytes+1 from r, decoding into dst. An
// empty body decodes as if `{}` had been sent; a body that hits the cap is
// reported as errBodyTooLarge without attempting to parse it. The reader is
// always closed so no connection is leaked on any error path.
func readJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()

	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("httpserver.readJSONBody: read: %w", err)
	}
	if len(data) > maxBodyBytes {
		return errBodyTooLarge
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("httpserver.readJSONBody: decode: %w", err)
	}
	return nil
}
