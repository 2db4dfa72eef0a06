package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DevNvll/echopad/internal/apierror"
	"github.com/DevNvll/echopad/internal/middleware"
)

// errorResponse is the wire shape of every non-2xx response (§6).
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a service error to its wire response. Anything that
// isn't an *apierror.Error is a bug in a lower layer, not a client
// mistake, so it becomes a generic 500 rather than leaking internals.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierror.Error)
	if !ok {
		apiErr = apierror.Internal("internal error")
	}
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(apiErr.RetryAfter, 10))
	}
	writeJSON(w, apiErr.Status, errorResponse{Error: apiErr.Message, Code: apiErr.Code})
}

// decodeJSON decodes a JSON request body and writes the INVALID_JSON
// response on failure, returning whether decoding succeeded. An empty
// body decodes to the zero value rather than erroring, so a route whose
// fields are all optional can be called without a body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apierror.InvalidJSON("request body is not valid JSON"))
		return false
	}
	return true
}

func copyBody(w http.ResponseWriter, body io.Reader, logger *logrus.Logger) {
	if _, err := io.Copy(w, body); err != nil {
		logger.WithError(err).Warn("download: failed to stream response body")
	}
}

func clientIP(r *http.Request) string {
	return middleware.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), r.Header.Get("X-Real-Ip"))
}

func unixNow() int64 { return time.Now().Unix() }
