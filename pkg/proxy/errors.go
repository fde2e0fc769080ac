package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
)

// AuthError means the caller's credential is missing or unusable. Always a 401.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "auth: " + e.Reason }

// ClientRequestError means the request itself is malformed or names something
// that does not exist. Maps to the embedded status, 400 by default.
type ClientRequestError struct {
	Status int
	Reason string
}

func (e *ClientRequestError) Error() string { return e.Reason }

// UpstreamError means the chat backend answered with a failure status. The
// gateway mirrors upstream client errors and reports everything else as a 502.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) httpStatus() int {
	if e.Status >= 400 && e.Status < 500 {
		return e.Status
	}
	return http.StatusBadGateway
}

func errAuth(format string, args ...any) error {
	return &AuthError{Reason: fmt.Sprintf(format, args...)}
}

func errBadRequest(format string, args ...any) error {
	return &ClientRequestError{Status: http.StatusBadRequest, Reason: fmt.Sprintf(format, args...)}
}

func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response", "err", err)
	}
}

// writeError classifies err into the gateway's error taxonomy and emits the
// matching status with an {"error": ...} body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var authErr *AuthError
	var clientErr *ClientRequestError
	var upstreamErr *UpstreamError
	switch {
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &clientErr):
		if clientErr.Status != 0 {
			status = clientErr.Status
		} else {
			status = http.StatusBadRequest
		}
	case errors.As(err, &upstreamErr):
		status = upstreamErr.httpStatus()
	}
	if status >= 500 {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Debug("request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
