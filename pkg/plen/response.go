package plen

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
)

type envelope struct {
	Resource string `json:"resource"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CommandResult is the payload of routes that trigger a driver command.
type CommandResult struct {
	Command string `json:"command"`
	Result  bool   `json:"result"`
}

// badRequestError marks errors caused by the request itself.
type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return badRequestError{err} }

// statusCode maps an error to the HTTP status reported to the client.
func statusCode(err error) int {
	var br badRequestError
	switch {
	case errors.As(err, &br), errors.Is(err, ErrInvalidSlot):
		return http.StatusBadRequest
	case errors.Is(err, ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleResource adapts fn to an http.Handler that wraps its result in the
// resource envelope.
func handleResource(resource string, fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, err := fn(r)
		if err != nil {
			log.WithField("resource", resource).Warnf("%s %s failed: %v", r.Method, r.URL.Path, err)
			writeJSON(w, statusCode(err), envelope{Resource: resource, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Resource: resource, Data: value})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// withCORS adds the cross origin headers expected by the browser GUI and
// answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, X-Requested-With, X-CSRF-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
