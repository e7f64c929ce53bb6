package server

import (
	"encoding/json"
	"net/http"

	"github.com/marcus-qen/frontdesk/internal/shared/fault"
)

// APIError is the standard error response format.
type APIError struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeJSONError writes a consistent JSON error response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Error:         message,
		CorrelationID: CorrelationID(r.Context()),
	})
}

// writeFault maps a fault kind to its HTTP status.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	writeJSONError(w, r, fault.HTTPStatus(fault.KindOf(err)), err.Error())
}

// writeJSON writes a success response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
