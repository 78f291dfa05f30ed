package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/nearloop/backend/infrastructure/errors"
)

// decodeJSON decodes r's body into a T, writing a 400 response and
// returning ok=false on malformed input.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps an infrastructure/errors.ServiceError's HTTP
// status through; anything else is an opaque 500 (spec.md §7: clients
// see error kinds, not internal detail).
func writeEngineError(w http.ResponseWriter, err error) {
	if se := errors.GetServiceError(err); se != nil {
		writeError(w, se.HTTPStatus, se.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
