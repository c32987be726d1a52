package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"dmarcview.org/internal/mutate"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// statusForKind maps a mutation outcome onto an HTTP status code.
func statusForKind(kind mutate.Kind) int {
	switch kind {
	case mutate.KindOK:
		return http.StatusOK
	case mutate.KindUnauthenticated:
		return http.StatusUnauthorized
	case mutate.KindUnverified, mutate.KindPermissionDenied:
		return http.StatusForbidden
	case mutate.KindNotFound:
		return http.StatusNotFound
	case mutate.KindConflict:
		return http.StatusConflict
	case mutate.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
