package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/basedlink/basedlink-pay/types"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// writeServiceError maps a service error onto an HTTP status. Errors without
// a code are reported as internal and their text is not exposed.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *types.PaylinkError
	if !errors.As(err, &pe) {
		s.deps.Logger.Error("request failed", map[string]any{
			"path":  r.URL.Path,
			"error": err,
		})
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	switch pe.Code {
	case types.ErrInvalidRequest, types.ErrUnsupportedNetwork:
		writeError(w, http.StatusBadRequest, pe.Code, pe.Message)
	case types.ErrUnauthorized:
		writeError(w, http.StatusUnauthorized, pe.Code, pe.Message)
	case types.ErrForbidden:
		writeError(w, http.StatusForbidden, pe.Code, pe.Message)
	case types.ErrNotFound:
		writeError(w, http.StatusNotFound, pe.Code, pe.Message)
	case types.ErrConflict:
		writeError(w, http.StatusConflict, pe.Code, pe.Message)
	case types.ErrVerificationInconclusive, types.ErrNetworkError, types.ErrConfigError:
		s.deps.Logger.Warn("verification inconclusive", map[string]any{
			"path":  r.URL.Path,
			"error": err,
		})
		writeError(w, http.StatusServiceUnavailable, types.ErrVerificationInconclusive,
			"payment could not be verified right now, try again")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON")
		}
		return false
	}
	return true
}
