package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
)

// ErrorBody is the failure shape every JSON route shares.
type ErrorBody struct {
	Success     bool   `json:"success"`
	Description string `json:"description"`
	Code        int    `json:"code,omitempty"`
}

// WriteJSON writes data as JSON with the given status. The payload is
// expected to carry its own success field.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteSuccess writes {"success": true} merged with extra top-level
// fields.
func WriteSuccess(w http.ResponseWriter, extra map[string]any) {
	body := make(map[string]any, len(extra)+1)
	body["success"] = true
	for k, v := range extra {
		body[k] = v
	}
	WriteJSON(w, http.StatusOK, body)
}

// WriteRawJSON writes a pre-serialized JSON body, used for responses
// served out of the render caches.
func WriteRawJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

// WriteError renders err using the service error taxonomy: client errors
// keep their message, status and domain code; everything else is a 500
// with a generic description. Error responses are never cacheable.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Cache-Control", "no-store")

	if ce, ok := apperr.AsClient(err); ok {
		status := ce.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		WriteJSON(w, status, ErrorBody{Description: ce.Message, Code: ce.Code})
		return
	}

	if se, ok := apperr.AsServer(err); ok {
		if se.Quiet {
			logger.WarnCtx(r.Context(), "request failed", "error", err)
		} else {
			logger.ErrorCtx(r.Context(), "request failed", "error", err)
		}
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{Description: se.Message})
		return
	}

	logger.ErrorCtx(r.Context(), "unexpected error", "error", err)
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{
		Description: "An unexpected error occurred. Try again?",
	})
}
