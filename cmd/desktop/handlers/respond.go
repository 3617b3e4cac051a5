// Package handlers provides the REST API handlers of the desktop server.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
	"github.com/kimhsiao/catalogsync/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps an application error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrReplayInProgress:
		status = http.StatusConflict
	case apperrors.ErrRemoteMutation:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrRemoteUnavailable:
		status = http.StatusServiceUnavailable
	default:
		logging.Error("Request failed", err, nil)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	})
}
