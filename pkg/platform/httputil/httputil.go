// Package httputil centralizes JSON response envelopes so every handler
// emits errors the same way.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "haven/pkg/domain-errors"
	"haven/pkg/platform/sentinel"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into a JSON error envelope. Internal
// errors omit the description so storage details never leak to reporters.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	body := map[string]string{"error": string(code)}
	var de *dErrors.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		body["error_description"] = de.Message
	}
	WriteJSON(w, status, body)
}

// Classify promotes sentinel-classed failures to coded domain errors so the
// envelope carries the right status. Already-coded errors pass through;
// anything unrecognized stays internal.
func Classify(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(dErrors.CodeNotFound, "not found", err)
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.Wrap(dErrors.CodeExpired, "session expired", err)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(dErrors.CodeConflict, "conflict", err)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(dErrors.CodeSpecInvalid, "form definition unusable", err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(dErrors.CodeInternal, "temporarily unavailable", err)
	}
	return dErrors.Wrap(dErrors.CodeInternal, "internal error", err)
}
