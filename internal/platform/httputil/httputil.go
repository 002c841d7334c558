// Package httputil holds the JSON request and response helpers shared by the
// HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/platform/apperr"
)

// maxBodyBytes bounds request bodies decoded by DecodeJSON.
const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// StatusOf maps an error's kind to an HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an ErrorBody. Internal errors are logged and
// answered with a generic message.
func WriteError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		if log != nil {
			log.WithError(err).Error("http: internal error")
		}
		WriteJSON(w, status, ErrorBody{Error: "internal", Message: "internal error"})
		return
	}
	WriteJSON(w, status, ErrorBody{Error: apperr.CodeOf(err), Message: err.Error()})
}

// NotFound writes the uniform not-found response used for entity-scoped denials.
func NotFound(w http.ResponseWriter) {
	WriteJSON(w, http.StatusNotFound, ErrorBody{Error: apperr.ErrNotFound.Code, Message: apperr.ErrNotFound.Msg})
}

// DecodeJSON decodes the request body into v. Malformed or oversized bodies
// yield a validation error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		case errors.As(err, &tooLarge):
			return apperr.Validation("request body too large")
		default:
			return apperr.Validation("invalid JSON body: %s", err.Error())
		}
	}
	return nil
}
