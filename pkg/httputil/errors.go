package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// CodeSessionExpired tells clients to refresh or log in again
const CodeSessionExpired = "session_expired"

// StatusForError maps the auth error kinds to HTTP status codes. A missing
// user or link counts as an authentication failure. Anything unrecognised is
// a 500.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, auth.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrResourceAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case auth.IsAuthFailure(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteAuthError writes err with the status StatusForError picks. Every
// authentication failure gets the same message so callers cannot tell an
// unknown user from a wrong password; internal errors are not echoed.
func WriteAuthError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	switch {
	case status == http.StatusUnauthorized && errors.Is(err, auth.ErrTokenExpired):
		_ = WriteJSON(w, status, ErrorResponse{
			Error:     "token expired",
			Code:      CodeSessionExpired,
			RequestID: w.Header().Get(RequestIDHeader),
		})
	case status == http.StatusUnauthorized:
		WriteErrorMessage(w, status, "authentication failed")
	case status == http.StatusInternalServerError:
		WriteErrorMessage(w, status, "internal server error")
	default:
		WriteErrorMessage(w, status, err.Error())
	}
}
