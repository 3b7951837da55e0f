package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: bad", auth.ErrInvalidArgument), http.StatusBadRequest},
		{auth.ErrAuthenticationFailed, http.StatusUnauthorized},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrResourceNotFound, http.StatusUnauthorized},
		{auth.ErrTokenExpired, http.StatusUnauthorized},
		{auth.ErrResourceAlreadyExists, http.StatusConflict},
		{auth.ErrUnknownProvider, http.StatusBadRequest},
		{auth.ErrNotImplemented, http.StatusNotImplemented},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForError(tt.err), "%v", tt.err)
	}
}

func TestWriteAuthError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		code    string
	}{
		{"wrong password", auth.ErrInvalidCredentials, http.StatusUnauthorized, "authentication failed", ""},
		{"unknown user", fmt.Errorf("%w: user bob", auth.ErrResourceNotFound), http.StatusUnauthorized, "authentication failed", ""},
		{"expired", auth.ErrTokenExpired, http.StatusUnauthorized, "token expired", CodeSessionExpired},
		{"internal", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error", ""},
		{"conflict", fmt.Errorf("%w: username taken", auth.ErrResourceAlreadyExists), http.StatusConflict, "resource already exists: username taken", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAuthError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
