package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkghttp "github.com/sentinelsec/authcore/pkg/http"
)

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
		wantMsg    string
	}{
		{
			name:       "bad request",
			write:      func(w http.ResponseWriter) { pkghttp.WriteBadRequest(w, "Invalid input") },
			wantStatus: http.StatusBadRequest,
			wantError:  "bad_request",
			wantMsg:    "Invalid input",
		},
		{
			name:       "unauthorized",
			write:      func(w http.ResponseWriter) { pkghttp.WriteUnauthorized(w, "Invalid credentials") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "unauthorized",
			wantMsg:    "Invalid credentials",
		},
		{
			name:       "forbidden",
			write:      func(w http.ResponseWriter) { pkghttp.WriteForbidden(w, "Admin role required") },
			wantStatus: http.StatusForbidden,
			wantError:  "forbidden",
			wantMsg:    "Admin role required",
		},
		{
			name:       "not found",
			write:      func(w http.ResponseWriter) { pkghttp.WriteNotFound(w, "Session not found") },
			wantStatus: http.StatusNotFound,
			wantError:  "not_found",
			wantMsg:    "Session not found",
		},
		{
			name:       "conflict",
			write:      func(w http.ResponseWriter) { pkghttp.WriteConflict(w, "Email already registered") },
			wantStatus: http.StatusConflict,
			wantError:  "conflict",
			wantMsg:    "Email already registered",
		},
		{
			name:       "too many requests",
			write:      func(w http.ResponseWriter) { pkghttp.WriteTooManyRequests(w, "Slow down") },
			wantStatus: http.StatusTooManyRequests,
			wantError:  "rate_limit_exceeded",
			wantMsg:    "Slow down",
		},
		{
			name:       "internal error",
			write:      func(w http.ResponseWriter) { pkghttp.WriteInternalError(w, "Something went wrong") },
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
			wantMsg:    "Something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantMsg, resp.Message)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "validation_failed", "Request invalid", "email is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Equal(t, "email is required", resp.Details)
}

// The locked writer carries extra fields the generic writers do not: the
// lock scope and a machine-readable retry hint, mirrored in Retry-After so
// well-behaved clients can back off without parsing the body.
func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteLocked(w, "account", 900)

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))

	var resp pkghttp.LockedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "locked", resp.Error)
	assert.Equal(t, "account", resp.Scope)
	assert.Equal(t, 900, resp.RetryAfterSeconds)
	assert.NotEmpty(t, resp.Message)
}

func TestWriteLocked_IPScope(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteLocked(w, "ip", 1800)

	var resp pkghttp.LockedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ip", resp.Scope)
	assert.Equal(t, 1800, resp.RetryAfterSeconds)
}
