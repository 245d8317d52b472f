package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "quotaguard/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantStatus int
		wantBody   string
	}{
		"client errors carry their message": {
			err:        dErrors.New(dErrors.CodeInvalidInput, "entity id is required"),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid_input","error_description":"entity id is required"}`,
		},
		"wrapped coded errors are unwrapped": {
			err:        fmt.Errorf("lookup: %w", dErrors.New(dErrors.CodeNotFound, "doctor not found")),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"not_found","error_description":"doctor not found"}`,
		},
		"unavailable hides the backend detail": {
			err:        dErrors.New(dErrors.CodeUnavailable, "redis: connection refused"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"service_unavailable"}`,
		},
		"plain errors become internal": {
			err:        errors.New("sql: database is closed"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal_error"}`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestWriteJSONNilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	for code, want := range map[dErrors.Code]int{
		dErrors.CodeInvalidInput:  http.StatusBadRequest,
		dErrors.CodeUnauthorized:  http.StatusUnauthorized,
		dErrors.CodeForbidden:     http.StatusForbidden,
		dErrors.CodeNotFound:      http.StatusNotFound,
		dErrors.CodeQuotaExceeded: http.StatusTooManyRequests,
		dErrors.CodeRateLimited:   http.StatusTooManyRequests,
		dErrors.CodeUnavailable:   http.StatusServiceUnavailable,
		dErrors.CodeTimeout:       http.StatusGatewayTimeout,
		dErrors.Code("unknown"):   http.StatusInternalServerError,
	} {
		assert.Equal(t, want, StatusFor(code), "code %s", code)
	}
}
