// Package testutil holds request builders and response assertions shared by
// handler, middleware and router tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRequest builds a bodyless request.
func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// DoRequest serves req and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// decode parses the recorded body without draining it, so several
// assertions can inspect the same response.
func decode(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), into), "body is not JSON: %s", rr.Body.String())
}

// UnmarshalResponse decodes the body as T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var out T
	decode(t, rr, &out)
	return &out
}

// AssertStatusAndError checks the status and the "error" field of the body.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, "status")
	AssertJSONContains(t, rr, "error", code)
}

// AssertJSONContains checks one top-level field. Numbers decode as float64.
func AssertJSONContains(t *testing.T, rr *httptest.ResponseRecorder, key string, want any) {
	t.Helper()
	var body map[string]any
	decode(t, rr, &body)
	assert.Equal(t, want, body[key], "field %q", key)
}

// AssertThrottled checks for a 429 with the given code. An empty retryAfter
// skips the header check.
func AssertThrottled(t *testing.T, rr *httptest.ResponseRecorder, code, retryAfter string) {
	t.Helper()
	AssertStatusAndError(t, rr, http.StatusTooManyRequests, code)
	if retryAfter != "" {
		assert.Equal(t, retryAfter, rr.Header().Get("Retry-After"), "Retry-After")
	}
}

// AssertQuotaHeaders checks the X-Quota-* headers set on profile views.
func AssertQuotaHeaders(t *testing.T, rr *httptest.ResponseRecorder, limit, remaining string) {
	t.Helper()
	h := rr.Header()
	assert.Equal(t, limit, h.Get("X-Quota-Limit"), "X-Quota-Limit")
	assert.Equal(t, remaining, h.Get("X-Quota-Remaining"), "X-Quota-Remaining")
	assert.NotEmpty(t, h.Get("X-Quota-Reset"), "X-Quota-Reset")
}
