package testutil

import (
	"net/http"
	"time"

	id "quotaguard/pkg/domain"
	"quotaguard/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the userID is not a valid UUID, it will not be added to the context.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsedUserID, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsedUserID))
	}
	return req
}

// WithTime pins the request-scoped clock, as the requesttime middleware would.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// FromClient sets the connection address and an optional X-Forwarded-For chain.
func FromClient(req *http.Request, remoteAddr string, forwardedFor string) *http.Request {
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	return req
}
