// Package requesttime pins one "now" per request so quota days and rate
// windows agree on where a request falls.
package requesttime

import (
	"net/http"
	"time"

	"quotaguard/pkg/requestcontext"
)

// Middleware stamps requests with the wall clock.
var Middleware = WithClock(time.Now)

// WithClock stamps requests with now(). Tests pass a fixed clock.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), now())))
		})
	}
}
