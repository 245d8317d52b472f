// Package admin guards operator endpoints with a shared static token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "quotaguard/pkg/domain-errors"
	"quotaguard/pkg/platform/httputil"
	"quotaguard/pkg/platform/privacy"
	"quotaguard/pkg/requestcontext"
)

// HeaderName carries the operator token.
const HeaderName = "X-Admin-Token"

// RequireAdminToken admits requests whose X-Admin-Token equals expectedToken.
// An empty expected token disables the endpoints entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(expectedToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(HeaderName)
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(given), expected) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "operator request rejected",
					"path", r.URL.Path,
					"token_present", given != "",
					"client", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
