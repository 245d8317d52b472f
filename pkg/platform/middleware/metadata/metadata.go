package metadata

import (
	"net/http"

	"quotaguard/pkg/requestcontext"
)

// IPResolver turns proxy headers and the connection address into a client identity.
type IPResolver interface {
	ClientIP(h http.Header, remoteAddr string) string
}

// ClientMetadata resolves the client identity and User-Agent once per request
// and adds them to the context for use by handlers and services.
// This middleware should be applied early in the chain.
func ClientMetadata(resolver IPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolver.ClientIP(r.Header, r.RemoteAddr)
			ctx := requestcontext.WithClientMetadata(r.Context(), ip, r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
