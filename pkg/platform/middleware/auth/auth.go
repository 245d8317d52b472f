package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "quotaguard/pkg/domain"
	"quotaguard/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	JTI    string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

const bearerPrefix = "Bearer "

// OptionalAuth attaches the caller's user id when a valid bearer token is sent
// and lets anonymous requests through untouched. A token that is present but
// invalid is rejected so a bad token never silently downgrades to anonymous quota.
func OptionalAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			r, ok := authenticate(w, r, validator, logger)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := authenticate(w, r, validator, logger)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(w http.ResponseWriter, r *http.Request, validator JWTValidator, logger *slog.Logger) (*http.Request, bool) {
	ctx := r.Context()
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
	if !ok || token == "" {
		logger.WarnContext(ctx, "unauthorized access - missing token",
			"request_id", requestcontext.RequestID(ctx),
		)
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
		return nil, false
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		logger.WarnContext(ctx, "unauthorized access - invalid token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return nil, false
	}

	userID, err := id.ParseUserID(claims.UserID)
	if err != nil {
		logger.WarnContext(ctx, "unauthorized access - malformed subject",
			"request_id", requestcontext.RequestID(ctx),
		)
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		return nil, false
	}

	ctx = requestcontext.WithUserID(ctx, userID)
	return r.WithContext(ctx), true
}
