// Package requestcontext carries request-scoped values from middleware to
// services without either side importing net/http.
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	today := models.DayOf(requestcontext.Now(ctx), loc)
package requestcontext

import (
	"context"
	"time"

	id "quotaguard/pkg/domain"
)

type key int

const (
	userIDKey key = iota
	clientIPKey
	userAgentKey
	requestIDKey
	requestTimeKey
)

func value[T any](ctx context.Context, k key) T {
	v, _ := ctx.Value(k).(T)
	return v
}

// UserID is the authenticated account, or the zero id for anonymous callers.
func UserID(ctx context.Context) id.UserID {
	return value[id.UserID](ctx, userIDKey)
}

func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ClientIP is the client identity resolved once by the metadata middleware.
// It is meant for logs; enforcement re-resolves from the raw request.
func ClientIP(ctx context.Context) string {
	return value[string](ctx, clientIPKey)
}

func UserAgent(ctx context.Context) string {
	return value[string](ctx, userAgentKey)
}

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func RequestID(ctx context.Context) string {
	return value[string](ctx, requestIDKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now is the request-scoped clock. Outside a request it falls back to
// time.Now.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the clock. Quota accounting derives "today" from it.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
