package models

import (
	"net/http"
	"strings"
	"time"

	id "quotaguard/pkg/domain"
	dErrors "quotaguard/pkg/domain-errors"
	"quotaguard/pkg/requestcontext"
)

// ScopeName identifies an independently configured rate-limit window.
type ScopeName string

const (
	ScopeBurst          ScopeName = "burst"
	ScopeSustained      ScopeName = "sustained"
	ScopeSearch         ScopeName = "search"
	ScopeChat           ScopeName = "chat"
	ScopeUpload         ScopeName = "upload"
	ScopePayment        ScopeName = "payment"
	ScopeAuth           ScopeName = "auth"
	ScopeWebhook        ScopeName = "webhook"
	ScopePaymentWebhook ScopeName = "payment_webhook"
)

// ParseScopeName normalizes a scope name from an admin path or config key.
func ParseScopeName(s string) (ScopeName, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "scope cannot be empty")
	}
	if len(s) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "scope must be 64 characters or less")
	}
	return ScopeName(s), nil
}

// KeyBy selects which identity a scope counts against.
type KeyBy int

const (
	// KeyByUserOrClient counts authenticated callers by account and everyone else by client identity.
	KeyByUserOrClient KeyBy = iota
	// KeyByClient always counts by client identity (callers are not expected to be logged in).
	KeyByClient
)

// Scope is one rate-limit policy: Limit requests per Window.
type Scope struct {
	Name   ScopeName
	Limit  int
	Window time.Duration
	KeyBy  KeyBy
}

// Identity is who a rate-limit window is charged to.
type Identity struct {
	UserID id.UserID
	Client string
}

// KeyKind is the identity segment of a window key.
type KeyKind string

const (
	KeyKindUser   KeyKind = "user"
	KeyKindClient KeyKind = "client"
)

// For picks the identity a scope should count against.
func (i Identity) For(scope Scope) (KeyKind, string) {
	if scope.KeyBy == KeyByUserOrClient && !i.UserID.IsNil() {
		return KeyKindUser, i.UserID.String()
	}
	return KeyKindClient, i.Client
}

// Request is the subset of an inbound request the quota subsystem consumes.
type Request struct {
	Headers    http.Header
	RemoteAddr string
	UserAgent  string
	UserID     id.UserID // nil for anonymous callers
}

// Authenticated reports whether the caller presented a valid identity.
func (r *Request) Authenticated() bool {
	return r != nil && !r.UserID.IsNil()
}

// RequestFromHTTP captures the request fields the facade needs. The user id
// comes from the auth middleware through the context.
func RequestFromHTTP(r *http.Request) *Request {
	return &Request{
		Headers:    r.Header,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.Header.Get("User-Agent"),
		UserID:     requestcontext.UserID(r.Context()),
	}
}
