package models

import "strings"

// keyNamespace prefixes every rate-limit window key in shared stores.
const keyNamespace = "ratelimit"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets.
//
// IPv6 identities are affected too: "2001:db8::1" becomes "2001_db8__1".
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// WindowKey is the store key for a (scope, identity) window.
type WindowKey struct {
	Scope    ScopeName
	Kind     KeyKind
	Identity string
}

// NewWindowKey builds the key for identity under scope.
func NewWindowKey(scope Scope, identity Identity) WindowKey {
	kind, value := identity.For(scope)
	return WindowKey{Scope: scope.Name, Kind: kind, Identity: value}
}

// String renders "ratelimit:<scope>:<kind>:<identity>".
func (k WindowKey) String() string {
	return keyNamespace + ":" + SanitizeKeySegment(string(k.Scope)) + ":" + string(k.Kind) + ":" + SanitizeKeySegment(k.Identity)
}
