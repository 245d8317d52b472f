// Package clientip resolves the public address of a caller behind proxies.
//
// Headers are consulted in a fixed priority order. Within a header the
// comma-separated chain is scanned left to right and the first well-formed
// public address wins. When nothing qualifies the connection address is used,
// even if it is private, so a request is never left without an identity.
//
// Headers are only trustworthy when a proxy in front of the service overwrites
// them. Deployments without such a proxy should configure an empty header list.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// DefaultHeaders is the header priority used when none is configured.
var DefaultHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
	"X-Cluster-Client-IP",
	"X-Forwarded",
	"Forwarded-For",
	"Forwarded",
}

// SourceRemoteAddr marks a resolution that came from the connection itself.
const SourceRemoteAddr = "remote_addr"

// Unknown is the identity used when there is no connection address at all.
const Unknown = "unknown"

// maxChainEntries bounds how much of a forged header chain is parsed.
const maxChainEntries = 32

// MaxIdentityLength caps a resolved identity, counted in runes. Parsed
// addresses are always shorter; only an unparseable connection address is
// ever cut.
const MaxIdentityLength = 64

var nonPublicPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("100::/64"),
}

// Resolution is the outcome of resolving one request.
type Resolution struct {
	IP     string
	Source string // header name or SourceRemoteAddr
	Public bool
	// Valid is false when even the fallback address could not be parsed.
	// IP then holds the raw connection address.
	Valid bool
}

// Config is the immutable resolver configuration.
type Config struct {
	Headers []string
}

// Resolver is safe for concurrent use; it holds no mutable state.
type Resolver struct {
	headers []string
}

// New builds a resolver. A nil header list selects DefaultHeaders; an empty
// non-nil list disables header inspection.
func New(cfg Config) *Resolver {
	headers := cfg.Headers
	if headers == nil {
		headers = DefaultHeaders
	}
	canon := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			canon = append(canon, http.CanonicalHeaderKey(h))
		}
	}
	return &Resolver{headers: canon}
}

// Headers returns the configured priority list.
func (r *Resolver) Headers() []string {
	return append([]string(nil), r.headers...)
}

// ClientIP returns only the resolved identity.
func (r *Resolver) ClientIP(h http.Header, remoteAddr string) string {
	return r.Resolve(h, remoteAddr).IP
}

// Resolve picks the client identity for a request.
func (r *Resolver) Resolve(h http.Header, remoteAddr string) Resolution {
	for _, name := range r.headers {
		for _, value := range h.Values(name) {
			if ip, ok := firstPublic(name, value); ok {
				return Resolution{IP: ip, Source: name, Public: true, Valid: true}
			}
		}
	}
	return fallback(remoteAddr)
}

func firstPublic(header, value string) (string, bool) {
	entries := strings.SplitN(value, ",", maxChainEntries+1)
	if len(entries) > maxChainEntries {
		entries = entries[:maxChainEntries]
	}
	forwarded := header == "Forwarded"
	for _, entry := range entries {
		if forwarded {
			entry = forwardedFor(entry)
		}
		addr, ok := parseCandidate(entry)
		if ok && IsPublic(addr) {
			return addr.String(), true
		}
	}
	return "", false
}

// forwardedFor extracts the for= parameter of one RFC 7239 element.
func forwardedFor(element string) string {
	for _, pair := range strings.Split(element, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "for") {
			return val
		}
	}
	return ""
}

// parseCandidate accepts "ip", "ipv4:port", "[ipv6]" and "[ipv6]:port",
// optionally quoted.
func parseCandidate(raw string) (netip.Addr, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return netip.Addr{}, false
	}
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return netip.Addr{}, false
		}
		s = s[1:end]
	} else if strings.Count(s, ":") == 1 {
		s, _, _ = strings.Cut(s, ":")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// IsPublic reports whether addr is globally routable. Documentation ranges
// count as public so they can stand in for real clients in examples and tests.
func IsPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return false
	}
	if addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return false
	}
	for _, p := range nonPublicPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

func fallback(remoteAddr string) Resolution {
	raw := strings.TrimSpace(remoteAddr)
	if raw == "" {
		return Resolution{IP: Unknown, Source: SourceRemoteAddr}
	}
	host := raw
	if h, _, err := net.SplitHostPort(raw); err == nil {
		host = h
	}
	addr, ok := parseCandidate(host)
	if !ok {
		return Resolution{IP: capIdentity(raw), Source: SourceRemoteAddr}
	}
	return Resolution{
		IP:     addr.String(),
		Source: SourceRemoteAddr,
		Public: IsPublic(addr),
		Valid:  true,
	}
}

func capIdentity(raw string) string {
	if utf8.RuneCountInString(raw) <= MaxIdentityLength {
		return raw
	}
	return string([]rune(raw)[:MaxIdentityLength])
}
