// Package privacy reduces personal data before it reaches logs and audit sinks.
package privacy

import (
	"net/netip"
	"strings"
)

// AnonymizeIP keeps the network part of an address: /24 for IPv4 and /48 for
// IPv6. Anything unparseable is reported as "invalid" rather than echoed.
func AnonymizeIP(raw string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
