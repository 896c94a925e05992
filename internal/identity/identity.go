// Package identity derives the rate-limit and audit-log key from the
// requesting client's network address.
package identity

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Unknown is the identity used when no client address can be determined.
const Unknown = "unknown"

// FromRequest extracts the client network address from request metadata.
// X-Forwarded-For (first hop) takes precedence, then X-Real-IP, then the
// transport RemoteAddr. The result is normalized via Normalize; failures
// yield Unknown.
func FromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if ip := Normalize(first); ip != Unknown {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := Normalize(xri); ip != Unknown {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, e.g. from tests
		host = r.RemoteAddr
	}
	return Normalize(host)
}

// Normalize parses an address string and returns its canonical form.
// IPv4-mapped IPv6 addresses (e.g. ::ffff:1.2.3.4) normalize to IPv4.
// Unparseable input returns Unknown.
func Normalize(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return Unknown
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// Obfuscate irreversibly truncates an address for privacy in audit logs.
// IPv4 keeps the first two octets (192.168.1.100 → 192.168.xxx.xxx); IPv6
// keeps the first three groups of the canonical form and fills the rest
// with xxxx groups. Unrecognized input returns Unknown. This is a privacy
// policy, not a security control.
func Obfuscate(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return Unknown
	}
	if ip4 := ip.To4(); ip4 != nil {
		return fmt.Sprintf("%d.%d.xxx.xxx", ip4[0], ip4[1])
	}
	groups := strings.Split(ip.String(), ":")
	if len(groups) > 3 {
		groups = groups[:3]
	}
	return strings.Join(groups, ":") + ":xxxx:xxxx:xxxx:xxxx"
}
