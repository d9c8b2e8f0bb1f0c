package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig restricts which peers may assert a client IP via proxy headers.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// ExtractClientIP resolves the originating client address for a request.
// X-Forwarded-For and X-Real-IP are honored only when the direct peer falls
// inside a trusted proxy range; otherwise the socket address wins, so a
// caller cannot pick its own rate-limit key by forging headers.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer := peerAddr(r)

	if config == nil || !withinTrusted(peer, config.TrustedProxies) {
		return peer
	}

	// Leftmost parseable entry is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			hop = strings.TrimSpace(hop)
			if net.ParseIP(hop) != nil {
				return hop
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}

	return peer
}

// peerAddr strips the port from RemoteAddr when one is present.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func withinTrusted(addr string, ranges []string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, cidr := range ranges {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}
