package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address used for rate limiting and request logs.
// The api router runs chi's RealIP first, so RemoteAddr already carries the
// forwarded address; the headers are only consulted when it does not parse.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if addr, ok := parseAddr(r.RemoteAddr); ok {
		return addr
	}
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP"} {
		first, _, _ := strings.Cut(r.Header.Get(header), ",")
		if addr, ok := parseAddr(first); ok {
			return addr
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func parseAddr(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
