package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const UnknownClientIP = "unknown"

// ClientIP prefers the first X-Forwarded-For entry, then the peer address.
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}

	if req.RemoteAddr == "" {
		return UnknownClientIP
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	if host == "" {
		return UnknownClientIP
	}
	return host
}
