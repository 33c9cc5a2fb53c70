package assignment

import (
	"net/http"
	"strconv"
	"strings"
)

// Cookie names carrying a durable visitor id, checked in order.
const (
	LegacyVisitorCookie = "visitor_id"
	VisitorCookie       = "pt_vid"
)

// VisitorID derives the visitor identifier for a storefront request: a durable
// cookie when present, otherwise a hash of client IP and user agent.
func VisitorID(r *http.Request) string {
	for _, name := range []string{LegacyVisitorCookie, VisitorCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = "unknown"
	}
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = "unknown"
	}
	return "visitor_" + strconv.FormatInt(absHash(ip+ua), 10)
}

// ClientIP returns the first forwarded address, falling back to X-Real-IP.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return r.Header.Get("X-Real-IP")
}
