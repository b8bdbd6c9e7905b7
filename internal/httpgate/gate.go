// Package httpgate puts token bucket and leaky bucket admission in front of
// HTTP handlers.
package httpgate

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// KeyFunc extracts the client key a request is limited under.
type KeyFunc func(r *http.Request) string

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// retryAfterSeconds is the whole number of seconds, at least one, until a
// bucket running at rate frees one slot.
func retryAfterSeconds(rate float64) string {
	secs := math.Ceil(1 / rate)
	if secs < 1 || math.IsNaN(secs) {
		secs = 1
	}
	return strconv.FormatInt(int64(secs), 10)
}

func writeRejection(w http.ResponseWriter, status int, retryAfter, message string) {
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message + "\n"))
}
