package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Limiter is satisfied by *ratelimit.Limiter.
type Limiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// RateLimit rejects callers that exceed limiter with 429. Callers are keyed
// by client IP: the connection's peer, or the X-Forwarded-For client when
// the peer is one of trustedProxies. Health probes are never limited.
func RateLimit(limiter Limiter, trustedProxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health/") {
				next.ServeHTTP(w, r)
				return
			}
			client := clientIP(r, trustedProxies)
			if !limiter.Allow(client) {
				wait := int(math.Ceil(limiter.RetryAfter(client).Seconds()))
				slog.Debug("rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP walks X-Forwarded-For from the right, past trusted proxies, to
// the first hop that is not one. Without a trusted peer the header is
// ignored, since any client can set it.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !isTrusted(peer, trusted) {
		return host
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !isTrusted(hop, trusted) {
			return hop.Unmap().String()
		}
	}
	return host
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
