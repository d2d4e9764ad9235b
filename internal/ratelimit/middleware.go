package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"ticker-enricher/internal/common/logging"
)

// privateSegment marks operational endpoints that bypass admission control.
const privateSegment = "_private"

// Middleware enforces admission control on every request except health
// probes and paths containing a _private segment. Denied requests get a 429
// with a JSON body; everything else passes through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || strings.Contains(r.URL.Path, privateSegment) {
			next.ServeHTTP(w, r)
			return
		}

		client := ClientKey(r)
		if !l.Allow(r.Context(), client) {
			l.logger.Info("rate limited",
				logging.String("client", client),
				logging.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded, try again later"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller for bucket selection: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection's remote host.
// "UNK" when nothing identifies the peer, so anonymous traffic shares one
// bucket instead of escaping the limiter.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "UNK"
}
