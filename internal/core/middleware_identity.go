package core

import (
	"net"
	"net/http"
	"strings"

	"logoforge/internal/types"
)

// ClientIPMiddleware resolves the client's network address once per request
// and stores it in the context. The quota layer keys anonymous identities on
// this value, so its derivation is centralized here rather than re-done per
// handler.
//
// When trustProxy is set (deployment behind a trusted load balancer), the
// leftmost X-Forwarded-For entry is used. Otherwise the header is ignored:
// honoring it from untrusted clients would let anyone mint fresh anonymous
// quota identities per request.
func ClientIPMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trustProxy)
			ctx := types.WithClientIP(r.Context(), ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveClientIP extracts the client IP, stripped of any port.
func resolveClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// "client, proxy1, proxy2": the first entry is the original client.
			parts := strings.SplitN(xff, ",", 2)
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not carry a port (e.g., in tests).
		return r.RemoteAddr
	}
	return ip
}
