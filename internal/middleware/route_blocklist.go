package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// reservedPrefixes names the internal path namespace the gateway itself
// owns (admin control plane, internal API, websocket upgrade, status page).
// Client-facing chat requests must never land on these.
var reservedPrefixes = []string{"control/", "_api/", "ws", "about"}

// RouteBlocklistMiddleware rejects requests targeting the gateway's own
// reserved internal path prefixes before they reach the proxy pipeline.
// Generalized from the teacher's statsig_blocker.go/metrics_blocker.go,
// which each recognized one hardcoded host/path and returned a canned
// response instead of forwarding; this gateway is a general multi-backend
// proxy rather than a single CLI's telemetry sidecar, so the blocklist is
// one small, fixed prefix list (reservedPrefixes) rather than two special
// cases.
type RouteBlocklistMiddleware struct {
	logger *slog.Logger
}

func NewRouteBlocklistMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	rb := &RouteBlocklistMiddleware{logger: logger}
	return rb.middleware
}

func (rb *RouteBlocklistMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		if isReservedPath(path) {
			rb.logger.Warn("rejected request to reserved internal path", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, "not found", http.StatusNotFound)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func isReservedPath(path string) bool {
	for _, prefix := range reservedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}
