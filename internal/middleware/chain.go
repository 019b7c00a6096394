package middleware

import (
	"log/slog"
	"net/http"

	"github.com/llmgateway/gateway/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition.
// Per-key admission is no longer a standalone middleware: it happens inside
// the proxy pipeline (internal/handlers.ProxyHandler), since admission must
// run after request parsing so a rejected key's attempt can still be
// attributed to an interaction record, which a pre-handler middleware
// cannot do.
type MiddlewareSet struct {
	RouteBlocklist Middleware
	Logging        Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(_ *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		RouteBlocklist: NewRouteBlocklistMiddleware(logger),
		Logging:        NewLoggingMiddleware(logger),
	}
}

// DefaultChain returns the standard middleware chain for proxied endpoints.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.RouteBlocklist, // reject reserved internal paths first
		ms.Logging,        // log everything that reaches the pipeline
	)
}

// HealthChain returns the middleware chain for health endpoints.
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RouteBlocklist,
		ms.Logging,
	)
}

// PublicChain returns the middleware chain for public endpoints (no request logging).
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.RouteBlocklist,
	)
}
