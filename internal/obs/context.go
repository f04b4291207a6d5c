package obs

import (
	"context"

	"github.com/go-chi/chi/v5"
)

type routePatternKey struct{}

// WithRoutePattern pins the route label used for logs, metrics and span names.
// A pinned pattern takes precedence over the one chi matches.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the pinned pattern or, once chi has routed
// the request, the matched pattern such as /api/v1/admin/mva/{product}/{origin}/{destination}.
func RoutePatternFromContext(ctx context.Context) string {
	if pattern, ok := ctx.Value(routePatternKey{}).(string); ok && pattern != "" {
		return pattern
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
