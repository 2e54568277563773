// Package kit holds the plumbing shared by webclip's outer surfaces (HTTP
// and MCP): a transport-neutral endpoint type, middleware chaining and the
// request-scoped context values both surfaces set.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one operation exposed on an outer surface.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares: the first is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of the endpoint named name with its outcome and
// duration.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := append(LogAttrs(ctx), slog.String("endpoint", name), slog.Duration("duration", time.Since(start)))
			if err != nil {
				logger.LogAttrs(ctx, slog.LevelWarn, "kit: endpoint failed", append(attrs, slog.Any("error", err))...)
				return resp, err
			}
			logger.LogAttrs(ctx, slog.LevelDebug, "kit: endpoint", attrs...)
			return resp, nil
		}
	}
}
