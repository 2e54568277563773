package envelope

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Middleware wraps a Handler, adding cross-cutting behaviour (logging,
// timeout, recovery) without changing the signature.
type Middleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every dispatched envelope with its duration.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env Envelope) (Envelope, error) {
			start := time.Now()
			resp, err := next(ctx, env)
			dur := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "envelope: handler failed",
					"name", env.Name, "duration_ms", dur.Milliseconds(), "error", err)
			} else {
				logger.DebugContext(ctx, "envelope: handled",
					"name", env.Name, "duration_ms", dur.Milliseconds(),
					"response_bytes", len(resp.Body))
			}
			return resp, err
		}
	}
}

// Timeout bounds a handler's run time. Zero disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, env Envelope) (Envelope, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, env)
		}
	}
}

// Recovery converts handler panics into *ErrPanic.
func Recovery(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env Envelope) (resp Envelope, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "envelope: handler panic recovered",
						"name", env.Name, "panic", r, "stack", string(debug.Stack()))
					err = &ErrPanic{Name: env.Name, Value: r}
				}
			}()
			return next(ctx, env)
		}
	}
}
