package kit

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	transportKey contextKey = iota
	requestIDKey
	remoteAddrKey
)

// WithTransport records how the request arrived: "http", "mcp".
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport returns the request transport, "internal" for calls that
// did not come through one (bus broadcasts, startup).
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "internal"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(remoteAddrKey).(string)
	return v
}

// LogAttrs returns the request metadata in ctx as slog attributes, for
// LogAttrs calls. Unset values are omitted.
func LogAttrs(ctx context.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("transport", GetTransport(ctx))}
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if addr := GetRemoteAddr(ctx); addr != "" {
		attrs = append(attrs, slog.String("remote", addr))
	}
	return attrs
}
