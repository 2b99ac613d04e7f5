package kit

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp"
	RequestIDKey contextKey = "kit_request_id"
)

// Transports.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

// Logger returns the default logger enriched with the transport and request
// id carried by ctx.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default().With("transport", GetTransport(ctx))
	if id := GetRequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	return logger
}
