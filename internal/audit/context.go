package audit

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "audit_request_id"
	remoteAddressKey ctxKey = "audit_remote_address"
)

// WithRequestID attaches the request identifier recorded on audit entries.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithRemoteAddress attaches the caller address recorded on audit entries.
func WithRemoteAddress(ctx context.Context, addr string) context.Context {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ctx
	}
	return context.WithValue(ctx, remoteAddressKey, addr)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func remoteAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(remoteAddressKey).(string)
	return v
}
