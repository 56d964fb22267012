package grpcserver

import (
	"context"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/dataservice/internal/audit"
	"github.com/and161185/dataservice/internal/ids"
	"github.com/and161185/dataservice/internal/service"
)

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "x-request-id"

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteIP(ctx)),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// RequestIDUnary adopts a well-formed x-request-id from the caller or mints a
// new one, and makes it and the peer address available to audit entries.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			for _, v := range md.Get(RequestIDHeader) {
				if v = strings.TrimSpace(v); ids.ValidRequestID(v) {
					id = v
					break
				}
			}
		}
		if id == "" {
			id = ids.NewRequestID()
		}
		// fails only outside a real transport stream
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

		ctx = audit.WithRequestID(ctx, id)
		ctx = audit.WithRemoteAddress(ctx, remoteHost(ctx))
		return next(ctx, req)
	}
}

// AuthUnary resolves the bearer token into an actor for every method except
// the public ones.
func AuthUnary(auth service.AuthService, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(public))
	for _, m := range public {
		skip[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; ok {
			return next(ctx, req)
		}
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		actor, err := auth.Authenticate(ctx, tok)
		if err != nil {
			return nil, toStatus(err)
		}
		return next(WithActor(ctx, actor), req)
	}
}

// RateLimitUnary applies a token bucket per client host. Buckets idle for
// longer than ttl are dropped.
func RateLimitUnary(perSecond float64, burst int) grpc.UnaryServerInterceptor {
	type bucket struct {
		lim  *rate.Limiter
		seen time.Time
	}
	const ttl = 5 * time.Minute
	var (
		mu        sync.Mutex
		buckets   = make(map[string]*bucket)
		lastSweep = time.Now()
	)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		host := remoteHost(ctx)
		if host == "" {
			host = "unknown"
		}
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > time.Minute {
			for k, b := range buckets {
				if now.Sub(b.seen) > ttl {
					delete(buckets, k)
				}
			}
			lastSweep = now
		}
		b, ok := buckets[host]
		if !ok {
			b = &bucket{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
			buckets[host] = b
		}
		b.seen = now
		allowed := b.lim.AllowN(now, 1)
		mu.Unlock()

		if !allowed {
			return nil, status.Error(codes.ResourceExhausted, "rate limited")
		}
		return next(ctx, req)
	}
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// remoteHost is remoteIP without the port.
func remoteHost(ctx context.Context) string {
	addr := remoteIP(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
