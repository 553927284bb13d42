package server

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/auth"
	"GameLedger/internal/ledger"
	"GameLedger/internal/observability"
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, caller ledger.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (ledger.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(ledger.Address)
	return caller, ok && caller != ""
}

func methodName(fullMethod string) string {
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}

// bearerToken extracts the token from an "authorization: Bearer ..." entry.
func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

// AuthInterceptor resolves the bearer token to the caller address.
// Mutations and admin calls require a valid token; reads accept anonymous
// callers but still reject a bad token.
func AuthInterceptor(a *auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		// Health and other infrastructure services are open.
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}

		token := bearerToken(ctx)
		if token == "" {
			if publicMethods[methodName(info.FullMethod)] {
				return handler(ctx, req)
			}
			return nil, apperr.New(apperr.CodeUnauthenticated, "bearer token is required")
		}

		claims, err := a.Verify(token)
		if err != nil {
			return nil, err
		}
		caller, err := ledger.ParseAddress(claims.Address)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUnauthenticated, "token subject is not an address", err)
		}
		return handler(WithCaller(ctx, caller), req)
	}
}

// ObserveInterceptor converts errors to gRPC statuses and records metrics
// and a log line per call.
func ObserveInterceptor(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		method := methodName(info.FullMethod)

		resp, err := handler(ctx, req)
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeUnknown {
				if _, isStatus := status.FromError(err); !isStatus {
					logger.Error().Err(err).Str("method", method).Msg("rpc failed")
				}
			}
			err = apperr.ToGRPC(err)
		}
		code := status.Code(err)

		if metrics != nil {
			metrics.RPCRequests.WithLabelValues(method, code.String()).Inc()
			metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
		logger.Debug().
			Str("method", method).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

// chainUnary composes interceptors so that the first is outermost.
func chainUnary(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, h := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) {
				return ic(ctx, req, info, h)
			}
		}
		return next(ctx, req)
	}
}
