package api

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"resortwala/internal/metrics"
)

// grpc metadata keys are lower case
var requestIDMetadataKey = strings.ToLower(requestIDHeader)

// unaryInterceptors returns the server chain, outermost first.
func unaryInterceptors(logger zerolog.Logger, auth *AuthInterceptor) []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		recoverUnary(logger),
		accessLogUnary(logger),
		auth.Unary(),
	}
}

// accessLogUnary tags the call with a request id, echoes it back in the
// response header and records latency.
func accessLogUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := incomingRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, id))

		started := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(started)

		code := status.Code(err)
		metrics.ObserveGRPC(info.FullMethod, code.String(), elapsed)

		var ev *zerolog.Event
		switch code {
		case codes.OK:
			ev = logger.Debug()
		case codes.Internal, codes.Unknown, codes.Unavailable:
			ev = logger.Error().Err(err)
		default:
			ev = logger.Info().Str("error", status.Convert(err).Message())
		}
		ev.Str("request_id", id).
			Str("method", info.FullMethod).
			Str("peer", peerAddr(ctx)).
			Str("code", code.String()).
			Dur("elapsed", elapsed).
			Msg("grpc call")
		return resp, err
	}
}

// recoverUnary converts a handler panic into codes.Internal.
func recoverUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error().
					Interface("panic", p).
					Str("method", info.FullMethod).
					Str("stack", string(debug.Stack())).
					Msg("panic in grpc handler")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(requestIDMetadataKey) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return uuid.NewString()
}

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return clientKeyUnknown
	}
	return p.Addr.String()
}
