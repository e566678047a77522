// Package grpcmw provides gRPC interceptors that verify signed unsubscribe
// tokens carried in request metadata.
//
// All interceptors accept a *sendgate.Gateway and use its TokenService, so
// tests can pass fake.NewGateway().
package grpcmw

import (
	"context"
	"strings"

	"github.com/paywise/sendgate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// MetadataKey is the default metadata key holding the token.
const MetadataKey = "x-sendgate-token"

// TokenOption configures token interceptor behavior.
type TokenOption func(*tokenConfig)

type tokenConfig struct {
	key             string
	excludedMethods map[string]bool
}

// WithMetadataKey sets the metadata key holding the token.
func WithMetadataKey(key string) TokenOption {
	return func(cfg *tokenConfig) { cfg.key = strings.ToLower(key) }
}

// WithExcludedMethods sets gRPC methods that skip verification.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) TokenOption {
	return func(cfg *tokenConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

func newConfig(opts []TokenOption) *tokenConfig {
	cfg := &tokenConfig{key: MetadataKey, excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// UnaryToken returns a gRPC unary server interceptor that verifies the token.
// On success the payload is available via sendgate.TokenPayloadFromContext.
func UnaryToken(gw *sendgate.Gateway, opts ...TokenOption) grpc.UnaryServerInterceptor {
	cfg := newConfig(opts)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		ctx, err := verify(ctx, gw, cfg.key)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// StreamToken returns a gRPC stream server interceptor that verifies the token.
func StreamToken(gw *sendgate.Gateway, opts ...TokenOption) grpc.StreamServerInterceptor {
	cfg := newConfig(opts)

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx, err := verify(ss.Context(), gw, cfg.key)
		if err != nil {
			return err
		}

		wrapped := &wrappedStream{ServerStream: ss, ctx: ctx}
		return handler(srv, wrapped)
	}
}

// --- internal helpers ---

// errInvalidLink is returned for every token failure so callers cannot tell
// which check rejected it.
var errInvalidLink = status.Error(codes.InvalidArgument, "invalid or expired link")

func verify(ctx context.Context, gw *sendgate.Gateway, key string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, errInvalidLink
	}

	tok := tokenFromMD(md, key)
	if tok == "" {
		return ctx, errInvalidLink
	}

	tokens := gw.Tokens()
	if tokens == nil {
		return ctx, status.Error(codes.Internal, "token service not configured")
	}

	payload, err := tokens.Verify(ctx, tok)
	if err != nil {
		if sendgate.IsTokenFailure(err) {
			return ctx, errInvalidLink
		}
		gw.Logger().ErrorContext(ctx, "token verification error", "error", err)
		return ctx, status.Error(codes.Unavailable, "verification temporarily unavailable")
	}

	return sendgate.WithTokenPayload(ctx, payload), nil
}

func tokenFromMD(md metadata.MD, key string) string {
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
