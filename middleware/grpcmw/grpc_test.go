package grpcmw

import (
	"context"
	"testing"
	"time"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/fake"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func issue(t *testing.T, gw *sendgate.Gateway, email string) string {
	t.Helper()
	tok, err := gw.Tokens().Issue(context.Background(), sendgate.IssueRequest{Email: email})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func incoming(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestVerify_Success(t *testing.T) {
	gw := fake.NewGateway()
	tok := issue(t, gw, "alice@example.com")

	ctx, err := verify(incoming(MetadataKey, tok), gw, MetadataKey)
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}

	p := sendgate.TokenPayloadFromContext(ctx)
	if p == nil || p.Email != "alice@example.com" {
		t.Errorf("expected payload for alice@example.com, got %+v", p)
	}
}

func TestVerifyMultipleCases(t *testing.T) {
	gw := fake.NewGateway()
	expired := issue(t, gw, "bob@example.com")
	gw.Clock().(*fake.Clock).Advance(sendgate.DefaultTokenTTL + time.Hour)
	valid := issue(t, gw, "carol@example.com")

	tests := []struct {
		name       string
		ctx        context.Context
		expectErr  bool
		expectCode codes.Code
	}{
		{"valid token", incoming(MetadataKey, valid), false, codes.OK},
		{"no metadata", context.Background(), true, codes.InvalidArgument},
		{"empty metadata", metadata.NewIncomingContext(context.Background(), metadata.New(nil)), true, codes.InvalidArgument},
		{"wrong key", incoming("authorization", "Bearer "+valid), true, codes.InvalidArgument},
		{"malformed", incoming(MetadataKey, "not-a-token"), true, codes.InvalidArgument},
		{"tampered", incoming(MetadataKey, "x"+valid[1:]), true, codes.InvalidArgument},
		{"expired", incoming(MetadataKey, expired), true, codes.InvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := verify(tc.ctx, gw, MetadataKey)

			if tc.expectErr {
				if err == nil {
					t.Fatalf("%s: expected error but got none", tc.name)
				}
				if status.Code(err) != tc.expectCode {
					t.Errorf("%s: expected code %v, got %v", tc.name, tc.expectCode, status.Code(err))
				}
				if status.Convert(err).Message() != "invalid or expired link" {
					t.Errorf("%s: message %q reveals the failing check", tc.name, status.Convert(err).Message())
				}
			} else if err != nil {
				t.Errorf("%s: unexpected error: %v", tc.name, err)
			}
		})
	}
}

func TestVerify_NotConfigured(t *testing.T) {
	gw, _ := sendgate.New(sendgate.Config{})
	_, err := verify(incoming(MetadataKey, "a.b"), gw, MetadataKey)
	if status.Code(err) != codes.Internal {
		t.Errorf("expected Internal, got %v", status.Code(err))
	}
}

func TestUnaryToken(t *testing.T) {
	gw := fake.NewGateway()
	tok := issue(t, gw, "alice@example.com")
	interceptor := UnaryToken(gw, WithExcludedMethods("/health.Health/Check"))

	var got *sendgate.TokenPayload
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		got = sendgate.TokenPayloadFromContext(ctx)
		return "ok", nil
	}

	resp, err := interceptor(incoming(MetadataKey, tok), nil, &grpc.UnaryServerInfo{FullMethod: "/mail.Unsubscribe/Confirm"}, handler)
	if err != nil || resp != "ok" {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}
	if got == nil || got.Email != "alice@example.com" {
		t.Errorf("handler saw payload %+v", got)
	}

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/mail.Unsubscribe/Confirm"}, handler)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", status.Code(err))
	}

	got = nil
	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/health.Health/Check"}, handler); err != nil {
		t.Errorf("excluded method: %v", err)
	}
	if got != nil {
		t.Error("excluded method should carry no payload")
	}
}

func TestUnaryToken_CustomKey(t *testing.T) {
	gw := fake.NewGateway()
	tok := issue(t, gw, "alice@example.com")
	interceptor := UnaryToken(gw, WithMetadataKey("X-Unsubscribe"))

	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/mail.Unsubscribe/Confirm"}

	if _, err := interceptor(incoming("x-unsubscribe", tok), nil, info, handler); err != nil {
		t.Errorf("custom key: %v", err)
	}
	if _, err := interceptor(incoming(MetadataKey, tok), nil, info, handler); status.Code(err) != codes.InvalidArgument {
		t.Errorf("default key should be ignored, got %v", status.Code(err))
	}
}

func TestStreamToken(t *testing.T) {
	gw := fake.NewGateway()
	tok := issue(t, gw, "alice@example.com")
	interceptor := StreamToken(gw)
	info := &grpc.StreamServerInfo{FullMethod: "/mail.Unsubscribe/Watch"}

	var got *sendgate.TokenPayload
	handler := func(srv interface{}, ss grpc.ServerStream) error {
		got = sendgate.TokenPayloadFromContext(ss.Context())
		return nil
	}

	if err := interceptor(nil, &mockServerStream{ctx: incoming(MetadataKey, tok)}, info, handler); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got == nil || got.Email != "alice@example.com" {
		t.Errorf("handler saw payload %+v", got)
	}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, handler)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", status.Code(err))
	}
}

func TestTokenFromMD(t *testing.T) {
	if tok := tokenFromMD(metadata.Pairs(MetadataKey, " abc.def "), MetadataKey); tok != "abc.def" {
		t.Errorf("expected abc.def, got %q", tok)
	}
	if tok := tokenFromMD(metadata.New(nil), MetadataKey); tok != "" {
		t.Errorf("expected empty string, got %q", tok)
	}
}

type ctxKey struct{}

func TestWrappedStream_Context(t *testing.T) {
	customCtx := context.WithValue(context.Background(), ctxKey{}, "value")

	mockStream := &mockServerStream{ctx: context.Background()}
	wrapped := &wrappedStream{ServerStream: mockStream, ctx: customCtx}

	if wrapped.Context() != customCtx {
		t.Error("wrapped stream should return custom context")
	}
}

type mockServerStream struct {
	ctx context.Context
}

func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) SendMsg(interface{}) error    { return nil }
func (m *mockServerStream) RecvMsg(interface{}) error    { return nil }
