package sendgate

import "context"

type ctxKey string

const ctxKeyTokenPayload ctxKey = "sendgate_token_payload"

// WithTokenPayload stores a verified token payload in the context.
func WithTokenPayload(ctx context.Context, p *TokenPayload) context.Context {
	return context.WithValue(ctx, ctxKeyTokenPayload, p)
}

// TokenPayloadFromContext extracts a verified token payload from the context.
func TokenPayloadFromContext(ctx context.Context) *TokenPayload {
	v, _ := ctx.Value(ctxKeyTokenPayload).(*TokenPayload)
	return v
}
