// Package token provides a TokenService issuing stateless, HMAC-signed,
// expiring unsubscribe tokens.
//
// Wire format: base64url(payload JSON) "." hex(HMAC-SHA256(secret, base64 segment)).
// The signature is checked in constant time before the payload is decoded.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/audit"
	"github.com/paywise/sendgate/metrics"
	"github.com/paywise/sendgate/replay"
)

// nonceBytes is the entropy of the per-issuance nonce.
const nonceBytes = 16

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// signer is HMAC-SHA256. Its Verify compares with hmac.Equal.
var signer = jwt.SigningMethodHS256

// Service implements sendgate.TokenService.
type Service struct {
	secret  []byte
	clock   sendgate.Clock
	ttl     time.Duration
	grace   time.Duration
	entropy io.Reader
	logger  *slog.Logger
	audit   *audit.Logger
	metrics *metrics.Metrics
	replay  replay.Store
}

// compile-time check
var _ sendgate.TokenService = (*Service)(nil)

// Option configures the Service.
type Option func(*Service)

// WithClock sets the time source. Default: sendgate.SystemClock.
func WithClock(c sendgate.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithTTL sets the default token lifetime. Default: 30 days.
func WithTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithGrace sets the slack added to the TTL for the issued-at age check.
// Default: 2 days.
func WithGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

// WithEntropy sets the nonce source. Default: crypto/rand.Reader.
func WithEntropy(r io.Reader) Option {
	return func(s *Service) { s.entropy = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAuditLogger sends issue and verify outcomes to an audit logger.
func WithAuditLogger(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics records issue and verify counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithReplayGuard makes tokens single-use: the nonce of every successfully
// verified token is consumed in store until the token expires.
func WithReplayGuard(store replay.Store) Option {
	return func(s *Service) { s.replay = store }
}

// New creates a token service signing with secret.
func New(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("sendgate/token: %w", sendgate.ErrMissingSecret)
	}
	s := &Service{
		secret:  append([]byte(nil), secret...),
		clock:   sendgate.SystemClock{},
		ttl:     sendgate.DefaultTokenTTL,
		grace:   sendgate.DefaultTokenGrace,
		entropy: rand.Reader,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Issue signs a new token for req.Email. The email shape is not validated here;
// Verify rejects malformed addresses.
//
// req.TTL may shorten the lifetime but not exceed the service TTL, which also
// bounds the issued-at age Verify accepts.
func (s *Service) Issue(ctx context.Context, req sendgate.IssueRequest) (string, error) {
	if strings.TrimSpace(req.Email) == "" {
		return "", fmt.Errorf("sendgate/token: %w", sendgate.ErrEmptySubject)
	}
	if req.TTL > s.ttl {
		return "", fmt.Errorf("sendgate/token: %w: %s > %s", sendgate.ErrTTLTooLong, req.TTL, s.ttl)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	nonce, err := s.newNonce()
	if err != nil {
		return "", fmt.Errorf("sendgate/token: nonce: %w", err)
	}

	now := s.clock.Now()
	payload := sendgate.TokenPayload{
		Email:       req.Email,
		CustomerID:  req.CustomerID,
		UserID:      req.UserID,
		IssuedAtMs:  now.UnixMilli(),
		ExpiresAtMs: now.Add(ttl).UnixMilli(),
		Nonce:       nonce,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("sendgate/token: encode payload: %w", err)
	}

	segment := base64.RawURLEncoding.EncodeToString(body)
	sig, err := signer.Sign(segment, s.secret)
	if err != nil {
		return "", fmt.Errorf("sendgate/token: sign: %w", err)
	}

	s.metrics.RecordTokenIssued()
	s.audit.LogContext(ctx, audit.Event{
		Action:  audit.ActionTokenIssue,
		Result:  audit.ResultSuccess,
		Subject: req.Email,
	})
	return segment + "." + hex.EncodeToString(sig), nil
}

// Verify validates a token and returns its payload. Checks run in order:
// shape, signature, payload decoding, expiry, issued-at age, email shape, and
// single use when a replay guard is configured.
func (s *Service) Verify(ctx context.Context, tok string) (*sendgate.TokenPayload, error) {
	now := s.clock.Now()

	payload, err := s.verify(ctx, tok, now)
	if err != nil {
		s.fail(ctx, payload, err)
		return nil, err
	}

	age := now.Sub(payload.IssuedAt())
	s.metrics.RecordTokenVerification("ok")
	s.audit.LogContext(ctx, audit.Event{
		Action:  audit.ActionTokenVerify,
		Result:  audit.ResultSuccess,
		Subject: payload.Email,
		AgeMs:   age.Milliseconds(),
	})
	s.logger.InfoContext(ctx, "token verified",
		"subject", payload.Email,
		"age", age.Round(time.Second).String(),
	)
	return payload, nil
}

func (s *Service) verify(ctx context.Context, tok string, now time.Time) (*sendgate.TokenPayload, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("sendgate/token: %w", sendgate.ErrMalformedToken)
	}
	segment, sigHex := parts[0], parts[1]

	sig, err := hex.DecodeString(sigHex)
	if err != nil || hex.EncodeToString(sig) != sigHex {
		return nil, fmt.Errorf("sendgate/token: %w", sendgate.ErrInvalidSignature)
	}
	if err := signer.Verify(segment, sig, s.secret); err != nil {
		return nil, fmt.Errorf("sendgate/token: %w", sendgate.ErrInvalidSignature)
	}

	payload, err := decodePayload(segment)
	if err != nil {
		return nil, fmt.Errorf("sendgate/token: %w: %v", sendgate.ErrInvalidPayload, err)
	}

	nowMs := now.UnixMilli()
	if nowMs > payload.ExpiresAtMs {
		return payload, fmt.Errorf("sendgate/token: %w", sendgate.ErrExpired)
	}
	// Independent of expiresAt: a payload may carry an arbitrary expiry.
	if nowMs-payload.IssuedAtMs > (s.ttl + s.grace).Milliseconds() {
		return payload, fmt.Errorf("sendgate/token: %w", sendgate.ErrTooOld)
	}
	if !emailPattern.MatchString(payload.Email) {
		return payload, fmt.Errorf("sendgate/token: %w", sendgate.ErrInvalidEmailFormat)
	}

	if s.replay != nil {
		if payload.Nonce == "" {
			return payload, fmt.Errorf("sendgate/token: %w: missing nonce", sendgate.ErrInvalidPayload)
		}
		first, err := s.replay.Consume(ctx, payload.Nonce, now, payload.ExpiresAt())
		if err != nil {
			return payload, fmt.Errorf("sendgate/token: replay store: %w", err)
		}
		if !first {
			return payload, fmt.Errorf("sendgate/token: %w", sendgate.ErrTokenReplayed)
		}
	}
	return payload, nil
}

// fail logs the specific sub-reason server side. payload is nil when the
// signature was not verified, so no unauthenticated data is logged.
func (s *Service) fail(ctx context.Context, payload *sendgate.TokenPayload, err error) {
	event := audit.Event{
		Action: audit.ActionTokenVerify,
		Result: audit.ResultFailure,
		Reason: sendgate.FailureReason(err),
	}
	if event.Reason == "" {
		event.Reason = "error"
		event.Error = err.Error()
	}
	if payload != nil {
		event.Subject = payload.Email
	}

	s.metrics.RecordTokenVerification(event.Reason)
	s.audit.LogContext(ctx, event)
	s.logger.WarnContext(ctx, "token verification failed",
		"reason", event.Reason,
		"subject", event.Subject,
	)
}

func (s *Service) newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := io.ReadFull(s.entropy, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// wirePayload detects missing required fields.
type wirePayload struct {
	Email       *string `json:"email"`
	CustomerID  *int64  `json:"customerId"`
	UserID      *int64  `json:"userId"`
	IssuedAtMs  *int64  `json:"timestamp"`
	ExpiresAtMs *int64  `json:"expiresAt"`
	Nonce       string  `json:"nonce"`
}

func decodePayload(segment string) (*sendgate.TokenPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		// Tokens minted with standard padded base64.
		raw, err = base64.StdEncoding.DecodeString(segment)
		if err != nil {
			return nil, fmt.Errorf("decode segment: %w", err)
		}
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	var missing []string
	if w.Email == nil {
		missing = append(missing, "email")
	}
	if w.IssuedAtMs == nil {
		missing = append(missing, "timestamp")
	}
	if w.ExpiresAtMs == nil {
		missing = append(missing, "expiresAt")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing fields %v", missing)
	}

	return &sendgate.TokenPayload{
		Email:       *w.Email,
		CustomerID:  w.CustomerID,
		UserID:      w.UserID,
		IssuedAtMs:  *w.IssuedAtMs,
		ExpiresAtMs: *w.ExpiresAtMs,
		Nonce:       w.Nonce,
	}, nil
}
