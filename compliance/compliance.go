// Package compliance provides the single decision point for outbound sends:
// consent, per-recipient rate limit and, for reminders, business hours.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/audit"
	"github.com/paywise/sendgate/metrics"
)

// Gate implements sendgate.Decider.
type Gate struct {
	limiter sendgate.Limiter
	hours   sendgate.HoursPolicy
	clock   sendgate.Clock
	logger  *slog.Logger
	audit   *audit.Logger
	metrics *metrics.Metrics
}

// compile-time check
var _ sendgate.Decider = (*Gate)(nil)

// Option configures the Gate.
type Option func(*Gate)

// WithClock sets the time source. Default: sendgate.SystemClock.
func WithClock(c sendgate.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithAuditLogger sends every decision to an audit logger.
func WithAuditLogger(a *audit.Logger) Option {
	return func(g *Gate) { g.audit = a }
}

// WithMetrics records decision counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// New creates a Gate on top of a limiter and a business-hours policy.
func New(limiter sendgate.Limiter, hours sendgate.HoursPolicy, opts ...Option) *Gate {
	g := &Gate{
		limiter: limiter,
		hours:   hours,
		clock:   sendgate.SystemClock{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Decide evaluates a send request.
//
// Consent is checked first so a denied message never consumes a rate-limit
// slot. Every class then consumes one slot. Reminders are finally held to
// business hours; that denial is retryable and carries the next opening.
func (g *Gate) Decide(ctx context.Context, req sendgate.SendRequest) (sendgate.Decision, error) {
	if strings.TrimSpace(req.Recipient) == "" {
		return sendgate.Decision{}, fmt.Errorf("sendgate/compliance: %w", sendgate.ErrEmptyRecipient)
	}
	if !req.Class.Valid() {
		return sendgate.Decision{}, fmt.Errorf("sendgate/compliance: %w: %q", sendgate.ErrUnknownMessageClass, req.Class)
	}

	start := time.Now()
	now := g.clock.Now()

	if req.Class != sendgate.ClassTransactional && !req.Consent {
		return g.finish(ctx, req, deny(sendgate.ReasonConsentDenied), start), nil
	}

	allowed, err := g.limiter.Allow(ctx, req.Recipient, now)
	if err != nil {
		g.logger.ErrorContext(ctx, "rate limiter unavailable", "recipient", req.Recipient, "error", err)
		return sendgate.Decision{}, fmt.Errorf("sendgate/compliance: rate limiter: %w", err)
	}
	if !allowed {
		return g.finish(ctx, req, deny(sendgate.ReasonRateLimited), start), nil
	}

	if req.Class == sendgate.ClassReminder && !g.hours.IsWithinWindow(now) {
		d := deny(sendgate.ReasonOutsideBusinessHours)
		d.RetryAt = g.hours.NextWindowStart(now)
		return g.finish(ctx, req, d, start), nil
	}

	return g.finish(ctx, req, sendgate.Decision{Allowed: true, Reason: sendgate.ReasonOK}, start), nil
}

func deny(r sendgate.Reason) sendgate.Decision {
	return sendgate.Decision{Allowed: false, Reason: r}
}

func (g *Gate) finish(ctx context.Context, req sendgate.SendRequest, d sendgate.Decision, start time.Time) sendgate.Decision {
	g.metrics.RecordDecision(string(req.Class), string(d.Reason), time.Since(start))

	result := audit.ResultAllowed
	if !d.Allowed {
		result = audit.ResultDenied
	}
	g.audit.LogContext(ctx, audit.Event{
		Action:  audit.ActionDecision,
		Subject: req.Recipient,
		Class:   string(req.Class),
		Result:  result,
		Reason:  string(d.Reason),
	})

	attrs := []any{"recipient", req.Recipient, "class", req.Class, "reason", d.Reason}
	if !d.RetryAt.IsZero() {
		attrs = append(attrs, "retry_at", d.RetryAt)
	}
	g.logger.DebugContext(ctx, "compliance decision", attrs...)
	return d
}
