// Package sendgate decides whether an outbound financial or transactional
// communication may be sent and produces the verifiable artifacts attached to
// it: signed unsubscribe tokens, tax breakdowns and invoice numbers.
//
// The Gateway defines interfaces for each component. Concrete implementations
// are injected via Option functions; bootstrap.Build wires the default ones
// from a Config.
//
//	gw, err := sendgate.New(
//	    sendgate.Config{SigningSecret: secret},
//	    sendgate.WithTokenService(tokens),
//	    sendgate.WithDecider(gate),
//	)
package sendgate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
	_ "time/tzdata" // zone data for hosts without /usr/share/zoneinfo

	"github.com/shopspring/decimal"
)

// Gateway is the main entry point. Component implementations are injected
// via Option functions.
type Gateway struct {
	config   Config
	logger   *slog.Logger
	clock    Clock
	tokens   TokenService
	gate     Decider
	limiter  Limiter
	hours    HoursPolicy
	tax      TaxCalculator
	invoices InvoiceNumberer
	closers  []io.Closer
}

// Config holds every recognized option. Zero values are replaced by defaults
// in New.
type Config struct {
	// Environment names the deployment (development, staging, production...).
	// The development signing secret is only accepted in development-like environments.
	Environment string

	// SigningSecret is the HMAC key for unsubscribe tokens.
	SigningSecret string

	// RateLimitPerHour caps sends per recipient per window. Default: 100.
	RateLimitPerHour int

	// RateLimitWindow is the fixed window length. Default: 1 hour.
	RateLimitWindow time.Duration

	// BusinessHoursStart and BusinessHoursEnd bound the reminder window [start, end).
	// Defaults: 8 and 20.
	BusinessHoursStart int
	BusinessHoursEnd   int

	// BusinessZone is the IANA zone of the business window. Default: Asia/Jerusalem.
	BusinessZone string

	// VATRate and ProcessingFeeRate are decimal strings. Defaults: "0.18" and "0.0175".
	VATRate           string
	ProcessingFeeRate string

	// TokenTTL is the lifetime of issued tokens. Default: 30 days.
	TokenTTL time.Duration

	// TokenGrace is added to TokenTTL for the issued-at age check. Default: 2 days.
	TokenGrace time.Duration

	// RedisURL switches the rate limiter (and replay store) to a shared Redis.
	// Empty keeps everything process-local.
	RedisURL string

	// SingleUseTokens rejects a second verification of the same token.
	SingleUseTokens bool

	// SweepInterval controls how often expired limiter entries are dropped. Default: 10 minutes.
	SweepInterval time.Duration

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string
}

// Defaults.
const (
	DefaultRateLimitPerHour   = 100
	DefaultRateLimitWindow    = time.Hour
	DefaultBusinessHoursStart = 8
	DefaultBusinessHoursEnd   = 20
	DefaultBusinessZone       = "Asia/Jerusalem"
	DefaultVATRate            = "0.18"
	DefaultProcessingFeeRate  = "0.0175"
	DefaultTokenTTL           = 30 * 24 * time.Hour
	DefaultTokenGrace         = 2 * 24 * time.Hour
	DefaultSweepInterval      = 10 * time.Minute
	DefaultEnvironment        = "production"
)

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.RateLimitPerHour == 0 {
		c.RateLimitPerHour = DefaultRateLimitPerHour
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = DefaultRateLimitWindow
	}
	if c.BusinessHoursStart == 0 && c.BusinessHoursEnd == 0 {
		c.BusinessHoursStart = DefaultBusinessHoursStart
		c.BusinessHoursEnd = DefaultBusinessHoursEnd
	}
	if c.BusinessZone == "" {
		c.BusinessZone = DefaultBusinessZone
	}
	if c.VATRate == "" {
		c.VATRate = DefaultVATRate
	}
	if c.ProcessingFeeRate == "" {
		c.ProcessingFeeRate = DefaultProcessingFeeRate
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.TokenGrace == 0 {
		c.TokenGrace = DefaultTokenGrace
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Validate checks the non-secret options. Secret policy lives in secret.Resolve.
func (c Config) Validate() error {
	if c.RateLimitPerHour <= 0 {
		return fmt.Errorf("sendgate: rate limit must be positive, got %d", c.RateLimitPerHour)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("sendgate: rate limit window must be positive, got %s", c.RateLimitWindow)
	}
	if c.BusinessHoursStart < 0 || c.BusinessHoursEnd > 24 || c.BusinessHoursStart >= c.BusinessHoursEnd {
		return fmt.Errorf("sendgate: invalid business hours [%d, %d)", c.BusinessHoursStart, c.BusinessHoursEnd)
	}
	if _, err := time.LoadLocation(c.BusinessZone); err != nil {
		return fmt.Errorf("sendgate: unknown business zone %q: %w", c.BusinessZone, err)
	}
	vat, err := decimal.NewFromString(c.VATRate)
	if err != nil || vat.IsNegative() {
		return fmt.Errorf("sendgate: invalid VAT rate %q", c.VATRate)
	}
	fee, err := decimal.NewFromString(c.ProcessingFeeRate)
	if err != nil || fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("sendgate: invalid processing fee rate %q", c.ProcessingFeeRate)
	}
	if c.TokenTTL <= 0 || c.TokenGrace < 0 {
		return fmt.Errorf("sendgate: invalid token lifetime ttl=%s grace=%s", c.TokenTTL, c.TokenGrace)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sendgate: sweep interval must not be negative, got %s", c.SweepInterval)
	}
	return nil
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock sets the clock used by PrepareSend and handed to components by bootstrap.
func WithClock(c Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithTokenService sets the token implementation.
func WithTokenService(t TokenService) Option {
	return func(g *Gateway) { g.tokens = t }
}

// WithDecider sets the compliance gate.
func WithDecider(d Decider) Option {
	return func(g *Gateway) { g.gate = d }
}

// WithLimiter exposes the limiter the decider uses.
func WithLimiter(l Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithHoursPolicy exposes the business-hours policy the decider uses.
func WithHoursPolicy(h HoursPolicy) Option {
	return func(g *Gateway) { g.hours = h }
}

// WithTaxCalculator sets the tax engine.
func WithTaxCalculator(t TaxCalculator) Option {
	return func(g *Gateway) { g.tax = t }
}

// WithInvoiceNumberer sets the invoice number source.
func WithInvoiceNumberer(n InvoiceNumberer) Option {
	return func(g *Gateway) { g.invoices = n }
}

// WithCloser registers a resource that is not itself a component (a Redis
// client, an audit logger) to be released by Close.
func WithCloser(c io.Closer) Option {
	return func(g *Gateway) { g.closers = append(g.closers, c) }
}

// New creates a Gateway with the given configuration and options.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{config: cfg, logger: slog.Default(), clock: SystemClock{}}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config { return g.config }

// Clock returns the gateway clock.
func (g *Gateway) Clock() Clock { return g.clock }

// Logger returns the gateway logger.
func (g *Gateway) Logger() *slog.Logger { return g.logger }

// Tokens returns the token service, or nil if not configured.
func (g *Gateway) Tokens() TokenService { return g.tokens }

// Gate returns the compliance decider, or nil if not configured.
func (g *Gateway) Gate() Decider { return g.gate }

// Limiter returns the rate limiter, or nil if not configured.
func (g *Gateway) Limiter() Limiter { return g.limiter }

// Hours returns the business-hours policy, or nil if not configured.
func (g *Gateway) Hours() HoursPolicy { return g.hours }

// Tax returns the tax calculator, or nil if not configured.
func (g *Gateway) Tax() TaxCalculator { return g.tax }

// Invoices returns the invoice numberer, or nil if not configured.
func (g *Gateway) Invoices() InvoiceNumberer { return g.invoices }

// PrepareSend runs the compliance decision and, for an allowed send, produces
// the artifacts the request asks for. A denied send returns the decision and
// no artifacts.
func (g *Gateway) PrepareSend(ctx context.Context, req SendRequest) (*Prepared, error) {
	if g.gate == nil {
		return nil, fmt.Errorf("sendgate: decider not configured")
	}

	decision, err := g.gate.Decide(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Prepared{Decision: decision}
	if !decision.Allowed {
		return out, nil
	}

	if req.NeedsRevocationLink {
		if g.tokens == nil {
			return nil, fmt.Errorf("sendgate: token service not configured")
		}
		tok, err := g.tokens.Issue(ctx, IssueRequest{
			Email:      req.Recipient,
			CustomerID: req.CustomerID,
			UserID:     req.UserID,
		})
		if err != nil {
			return nil, err
		}
		out.Token = tok
	}

	if req.Invoice != nil {
		if g.tax == nil || g.invoices == nil {
			return nil, fmt.Errorf("sendgate: tax engine not configured")
		}
		b, err := g.tax.ComputeFromFinalPrice(req.Invoice.FinalPrice, req.Invoice.IncludeProcessingFee)
		if err != nil {
			return nil, err
		}
		out.Breakdown = &b
		out.InvoiceNumber = g.invoices.Next()
	}

	return out, nil
}

// Close releases all resources held by the gateway.
// Any injected component that implements io.Closer will be closed.
func (g *Gateway) Close() error {
	components := []interface{}{
		g.tokens, g.gate, g.limiter,
		g.hours, g.tax, g.invoices,
	}
	var firstErr error
	closed := make(map[io.Closer]bool)
	closeOnce := func(cl io.Closer) {
		if closed[cl] {
			return
		}
		closed[cl] = true
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range components {
		if cl, ok := c.(io.Closer); ok && cl != nil {
			closeOnce(cl)
		}
	}
	for _, cl := range g.closers {
		closeOnce(cl)
	}
	return firstErr
}
