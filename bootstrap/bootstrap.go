// Package bootstrap builds a fully wired *sendgate.Gateway from a
// sendgate.Config.
//
//	cfg, err := config.Load()
//	if err != nil { ... }
//	gw, err := bootstrap.Build(ctx, cfg, bootstrap.WithRegisterer(prometheus.DefaultRegisterer))
//	if err != nil { ... }
//	defer gw.Close()
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/audit"
	"github.com/paywise/sendgate/compliance"
	"github.com/paywise/sendgate/config"
	"github.com/paywise/sendgate/hours"
	"github.com/paywise/sendgate/metrics"
	"github.com/paywise/sendgate/ratelimit"
	"github.com/paywise/sendgate/replay"
	"github.com/paywise/sendgate/secret"
	"github.com/paywise/sendgate/tax"
	"github.com/paywise/sendgate/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type options struct {
	logger      *slog.Logger
	clock       sendgate.Clock
	registerer  prometheus.Registerer
	auditor     *audit.Logger
	redisClient redis.UniversalClient
}

// Option customizes Build.
type Option func(*options)

// WithLogger overrides the logger built from Config.LogLevel.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock handed to every component.
func WithClock(c sendgate.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRegisterer enables Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithAuditLogger uses a caller-owned audit logger instead of one that
// forwards to the structured logger. The gateway does not close it.
func WithAuditLogger(a *audit.Logger) Option {
	return func(o *options) { o.auditor = a }
}

// WithRedisClient uses a caller-owned Redis client for the shared limiter and
// replay store, ignoring Config.RedisURL. The gateway does not close it.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = c }
}

// Build validates cfg, resolves the signing secret and wires the token
// service, limiter, business-hours policy, compliance gate, tax engine and
// invoice sequencer. When a Redis URL or client is given the limiter and the
// replay store are shared through Redis, otherwise they are process-local.
func Build(ctx context.Context, cfg sendgate.Config, opts ...Option) (*sendgate.Gateway, error) {
	cfg = cfg.WithDefaults()
	o := &options{clock: sendgate.SystemClock{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = config.NewLogger(cfg.LogLevel)
	}
	logger := o.logger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := secret.Resolve(cfg.SigningSecret, cfg.Environment)
	if err != nil {
		return nil, err
	}
	if cfg.SigningSecret == "" {
		logger.Warn("using development signing secret", "environment", cfg.Environment)
	}

	// Owned resources, released on failure and by Gateway.Close otherwise.
	var owned []io.Closer
	fail := func(err error) (*sendgate.Gateway, error) {
		for i := len(owned) - 1; i >= 0; i-- {
			_ = owned[i].Close()
		}
		return nil, err
	}

	m := metrics.New(o.registerer)

	auditor := o.auditor
	if auditor == nil {
		auditor = audit.New(0, audit.WithSlogHandler(logger), audit.WithMetrics(m))
		owned = append(owned, auditor)
	}

	client := o.redisClient
	if client == nil && cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("sendgate/bootstrap: redis url: %w", err))
		}
		rc := redis.NewClient(ropts)
		owned = append(owned, rc)
		client = rc
	}
	if client != nil {
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("sendgate/bootstrap: redis: %w", err))
		}
	}

	var limiter sendgate.Limiter
	if client != nil {
		limiter = ratelimit.NewRedis(client,
			ratelimit.WithRedisLimit(cfg.RateLimitPerHour),
			ratelimit.WithRedisWindow(cfg.RateLimitWindow),
		)
	} else {
		limiter = ratelimit.NewMemory(
			ratelimit.WithLimit(cfg.RateLimitPerHour),
			ratelimit.WithWindow(cfg.RateLimitWindow),
			ratelimit.WithSweepInterval(cfg.SweepInterval),
			ratelimit.WithClock(o.clock),
			ratelimit.WithLogger(logger),
			ratelimit.WithMetrics(m),
		)
	}
	if cl, ok := limiter.(io.Closer); ok {
		owned = append(owned, cl)
	}

	policy, err := hours.New(cfg.BusinessZone, cfg.BusinessHoursStart, cfg.BusinessHoursEnd)
	if err != nil {
		return fail(err)
	}

	engine, err := tax.NewFromStrings(cfg.VATRate, cfg.ProcessingFeeRate,
		tax.WithLogger(logger),
		tax.WithMetrics(m),
	)
	if err != nil {
		return fail(err)
	}

	tokenOpts := []token.Option{
		token.WithClock(o.clock),
		token.WithTTL(cfg.TokenTTL),
		token.WithGrace(cfg.TokenGrace),
		token.WithLogger(logger),
		token.WithAuditLogger(auditor),
		token.WithMetrics(m),
	}
	if cfg.SingleUseTokens {
		if client != nil {
			tokenOpts = append(tokenOpts, token.WithReplayGuard(replay.NewRedis(client, "")))
		} else {
			store := replay.NewMemory()
			owned = append(owned, startJanitor(store, o.clock, cfg.SweepInterval, logger))
			tokenOpts = append(tokenOpts, token.WithReplayGuard(store))
		}
	}
	tokens, err := token.New(key, tokenOpts...)
	if err != nil {
		return fail(err)
	}

	gate := compliance.New(limiter, policy,
		compliance.WithClock(o.clock),
		compliance.WithLogger(logger),
		compliance.WithAuditLogger(auditor),
		compliance.WithMetrics(m),
	)

	gwOpts := []sendgate.Option{
		sendgate.WithLogger(logger),
		sendgate.WithClock(o.clock),
		sendgate.WithTokenService(tokens),
		sendgate.WithDecider(gate),
		sendgate.WithLimiter(limiter),
		sendgate.WithHoursPolicy(policy),
		sendgate.WithTaxCalculator(engine),
		sendgate.WithInvoiceNumberer(tax.NewSequencer(o.clock, nil)),
	}
	// Audit and Redis close after the components that write to them.
	for i := len(owned) - 1; i >= 0; i-- {
		gwOpts = append(gwOpts, sendgate.WithCloser(owned[i]))
	}

	gw, err := sendgate.New(cfg, gwOpts...)
	if err != nil {
		return fail(err)
	}

	logger.Info("sendgate gateway ready",
		"environment", cfg.Environment,
		"limiter", fmt.Sprintf("%T", limiter),
		"rate_limit", cfg.RateLimitPerHour,
		"business_zone", cfg.BusinessZone,
		"single_use_tokens", cfg.SingleUseTokens,
	)
	return gw, nil
}

// janitor periodically drops expired nonces from an in-memory replay store.
type janitor struct {
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func startJanitor(store *replay.Memory, clock sendgate.Clock, every time.Duration, logger *slog.Logger) *janitor {
	j := &janitor{done: make(chan struct{})}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := store.Sweep(clock.Now()); n > 0 {
					logger.Debug("replay store swept expired nonces", "removed", n, "remaining", store.Len())
				}
			case <-j.done:
				return
			}
		}
	}()
	return j
}

func (j *janitor) Close() error {
	j.once.Do(func() {
		close(j.done)
		j.wg.Wait()
	})
	return nil
}
