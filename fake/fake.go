// Package fake provides in-memory, scriptable implementations of the sendgate
// interfaces for testing.
//
// Use fake.NewGateway() in unit tests to get a fully wired Gateway with a
// manual clock, a fixed signing secret and scriptable limiter and hours policy.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/compliance"
	"github.com/paywise/sendgate/tax"
	"github.com/paywise/sendgate/token"
)

// Secret is the signing secret of gateways built by NewGateway.
const Secret = "fake-signing-secret-for-tests-only"

// --- Clock ---

// Clock is a manual sendgate.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

var _ sendgate.Clock = (*Clock)(nil)

// NewClock returns a clock stopped at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Limiter ---

// Limiter is a scriptable sendgate.Limiter that records every call.
type Limiter struct {
	mu    sync.Mutex
	allow bool
	err   error
	calls map[string]int // recipient → Allow calls
}

var _ sendgate.Limiter = (*Limiter)(nil)

// NewLimiter returns a limiter answering allow to every call.
func NewLimiter(allow bool) *Limiter {
	return &Limiter{allow: allow, calls: make(map[string]int)}
}

// Allow records the call and returns the scripted answer.
func (l *Limiter) Allow(_ context.Context, recipient string, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[recipient]++
	if l.err != nil {
		return false, l.err
	}
	return l.allow, nil
}

// SetAllow changes the scripted answer.
func (l *Limiter) SetAllow(allow bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allow = allow
}

// SetErr makes every later Allow fail with err. Pass nil to clear.
func (l *Limiter) SetErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Calls returns how many times Allow was called for recipient.
func (l *Limiter) Calls(recipient string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[recipient]
}

// --- HoursPolicy ---

// Hours is a scriptable sendgate.HoursPolicy.
type Hours struct {
	mu   sync.Mutex
	open bool
	next time.Duration
}

var _ sendgate.HoursPolicy = (*Hours)(nil)

// NewHours returns a policy that is always open or always closed.
func NewHours(open bool) *Hours {
	return &Hours{open: open, next: time.Hour}
}

// IsWithinWindow returns the scripted answer.
func (h *Hours) IsWithinWindow(time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// NextWindowStart returns now when open, now plus the scripted delay otherwise.
func (h *Hours) NextWindowStart(now time.Time) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return now
	}
	return now.Add(h.next)
}

// SetOpen changes the scripted answer.
func (h *Hours) SetOpen(open bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = open
}

// SetNextWindowIn sets how far ahead NextWindowStart reports while closed.
func (h *Hours) SetNextWindowIn(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next = d
}

// --- Gateway ---

// Option configures NewGateway.
type Option func(*state)

type state struct {
	now      time.Time
	allow    bool
	open     bool
	suffixes []string
}

// WithTime sets the initial fake time. Default: 2025-03-02 10:00 UTC.
func WithTime(t time.Time) Option {
	return func(s *state) { s.now = t }
}

// WithRateLimited makes the limiter deny every call.
func WithRateLimited() Option {
	return func(s *state) { s.allow = false }
}

// WithClosedHours makes the business-hours policy reject every call.
func WithClosedHours() Option {
	return func(s *state) { s.open = false }
}

// WithInvoiceSuffixes scripts the random invoice suffixes, consumed in order.
func WithInvoiceSuffixes(suffixes ...string) Option {
	return func(s *state) { s.suffixes = append(s.suffixes, suffixes...) }
}

// NewGateway creates a *sendgate.Gateway wired to real token, compliance and
// tax implementations on top of a fake clock, limiter and hours policy.
// The fakes are reachable through gw.Clock(), gw.Limiter() and gw.Hours().
func NewGateway(opts ...Option) *sendgate.Gateway {
	s := &state{
		now:   time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
		allow: true,
		open:  true,
	}
	for _, o := range opts {
		o(s)
	}

	clock := NewClock(s.now)
	limiter := NewLimiter(s.allow)
	hours := NewHours(s.open)

	tokens, _ := token.New([]byte(Secret), token.WithClock(clock))
	gate := compliance.New(limiter, hours, compliance.WithClock(clock))
	calc, _ := tax.New(tax.DefaultVATRate, tax.DefaultProcessingFeeRate)
	seq := tax.NewSequencer(clock, scriptedSuffix(s.suffixes))

	gw, _ := sendgate.New(
		sendgate.Config{Environment: "test", SigningSecret: Secret},
		sendgate.WithClock(clock),
		sendgate.WithTokenService(tokens),
		sendgate.WithDecider(gate),
		sendgate.WithLimiter(limiter),
		sendgate.WithHoursPolicy(hours),
		sendgate.WithTaxCalculator(calc),
		sendgate.WithInvoiceNumberer(seq),
	)
	return gw
}

func scriptedSuffix(suffixes []string) tax.SuffixFunc {
	var mu sync.Mutex
	i := 0
	return func(n int) string {
		mu.Lock()
		defer mu.Unlock()
		if i < len(suffixes) {
			i++
			return suffixes[i-1]
		}
		i++
		return tax.Base36(int64(i), n)
	}
}
