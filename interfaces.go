package sendgate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Clock supplies the current time. Every time-based check takes one so tests
// can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// TokenService issues and verifies signed unsubscribe tokens.
// Implementations: token/.
type TokenService interface {
	// Issue signs a new token for the subject.
	Issue(ctx context.Context, req IssueRequest) (string, error)

	// Verify checks the signature, expiry and age of a token and returns its payload.
	Verify(ctx context.Context, token string) (*TokenPayload, error)
}

// Limiter caps sends per recipient within a fixed window.
// Implementations: ratelimit.Memory (process-local), ratelimit.Redis (shared), fake/.
type Limiter interface {
	// Allow consumes one slot for recipient and reports whether the send may proceed.
	Allow(ctx context.Context, recipient string, now time.Time) (bool, error)
}

// HoursPolicy decides whether a moment falls in the allowed sending window.
// Implementations: hours/, fake/.
type HoursPolicy interface {
	// IsWithinWindow reports whether now, in the policy's zone, is inside the window.
	IsWithinWindow(now time.Time) bool

	// NextWindowStart returns the earliest instant >= now that is inside the window.
	NextWindowStart(now time.Time) time.Time
}

// Decider is the single compliance decision point.
// Implementations: compliance/.
type Decider interface {
	// Decide returns an allow/deny decision. Denials are values, not errors.
	Decide(ctx context.Context, req SendRequest) (Decision, error)
}

// TaxCalculator derives a tax breakdown from a tax-inclusive price.
// Implementations: tax/.
type TaxCalculator interface {
	ComputeFromFinalPrice(finalPrice decimal.Decimal, includeProcessingFee bool) (TaxBreakdown, error)
}

// InvoiceNumberer mints invoice identifiers.
// Implementations: tax.Sequencer.
type InvoiceNumberer interface {
	Next() string
}
