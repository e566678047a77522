// Package tax derives subtotal, VAT and processing fee from a tax-inclusive
// final price and mints invoice numbers.
package tax

import (
	"fmt"
	"log/slog"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/metrics"
	"github.com/shopspring/decimal"
)

// Default rates.
var (
	DefaultVATRate           = decimal.RequireFromString(sendgate.DefaultVATRate)
	DefaultProcessingFeeRate = decimal.RequireFromString(sendgate.DefaultProcessingFeeRate)
)

const (
	moneyPlaces = 2
	ratePlaces  = 4
)

// ComputeFromFinalPrice splits finalPrice into subtotal, VAT and processing fee.
//
// The fee is settled in cents first, since that is the amount actually charged.
// Subtotal and VAT are then derived from the remainder at full precision and
// each rounded once, at the end. Intermediates are never re-rounded.
func ComputeFromFinalPrice(finalPrice decimal.Decimal, includeProcessingFee bool, vatRate, feeRate decimal.Decimal) (sendgate.TaxBreakdown, error) {
	if !finalPrice.IsPositive() {
		return sendgate.TaxBreakdown{}, fmt.Errorf("sendgate/tax: %w: %s", sendgate.ErrInvalidAmount, finalPrice)
	}
	if err := validateRates(vatRate, feeRate); err != nil {
		return sendgate.TaxBreakdown{}, err
	}

	total := finalPrice
	fee := decimal.Zero
	if includeProcessingFee {
		fee = total.Mul(feeRate).Round(moneyPlaces)
	}
	afterFee := total.Sub(fee)
	subtotal := afterFee.Div(decimal.NewFromInt(1).Add(vatRate))
	vat := subtotal.Mul(vatRate)

	return sendgate.TaxBreakdown{
		Subtotal:          subtotal.Round(moneyPlaces),
		VATAmount:         vat.Round(moneyPlaces),
		ProcessingFee:     fee,
		TotalAmount:       total.Round(moneyPlaces),
		VATRate:           vatRate.Round(ratePlaces),
		ProcessingFeeRate: feeRate.Round(ratePlaces),
	}, nil
}

func validateRates(vatRate, feeRate decimal.Decimal) error {
	if vatRate.IsNegative() {
		return fmt.Errorf("sendgate/tax: negative VAT rate %s", vatRate)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("sendgate/tax: processing fee rate %s out of range [0, 1)", feeRate)
	}
	return nil
}

// Engine implements sendgate.TaxCalculator with fixed rates.
type Engine struct {
	vatRate decimal.Decimal
	feeRate decimal.Decimal
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ sendgate.TaxCalculator = (*Engine)(nil)

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records computation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine. Rates are validated once here.
func New(vatRate, feeRate decimal.Decimal, opts ...Option) (*Engine, error) {
	if err := validateRates(vatRate, feeRate); err != nil {
		return nil, err
	}
	e := &Engine{vatRate: vatRate, feeRate: feeRate, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// NewFromStrings parses decimal rate strings, as found in configuration.
func NewFromStrings(vatRate, feeRate string, opts ...Option) (*Engine, error) {
	vat, err := decimal.NewFromString(vatRate)
	if err != nil {
		return nil, fmt.Errorf("sendgate/tax: VAT rate %q: %w", vatRate, err)
	}
	fee, err := decimal.NewFromString(feeRate)
	if err != nil {
		return nil, fmt.Errorf("sendgate/tax: processing fee rate %q: %w", feeRate, err)
	}
	return New(vat, fee, opts...)
}

// ComputeFromFinalPrice applies the engine's rates.
func (e *Engine) ComputeFromFinalPrice(finalPrice decimal.Decimal, includeProcessingFee bool) (sendgate.TaxBreakdown, error) {
	b, err := ComputeFromFinalPrice(finalPrice, includeProcessingFee, e.vatRate, e.feeRate)
	if err != nil {
		e.metrics.RecordTaxComputation("invalid_amount")
		return b, err
	}
	if !b.Reconciles() {
		// Unreachable for rates in range.
		e.logger.Error("tax breakdown does not reconcile",
			"total", b.TotalAmount.String(),
			"subtotal", b.Subtotal.String(),
			"vat", b.VATAmount.String(),
			"fee", b.ProcessingFee.String(),
		)
		e.metrics.RecordTaxComputation("unreconciled")
		return b, nil
	}
	e.metrics.RecordTaxComputation("ok")
	return b, nil
}

// VATRate returns the configured VAT rate.
func (e *Engine) VATRate() decimal.Decimal { return e.vatRate }

// ProcessingFeeRate returns the configured processing fee rate.
func (e *Engine) ProcessingFeeRate() decimal.Decimal { return e.feeRate }
