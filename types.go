package sendgate

import (
	"time"

	"github.com/shopspring/decimal"
)

// MessageClass classifies an outbound communication for consent handling.
type MessageClass string

const (
	// ClassTransactional covers invoices, receipts and vouchers. Consent is implied.
	ClassTransactional MessageClass = "transactional"
	// ClassMarketing requires an explicit opt-in.
	ClassMarketing MessageClass = "marketing"
	// ClassReminder requires an opt-in and is restricted to business hours.
	ClassReminder MessageClass = "reminder"
)

// Valid reports whether c is one of the known message classes.
func (c MessageClass) Valid() bool {
	switch c {
	case ClassTransactional, ClassMarketing, ClassReminder:
		return true
	}
	return false
}

// Reason explains a compliance decision.
type Reason string

const (
	ReasonOK                   Reason = "OK"
	ReasonConsentDenied        Reason = "CONSENT_DENIED"
	ReasonRateLimited          Reason = "RATE_LIMITED"
	ReasonOutsideBusinessHours Reason = "OUTSIDE_BUSINESS_HOURS"
)

// Decision is the outcome of a compliance check. A denial is a normal value,
// not an error.
type Decision struct {
	Allowed bool
	Reason  Reason

	// RetryAt is the next business-hours opening when Reason is
	// ReasonOutsideBusinessHours, zero otherwise.
	RetryAt time.Time
}

// Retryable reports whether the caller should reschedule instead of dropping.
func (d Decision) Retryable() bool {
	return d.Reason == ReasonOutsideBusinessHours
}

// SendRequest describes a requested send. Consent is resolved by the caller;
// this package never reads a consent store.
type SendRequest struct {
	Recipient string
	Class     MessageClass
	Consent   bool

	// NeedsRevocationLink asks PrepareSend to issue an unsubscribe token.
	NeedsRevocationLink bool
	CustomerID          *int64
	UserID              *int64

	// Invoice, when set, asks PrepareSend for a tax breakdown and invoice number.
	Invoice *InvoiceRequest
}

// InvoiceRequest carries the customer-facing price of an invoice-class message.
type InvoiceRequest struct {
	FinalPrice           decimal.Decimal
	IncludeProcessingFee bool
}

// Prepared bundles everything PrepareSend produced for an allowed send.
type Prepared struct {
	Decision      Decision
	Token         string
	Breakdown     *TaxBreakdown
	InvoiceNumber string
}

// TokenPayload is the signed content of an unsubscribe token.
type TokenPayload struct {
	Email       string `json:"email"`
	CustomerID  *int64 `json:"customerId"`
	UserID      *int64 `json:"userId"`
	IssuedAtMs  int64  `json:"timestamp"`
	ExpiresAtMs int64  `json:"expiresAt"`
	Nonce       string `json:"nonce"`
}

// IssuedAt returns the issuance time.
func (p TokenPayload) IssuedAt() time.Time { return time.UnixMilli(p.IssuedAtMs) }

// ExpiresAt returns the expiry time.
func (p TokenPayload) ExpiresAt() time.Time { return time.UnixMilli(p.ExpiresAtMs) }

// IssueRequest describes the subject of a new token.
type IssueRequest struct {
	Email      string
	CustomerID *int64
	UserID     *int64
	TTL        time.Duration // zero means the service default; longer is rejected
}

// TaxBreakdown is the reverse-calculated split of a tax-inclusive price.
// Money fields carry 2 decimal places, rates carry 4.
type TaxBreakdown struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	VATAmount         decimal.Decimal `json:"vatAmount"`
	ProcessingFee     decimal.Decimal `json:"processingFee"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	VATRate           decimal.Decimal `json:"vatRate"`
	ProcessingFeeRate decimal.Decimal `json:"processingFeeRate"`
}

// Reconciles reports whether subtotal + VAT + fee equals the total within one cent.
func (b TaxBreakdown) Reconciles() bool {
	sum := b.Subtotal.Add(b.VATAmount).Add(b.ProcessingFee).Round(2)
	return sum.Sub(b.TotalAmount).Abs().LessThanOrEqual(decimal.New(1, -2))
}
