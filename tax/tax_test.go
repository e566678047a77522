package tax_test

import (
	"errors"
	"testing"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/tax"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, field string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Errorf("%s = %s, want %s", field, got.StringFixed(2), want)
	}
}

func TestComputeFromFinalPrice_WithFee(t *testing.T) {
	b, err := tax.ComputeFromFinalPrice(d("55.00"), true, d("0.18"), d("0.0175"))
	if err != nil {
		t.Fatalf("ComputeFromFinalPrice() error: %v", err)
	}

	assertMoney(t, "ProcessingFee", b.ProcessingFee, "0.96")
	assertMoney(t, "Subtotal", b.Subtotal, "45.80")
	assertMoney(t, "VATAmount", b.VATAmount, "8.24")
	assertMoney(t, "TotalAmount", b.TotalAmount, "55.00")

	sum := b.Subtotal.Add(b.VATAmount).Add(b.ProcessingFee)
	if !sum.Round(2).Equal(d("55.00")) {
		t.Errorf("subtotal + vat + fee = %s, want 55.00", sum)
	}
	if !b.Reconciles() {
		t.Error("Reconciles() = false")
	}
	if !b.VATRate.Equal(d("0.18")) || !b.ProcessingFeeRate.Equal(d("0.0175")) {
		t.Errorf("rates = %s / %s", b.VATRate, b.ProcessingFeeRate)
	}
}

func TestComputeFromFinalPrice_WithoutFee(t *testing.T) {
	b, err := tax.ComputeFromFinalPrice(d("118"), false, d("0.18"), d("0.0175"))
	if err != nil {
		t.Fatalf("ComputeFromFinalPrice() error: %v", err)
	}
	assertMoney(t, "ProcessingFee", b.ProcessingFee, "0")
	assertMoney(t, "Subtotal", b.Subtotal, "100.00")
	assertMoney(t, "VATAmount", b.VATAmount, "18.00")
	assertMoney(t, "TotalAmount", b.TotalAmount, "118.00")
}

func TestComputeFromFinalPrice_RoundsEachFieldOnce(t *testing.T) {
	// 10 / 1.18 = 8.474576...; 8.474576 * 0.18 = 1.525423...
	b, err := tax.ComputeFromFinalPrice(d("10"), false, d("0.18"), d("0"))
	if err != nil {
		t.Fatal(err)
	}
	assertMoney(t, "Subtotal", b.Subtotal, "8.47")
	// From the unrounded subtotal (1.5254), not from 8.47 * 0.18 = 1.5246.
	assertMoney(t, "VATAmount", b.VATAmount, "1.53")
}

func TestComputeFromFinalPrice_InvalidAmount(t *testing.T) {
	for _, price := range []string{"0", "-0.01", "-100"} {
		_, err := tax.ComputeFromFinalPrice(d(price), true, d("0.18"), d("0.0175"))
		if !errors.Is(err, sendgate.ErrInvalidAmount) {
			t.Errorf("price %s: err = %v, want ErrInvalidAmount", price, err)
		}
	}
}

func TestComputeFromFinalPrice_InvalidRates(t *testing.T) {
	tests := []struct {
		name     string
		vat, fee string
	}{
		{"negative vat", "-0.1", "0.0175"},
		{"negative fee", "0.18", "-0.01"},
		{"fee of 100%", "0.18", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tax.ComputeFromFinalPrice(d("10"), true, d(tt.vat), d(tt.fee)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestComputeFromFinalPrice_ReconcilesAcrossPrices(t *testing.T) {
	for cents := int64(1); cents <= 50000; cents += 37 {
		price := decimal.New(cents, -2)
		for _, fee := range []bool{true, false} {
			b, err := tax.ComputeFromFinalPrice(price, fee, tax.DefaultVATRate, tax.DefaultProcessingFeeRate)
			if err != nil {
				t.Fatalf("price %s: %v", price, err)
			}
			if !b.Reconciles() {
				t.Fatalf("price %s fee=%v does not reconcile: %+v", price, fee, b)
			}
		}
	}
}

func TestComputeFromFinalPrice_Idempotent(t *testing.T) {
	first, _ := tax.ComputeFromFinalPrice(d("123.45"), true, d("0.18"), d("0.0175"))
	for i := 0; i < 10; i++ {
		again, _ := tax.ComputeFromFinalPrice(d("123.45"), true, d("0.18"), d("0.0175"))
		if !again.Subtotal.Equal(first.Subtotal) || !again.VATAmount.Equal(first.VATAmount) ||
			!again.ProcessingFee.Equal(first.ProcessingFee) || !again.TotalAmount.Equal(first.TotalAmount) {
			t.Fatalf("call %d returned %+v, want %+v", i, again, first)
		}
	}
}

func TestEngine(t *testing.T) {
	e, err := tax.NewFromStrings("0.18", "0.0175")
	if err != nil {
		t.Fatalf("NewFromStrings() error: %v", err)
	}
	b, err := e.ComputeFromFinalPrice(d("55"), true)
	if err != nil {
		t.Fatalf("ComputeFromFinalPrice() error: %v", err)
	}
	assertMoney(t, "Subtotal", b.Subtotal, "45.80")

	if _, err := e.ComputeFromFinalPrice(d("0"), true); !errors.Is(err, sendgate.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestNewFromStrings_Invalid(t *testing.T) {
	if _, err := tax.NewFromStrings("abc", "0.0175"); err == nil {
		t.Error("expected error for bad VAT rate")
	}
	if _, err := tax.NewFromStrings("0.18", "1.5"); err == nil {
		t.Error("expected error for out-of-range fee rate")
	}
}
