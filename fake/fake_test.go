package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/fake"
)

func TestClock(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := fake.NewClock(t0)
	if !c.Now().Equal(t0) {
		t.Errorf("Now() = %s", c.Now())
	}
	c.Advance(90 * time.Second)
	if want := t0.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("after Advance Now() = %s, want %s", c.Now(), want)
	}
	c.Set(t0)
	if !c.Now().Equal(t0) {
		t.Errorf("after Set Now() = %s", c.Now())
	}
}

func TestLimiter(t *testing.T) {
	l := fake.NewLimiter(true)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a", time.Now())
	if !ok {
		t.Error("Allow() = false, want true")
	}
	l.SetAllow(false)
	ok, _ = l.Allow(ctx, "a", time.Now())
	if ok {
		t.Error("Allow() = true after SetAllow(false)")
	}

	boom := errors.New("boom")
	l.SetErr(boom)
	if _, err := l.Allow(ctx, "b", time.Now()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}

	if l.Calls("a") != 2 || l.Calls("b") != 1 || l.Calls("c") != 0 {
		t.Errorf("calls a=%d b=%d c=%d", l.Calls("a"), l.Calls("b"), l.Calls("c"))
	}
}

func TestHours(t *testing.T) {
	now := time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC)
	h := fake.NewHours(true)
	if !h.IsWithinWindow(now) || !h.NextWindowStart(now).Equal(now) {
		t.Error("open policy should report now")
	}

	h.SetOpen(false)
	if h.IsWithinWindow(now) {
		t.Error("closed policy reports open")
	}
	if want := now.Add(time.Hour); !h.NextWindowStart(now).Equal(want) {
		t.Errorf("NextWindowStart = %s, want %s", h.NextWindowStart(now), want)
	}
	h.SetNextWindowIn(10 * time.Hour)
	if want := now.Add(10 * time.Hour); !h.NextWindowStart(now).Equal(want) {
		t.Errorf("NextWindowStart = %s, want %s", h.NextWindowStart(now), want)
	}
}

func TestNewGateway_Wiring(t *testing.T) {
	gw := fake.NewGateway()
	if gw.Tokens() == nil || gw.Gate() == nil || gw.Tax() == nil || gw.Invoices() == nil {
		t.Fatal("NewGateway left a component unset")
	}
	if _, ok := gw.Limiter().(*fake.Limiter); !ok {
		t.Errorf("Limiter() = %T, want *fake.Limiter", gw.Limiter())
	}
	if _, ok := gw.Hours().(*fake.Hours); !ok {
		t.Errorf("Hours() = %T, want *fake.Hours", gw.Hours())
	}
	if gw.Config().Environment != "test" {
		t.Errorf("Environment = %q", gw.Config().Environment)
	}
}

func TestNewGateway_WithTime(t *testing.T) {
	at := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	gw := fake.NewGateway(fake.WithTime(at))
	if !gw.Clock().Now().Equal(at) {
		t.Errorf("Now() = %s, want %s", gw.Clock().Now(), at)
	}
}

func TestNewGateway_WithRateLimited(t *testing.T) {
	gw := fake.NewGateway(fake.WithRateLimited())
	p, err := gw.PrepareSend(context.Background(), sendgate.SendRequest{Recipient: "a@example.com", Class: sendgate.ClassTransactional})
	if err != nil {
		t.Fatal(err)
	}
	if p.Decision.Reason != sendgate.ReasonRateLimited {
		t.Errorf("Reason = %s, want RATE_LIMITED", p.Decision.Reason)
	}
}

func TestNewGateway_WithClosedHours(t *testing.T) {
	gw := fake.NewGateway(fake.WithClosedHours())
	ctx := context.Background()

	p, _ := gw.PrepareSend(ctx, sendgate.SendRequest{Recipient: "a@example.com", Class: sendgate.ClassReminder, Consent: true})
	if p.Decision.Reason != sendgate.ReasonOutsideBusinessHours {
		t.Fatalf("Reason = %s, want OUTSIDE_BUSINESS_HOURS", p.Decision.Reason)
	}
	if want := gw.Clock().Now().Add(time.Hour); !p.Decision.RetryAt.Equal(want) {
		t.Errorf("RetryAt = %s, want %s", p.Decision.RetryAt, want)
	}

	// Closed hours only restrict reminders.
	p, _ = gw.PrepareSend(ctx, sendgate.SendRequest{Recipient: "a@example.com", Class: sendgate.ClassMarketing, Consent: true})
	if !p.Decision.Allowed {
		t.Errorf("marketing denied: %s", p.Decision.Reason)
	}

	// The scripted policy can be reopened through the gateway.
	gw.Hours().(*fake.Hours).SetOpen(true)
	p, _ = gw.PrepareSend(ctx, sendgate.SendRequest{Recipient: "a@example.com", Class: sendgate.ClassReminder, Consent: true})
	if !p.Decision.Allowed {
		t.Errorf("reminder denied after reopening: %s", p.Decision.Reason)
	}
}

func TestNewGateway_InvoiceSuffixes(t *testing.T) {
	gw := fake.NewGateway(fake.WithInvoiceSuffixes("AAAA", "BBBB"))
	a, b, c := gw.Invoices().Next(), gw.Invoices().Next(), gw.Invoices().Next()
	if a[len(a)-4:] != "AAAA" || b[len(b)-4:] != "BBBB" {
		t.Errorf("scripted suffixes not used: %s %s", a, b)
	}
	if !(a < b && b < c) {
		t.Errorf("invoice numbers not increasing: %s %s %s", a, b, c)
	}
}

func TestNewGateway_TokenFollowsClock(t *testing.T) {
	gw := fake.NewGateway()
	ctx := context.Background()
	tok, err := gw.Tokens().Issue(ctx, sendgate.IssueRequest{Email: "a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	gw.Clock().(*fake.Clock).Advance(sendgate.DefaultTokenTTL + time.Millisecond)
	if _, err := gw.Tokens().Verify(ctx, tok); !errors.Is(err, sendgate.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}
