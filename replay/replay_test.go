package replay_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/paywise/sendgate/replay"
	"github.com/redis/go-redis/v9"
)

func TestMemory_ConsumeOnce(t *testing.T) {
	m := replay.NewMemory()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	exp := now.Add(time.Hour)

	first, err := m.Consume(ctx, "n1", now, exp)
	if err != nil || !first {
		t.Fatalf("first Consume() = %v, %v; want true, nil", first, err)
	}
	again, _ := m.Consume(ctx, "n1", now.Add(time.Minute), exp)
	if again {
		t.Error("second Consume() before expiry should return false")
	}
	other, _ := m.Consume(ctx, "n2", now, exp)
	if !other {
		t.Error("Consume() of a different key should return true")
	}
}

func TestMemory_ExpiredKeyIsReusable(t *testing.T) {
	m := replay.NewMemory()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	m.Consume(ctx, "n1", now, now.Add(time.Minute))
	ok, _ := m.Consume(ctx, "n1", now.Add(2*time.Minute), now.Add(time.Hour))
	if !ok {
		t.Error("Consume() after expiry should return true")
	}
}

func TestMemory_Sweep(t *testing.T) {
	m := replay.NewMemory()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)

	m.Consume(ctx, "short", now, now.Add(time.Minute))
	m.Consume(ctx, "long", now, now.Add(time.Hour))

	if n := m.Sweep(now.Add(10 * time.Minute)); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestRedis_ConsumeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := replay.NewRedis(client, "")
	ctx := context.Background()
	now := time.Now()

	first, err := store.Consume(ctx, "abc", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if !first {
		t.Fatal("first Consume() should return true")
	}
	if !mr.Exists("sendgate:nonce:abc") {
		t.Error("expected nonce key to be written")
	}

	again, err := store.Consume(ctx, "abc", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Consume() error: %v", err)
	}
	if again {
		t.Error("second Consume() should return false")
	}

	mr.FastForward(time.Hour + time.Second)
	afterTTL, _ := store.Consume(ctx, "abc", now, now.Add(time.Hour))
	if !afterTTL {
		t.Error("Consume() after TTL should return true")
	}
}

func TestRedis_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	store := replay.NewRedis(client, "p:")
	now := time.Now()
	if _, err := store.Consume(context.Background(), "abc", now, now.Add(time.Hour)); err == nil {
		t.Fatal("Consume() expected error when Redis is unreachable")
	}
}
