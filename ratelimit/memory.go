// Package ratelimit caps sends per recipient with a fixed-window counter.
//
// Memory is process-local: horizontally scaled callers each hold their own
// counters. Redis shares one counter per recipient across processes behind the
// same sendgate.Limiter interface.
package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paywise/sendgate"
	"github.com/paywise/sendgate/metrics"
)

const shardCount = 32

// Entry is the window state of one recipient.
type Entry struct {
	Count           int
	WindowResetAtMs int64
}

// WindowResetAt returns the reset instant.
func (e Entry) WindowResetAt() time.Time { return time.UnixMilli(e.WindowResetAtMs) }

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Memory implements sendgate.Limiter with sharded in-memory counters.
// Each recipient key is serialized by its shard lock only.
type Memory struct {
	limit  int
	window time.Duration
	shards [shardCount]*shard
	size   atomic.Int64

	clock      sendgate.Clock
	sweepEvery time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ sendgate.Limiter = (*Memory)(nil)

// Option configures Memory.
type Option func(*Memory)

// WithLimit sets the maximum sends per window. Default: 100.
func WithLimit(n int) Option {
	return func(m *Memory) { m.limit = n }
}

// WithWindow sets the window length. Default: 1 hour.
func WithWindow(d time.Duration) Option {
	return func(m *Memory) { m.window = d }
}

// WithSweepInterval starts a background sweeper that drops expired entries.
// Zero (the default) disables it; call Sweep manually instead.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Memory) { m.sweepEvery = d }
}

// WithClock sets the time source used by the background sweeper.
func WithClock(c sendgate.Clock) Option {
	return func(m *Memory) { m.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) { m.logger = l }
}

// WithMetrics reports the entry count and sweep totals.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Memory) { m.metrics = mt }
}

// NewMemory creates an in-memory limiter.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		limit:  sendgate.DefaultRateLimitPerHour,
		window: sendgate.DefaultRateLimitWindow,
		clock:  sendgate.SystemClock{},
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	for _, o := range opts {
		o(m)
	}

	if m.sweepEvery > 0 {
		m.wg.Add(1)
		go m.sweeper()
	}
	return m
}

func (m *Memory) shardFor(recipient string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipient))
	return m.shards[h.Sum32()%shardCount]
}

// Allow consumes one slot for recipient. A new or expired window restarts at
// count 1; a full window is left untouched. A limit of zero or less denies
// every send.
func (m *Memory) Allow(_ context.Context, recipient string, now time.Time) (bool, error) {
	if m.limit <= 0 {
		return false, nil
	}
	nowMs := now.UnixMilli()
	sh := m.shardFor(recipient)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[recipient]
	if !ok {
		sh.entries[recipient] = &Entry{Count: 1, WindowResetAtMs: nowMs + m.window.Milliseconds()}
		m.metrics.SetRateLimitEntries(int(m.size.Add(1)))
		return true, nil
	}
	if nowMs > e.WindowResetAtMs {
		*e = Entry{Count: 1, WindowResetAtMs: nowMs + m.window.Milliseconds()}
		return true, nil
	}
	if e.Count < m.limit {
		e.Count++
		return true, nil
	}
	return false, nil
}

// Peek returns a copy of the entry for recipient without modifying it.
func (m *Memory) Peek(recipient string) (Entry, bool) {
	sh := m.shardFor(recipient)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[recipient]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Sweep drops entries whose window ended before now and returns the count removed.
// Shards are locked one at a time.
func (m *Memory) Sweep(now time.Time) int {
	nowMs := now.UnixMilli()
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if nowMs > e.WindowResetAtMs {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		m.metrics.SetRateLimitEntries(int(m.size.Add(int64(-removed))))
		m.metrics.RecordSwept(removed)
	}
	return removed
}

// Len returns the number of tracked recipients.
func (m *Memory) Len() int { return int(m.size.Load()) }

// Limit returns the configured sends per window.
func (m *Memory) Limit() int { return m.limit }

func (m *Memory) sweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(m.clock.Now()); n > 0 {
				m.logger.Debug("rate limiter swept expired entries", "removed", n, "remaining", m.Len())
			}
		case <-m.done:
			return
		}
	}
}

// Close stops the background sweeper. It is safe to call more than once.
func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
	return nil
}
