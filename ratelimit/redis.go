package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paywise/sendgate"
	"github.com/redis/go-redis/v9"
)

// allowScript is the fixed-window check-and-increment, atomic on the server.
// KEYS[1] recipient key, ARGV[1] limit, ARGV[2] window in ms.
var allowScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  return 1
end
if tonumber(current) < tonumber(ARGV[1]) then
  redis.call('INCR', KEYS[1])
  return 1
end
return 0
`)

// Redis implements sendgate.Limiter on a shared Redis. Window expiry follows
// the Redis key TTL, so the now argument of Allow is not consulted.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

var _ sendgate.Limiter = (*Redis)(nil)

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithRedisLimit sets the maximum sends per window. Default: 100.
func WithRedisLimit(n int) RedisOption {
	return func(r *Redis) { r.limit = n }
}

// WithRedisWindow sets the window length. Default: 1 hour.
func WithRedisWindow(d time.Duration) RedisOption {
	return func(r *Redis) { r.window = d }
}

// WithKeyPrefix sets the key namespace. Default: "sendgate:rl:".
func WithKeyPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "sendgate:rl:",
		limit:  sendgate.DefaultRateLimitPerHour,
		window: sendgate.DefaultRateLimitWindow,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Allow implements sendgate.Limiter. A limit of zero or less denies every send.
func (r *Redis) Allow(ctx context.Context, recipient string, _ time.Time) (bool, error) {
	if r.limit <= 0 {
		return false, nil
	}
	n, err := allowScript.Run(ctx, r.client, []string{r.prefix + recipient}, r.limit, r.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("sendgate/ratelimit: %w", err)
	}
	return n == 1, nil
}

// Count returns the current count for recipient, 0 when no window is open.
func (r *Redis) Count(ctx context.Context, recipient string) (int, error) {
	n, err := r.client.Get(ctx, r.prefix+recipient).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sendgate/ratelimit: %w", err)
	}
	return n, nil
}
