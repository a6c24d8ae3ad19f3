// Package ratelimit throttles execution submissions per tenant.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket constructs a bucket with the provided capacity and refill rate.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		client:   client,
		prefix:   "ratelimit:tenant:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow consumes one token from tenant's bucket if available.
func (b *TokenBucket) Allow(ctx context.Context, tenant string) (Decision, error) {
	if tenant == "" {
		tenant = "anonymous"
	}
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + tenant},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", tenant, err)
	}
	if len(res) < 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", tenant, res)
	}

	allowed, _ := res[0].(int64)
	remaining, err := parseTokens(res[1])
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", tenant, err)
	}

	d := Decision{Allowed: allowed == 1, Remaining: remaining}
	if !d.Allowed && b.refill > 0 {
		d.RetryAfter = time.Duration((1 - remaining) / b.refill * float64(time.Second))
	}
	return d, nil
}

func parseTokens(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unexpected token type %T", v)
	}
}

// Tokens travel back as a string so the fractional part survives the Lua
// number to integer reply conversion.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
