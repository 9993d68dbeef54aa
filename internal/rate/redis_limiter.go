package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisLimiter: ventanas fijas (INCR + EXPIRE) por minuto/hora/día más un
// token bucket atómico vía script Lua. Para multi-nodo; el MemoryLimiter es
// la referencia single-node.
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	limits Limits
}

func NewRedisLimiter(client *rdb.Client, prefix string, limits Limits) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	limits.applyDefaults()
	return &RedisLimiter{client: client, prefix: prefix, limits: limits}
}

// bucketScript: refill proporcional al tiempo transcurrido + consumo, en una
// sola operación atómica del lado del server.
var bucketScript = rdb.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

tokens = math.min(capacity, tokens + (now - ts) * refill)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, 86400)
return allowed
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	safeKey := strings.ReplaceAll(key, " ", "_")

	windows := []struct {
		name   string
		window time.Duration
		max    int
	}{
		{"minute", time.Minute, l.limits.PerMinute},
		{"hour", time.Hour, l.limits.PerHour},
		{"day", 24 * time.Hour, l.limits.PerDay},
	}

	for _, w := range windows {
		winStart := now.Truncate(w.window)
		redisKey := fmt.Sprintf("%s%s:%s:%d", l.prefix, safeKey, w.name, winStart.Unix())

		pipe := l.client.TxPipeline()
		incr := pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, w.window)
		if _, err := pipe.Exec(ctx); err != nil {
			return Result{}, fmt.Errorf("rate incr: %w", err)
		}

		if hits := incr.Val(); hits > int64(w.max) {
			retry := winStart.Add(w.window).Sub(now)
			return rejected(w.name, retry), nil
		}
	}

	bucketKey := l.prefix + "bucket:" + safeKey
	allowed, err := bucketScript.Run(ctx, l.client, []string{bucketKey},
		l.limits.BurstCapacity, l.limits.RefillPerSecond, now.Unix()).Int()
	if err != nil {
		return Result{}, fmt.Errorf("rate bucket: %w", err)
	}
	if allowed != 1 {
		return rejected("bucket", time.Second), nil
	}

	return Result{Allowed: true}, nil
}

var _ Limiter = (*RedisLimiter)(nil)
var _ Limiter = (*MemoryLimiter)(nil)
