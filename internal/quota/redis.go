package quota

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"logoforge/internal/types"
)

// RedisLedger is a Redis-backed Ledger for multi-instance deployments where
// anonymous per-IP counters must be shared across replicas. Reserve, Commit,
// and Release each run as a single Lua script, so the compare-and-reserve is
// atomic across instances.
type RedisLedger struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ Ledger = (*RedisLedger)(nil)

// RedisOption configures a RedisLedger.
type RedisOption func(*RedisLedger)

// WithKeyPrefix sets the Redis key prefix (default "logoforge:usage:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLedger) { l.keyPrefix = prefix }
}

// NewRedisLedger creates a Redis-backed ledger. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func NewRedisLedger(client goredis.Cmdable, opts ...RedisOption) *RedisLedger {
	l := &RedisLedger{
		client:    client,
		keyPrefix: "logoforge:usage:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) key(identity string) string {
	return l.keyPrefix + identity
}

// Records expire after two days so stale daily counters do not accumulate.
// The TTL is refreshed on every write; 172800 = 48h in seconds.

// reserveScript atomically applies the period rollover, checks the gate
// against count+reserved, and claims one unit.
// KEYS[1] = record hash key
// ARGV[1] = period key
// ARGV[2] = limit
// Returns -1 when the quota is exhausted, otherwise count+reserved after
// the claim.
var reserveScript = goredis.NewScript(`
local period = redis.call("HGET", KEYS[1], "period")
if period ~= ARGV[1] then
    redis.call("HSET", KEYS[1], "period", ARGV[1], "count", "0", "reserved", "0")
end
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
local reserved = tonumber(redis.call("HGET", KEYS[1], "reserved") or "0")
if count + reserved >= tonumber(ARGV[2]) then
    return -1
end
redis.call("HINCRBY", KEYS[1], "reserved", 1)
redis.call("EXPIRE", KEYS[1], 172800)
return count + reserved + 1
`)

// commitScript converts one reserved unit into a committed count.
// A rollover that happened while the reservation was in flight still charges
// the round to the new period.
// KEYS[1] = record hash key
// ARGV[1] = period key
// Returns the new committed count.
var commitScript = goredis.NewScript(`
local period = redis.call("HGET", KEYS[1], "period")
if period ~= ARGV[1] then
    redis.call("HSET", KEYS[1], "period", ARGV[1], "count", "1", "reserved", "0")
    redis.call("EXPIRE", KEYS[1], 172800)
    return 1
end
local reserved = tonumber(redis.call("HGET", KEYS[1], "reserved") or "0")
if reserved > 0 then
    redis.call("HINCRBY", KEYS[1], "reserved", -1)
end
redis.call("EXPIRE", KEYS[1], 172800)
return redis.call("HINCRBY", KEYS[1], "count", 1)
`)

// releaseScript drops one reserved unit without charging.
// KEYS[1] = record hash key
// ARGV[1] = period key
var releaseScript = goredis.NewScript(`
local period = redis.call("HGET", KEYS[1], "period")
if period ~= ARGV[1] then
    return 0
end
local reserved = tonumber(redis.call("HGET", KEYS[1], "reserved") or "0")
if reserved > 0 then
    redis.call("HINCRBY", KEYS[1], "reserved", -1)
end
return 0
`)

// Count returns the committed count, treating a missing record or a stale
// period as zero.
func (l *RedisLedger) Count(ctx context.Context, identity string, period PeriodKey) (int, error) {
	vals, err := l.client.HMGet(ctx, l.key(identity), "period", "count").Result()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalLedger, "failed to read usage record", err)
	}
	storedPeriod, _ := vals[0].(string)
	if storedPeriod != string(period) {
		return 0, nil
	}
	countStr, _ := vals[1].(string)
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

// Reserve atomically claims one unit of quota via the reserve script.
func (l *RedisLedger) Reserve(ctx context.Context, identity string, period PeriodKey, limit int) (Reservation, error) {
	n, err := reserveScript.Run(ctx, l.client, []string{l.key(identity)}, string(period), limit).Int64()
	if err != nil {
		return Reservation{}, types.NewAppError(types.ErrCodeInternalLedger, "failed to reserve quota", err)
	}
	if n < 0 {
		return Reservation{}, ErrQuotaExceeded
	}
	return Reservation{ID: uuid.New().String(), Identity: identity, Period: period}, nil
}

// Commit converts the reservation into a committed unit and returns the new
// count.
func (l *RedisLedger) Commit(ctx context.Context, res Reservation) (int, error) {
	n, err := commitScript.Run(ctx, l.client, []string{l.key(res.Identity)}, string(res.Period)).Int64()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalLedger, "failed to commit quota reservation", err)
	}
	return int(n), nil
}

// Release abandons the reservation without charging.
func (l *RedisLedger) Release(ctx context.Context, res Reservation) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(res.Identity)}, string(res.Period)).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalLedger, "failed to release quota reservation", err)
	}
	return nil
}
