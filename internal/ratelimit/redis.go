package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is an optional shared-store fast path in front of the DB
// reservation. It keeps hour- and day-bucketed counters per account and
// checks both atomically in a Lua script, so a fleet of workers can screen
// out capped accounts without serializing on the Postgres row.
//
// Counts here are advisory. The DB reservation remains the source of truth,
// which is why denial here is a deferral rather than an error.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script

	hourlyCap int
	dailyCap  int
}

// Lua script for the atomic two-window check-and-increment. Both limits are
// checked before either counter moves so a denial has no side effects.
const windowLimitLua = `
local hourKey = KEYS[1]
local dayKey = KEYS[2]
local hourLimit = tonumber(ARGV[1])
local dayLimit = tonumber(ARGV[2])
local hourTTL = tonumber(ARGV[3])
local dayTTL = tonumber(ARGV[4])

local hourCur = tonumber(redis.call("GET", hourKey) or "0")
local dayCur = tonumber(redis.call("GET", dayKey) or "0")

if hourCur + 1 > hourLimit then
    return {0, 1}
end
if dayCur + 1 > dayLimit then
    return {0, 2}
end

local newHour = redis.call("INCR", hourKey)
if newHour == 1 then
    redis.call("EXPIRE", hourKey, hourTTL)
end
local newDay = redis.call("INCR", dayKey)
if newDay == 1 then
    redis.call("EXPIRE", dayKey, dayTTL)
end

return {1, 0}
`

// NewRedisLimiter creates a Redis-backed limiter with the given caps applied
// uniformly per account. Caps of 0 disable the corresponding window.
func NewRedisLimiter(client *redis.Client, hourlyCap, dailyCap int) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		script:    redis.NewScript(windowLimitLua),
		hourlyCap: hourlyCap,
		dailyCap:  dailyCap,
	}
}

// Allow checks and increments both window counters for the account.
// When denied, retryAfter says how long until the tighter window rolls.
func (r *RedisLimiter) Allow(ctx context.Context, accountID string) (allowed bool, retryAfter time.Duration, err error) {
	if r.hourlyCap <= 0 && r.dailyCap <= 0 {
		return true, 0, nil
	}

	now := time.Now().UTC()
	hourKey := fmt.Sprintf("outreach:ratelimit:%s:hour:%d", accountID, now.Unix()/3600)
	dayKey := fmt.Sprintf("outreach:ratelimit:%s:day:%s", accountID, now.Format("2006-01-02"))

	hourlyCap := r.hourlyCap
	if hourlyCap <= 0 {
		hourlyCap = 1 << 30
	}
	dailyCap := r.dailyCap
	if dailyCap <= 0 {
		dailyCap = 1 << 30
	}

	result, err := r.script.Run(ctx, r.client,
		[]string{hourKey, dayKey},
		hourlyCap,
		dailyCap,
		7200,  // hour key TTL: 2 hours
		90000, // day key TTL: 25 hours
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1: // hourly window
		next := now.Truncate(time.Hour).Add(time.Hour)
		return false, next.Sub(now), nil
	default: // daily window
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		return false, next.Sub(now), nil
	}
}
