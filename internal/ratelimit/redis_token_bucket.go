package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// tokenBucketScript refills the bucket continuously up to the burst limit and
// optionally consumes one token.  It runs atomically on the redis server so
// every worker process shares one bucket per provider.  The clock comes from
// redis TIME so worker clock skew cannot inflate the refill.
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = burst limit
// ARGV[3] = "1" to consume a token, "0" to peek
//
// Returns {granted, wait_micros}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local consume = tonumber(ARGV[3])

local time = redis.call('TIME')
local now = tonumber(time[1]) * 1000000 + tonumber(time[2])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])

if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  tokens = math.min(burst, tokens + (elapsed / 1000000) * rate)
end

local granted = 0
if consume == 1 and tokens >= 1 then
  tokens = tokens - 1
  granted = 1
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], math.ceil((burst / rate) * 2000))

local wait = 0
if tokens < 1 then
  wait = math.ceil(((1 - tokens) / rate) * 1000000)
end

return {granted, wait}
`)

// RedisTokenBucket is the shared-state implementation of Limiter.  All worker
// processes drain the same per-provider bucket, so the observed request rate
// to a provider stays within requests_per_second plus burst_limit no matter
// how many workers are running.
type RedisTokenBucket struct {
	client   *redis.Client
	settings map[domain.Provider]Settings
}

func NewRedisTokenBucket(client *redis.Client, settings map[domain.Provider]Settings) *RedisTokenBucket {
	return &RedisTokenBucket{
		client:   client,
		settings: settings,
	}
}

func bucketKey(provider domain.Provider) string {
	return "crm-connector:ratelimit:" + provider.String()
}

func (rtb *RedisTokenBucket) run(ctx context.Context, provider domain.Provider, consume string) (bool, time.Duration, error) {
	settings, ok := rtb.settings[provider]
	if !ok {
		return false, 0, errors.New("no rate limit settings for provider: " + provider.String())
	}

	result, err := tokenBucketScript.Run(ctx, rtb.client,
		[]string{bucketKey(provider)},
		settings.RequestsPerSecond,
		settings.BurstLimit,
		consume).Int64Slice()
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "provider": provider}).Warn("Rate limiter redis call failed")
		return false, 0, err
	}

	granted := result[0] == 1
	wait := time.Duration(result[1]) * time.Microsecond

	return granted, wait, nil
}

func (rtb *RedisTokenBucket) Acquire(ctx context.Context, provider domain.Provider) (bool, error) {
	granted, _, err := rtb.run(ctx, provider, "1")
	if err != nil {
		return false, err
	}

	if granted {
		metrics.tokensGrantedCounter.With(prometheus_labels(provider)).Inc()
	} else {
		metrics.tokensDeniedCounter.With(prometheus_labels(provider)).Inc()
	}

	return granted, nil
}

func (rtb *RedisTokenBucket) TimeUntilNextToken(ctx context.Context, provider domain.Provider) (time.Duration, error) {
	_, wait, err := rtb.run(ctx, provider, "0")
	return wait, err
}
