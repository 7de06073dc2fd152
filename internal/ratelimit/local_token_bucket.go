package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func prometheus_labels(provider domain.Provider) prometheus.Labels {
	return prometheus.Labels{"provider": provider.String()}
}

type localBucket struct {
	tokens float64
	last   time.Time
}

// LocalTokenBucket is the degraded, per-process fallback used when no shared
// rate limiter store is configured.  Each process refills its own buckets, so
// the aggregate rate across N processes can reach N times the configured
// ceiling.  Deploy one worker process per provider or configure redis to get
// the real guarantee.
type LocalTokenBucket struct {
	mu       sync.Mutex
	buckets  map[domain.Provider]*localBucket
	settings map[domain.Provider]Settings
	now      func() time.Time
}

func NewLocalTokenBucket(settings map[domain.Provider]Settings) *LocalTokenBucket {
	logger.Log.Warn("Rate limiter running in degraded per-process mode - token buckets are not shared across workers")

	return &LocalTokenBucket{
		buckets:  make(map[domain.Provider]*localBucket),
		settings: settings,
		now:      time.Now,
	}
}

func (ltb *LocalTokenBucket) refillLocked(provider domain.Provider) (*localBucket, Settings, error) {
	settings, ok := ltb.settings[provider]
	if !ok {
		return nil, Settings{}, errors.New("no rate limit settings for provider: " + provider.String())
	}

	now := ltb.now()

	bucket, ok := ltb.buckets[provider]
	if !ok {
		bucket = &localBucket{tokens: float64(settings.BurstLimit), last: now}
		ltb.buckets[provider] = bucket
		return bucket, settings, nil
	}

	elapsed := now.Sub(bucket.last)
	if elapsed > 0 {
		bucket.tokens += elapsed.Seconds() * settings.RequestsPerSecond
		if bucket.tokens > float64(settings.BurstLimit) {
			bucket.tokens = float64(settings.BurstLimit)
		}
		bucket.last = now
	}

	return bucket, settings, nil
}

func (ltb *LocalTokenBucket) Acquire(ctx context.Context, provider domain.Provider) (bool, error) {
	ltb.mu.Lock()
	defer ltb.mu.Unlock()

	bucket, _, err := ltb.refillLocked(provider)
	if err != nil {
		return false, err
	}

	if bucket.tokens < 1 {
		metrics.tokensDeniedCounter.With(prometheus_labels(provider)).Inc()
		return false, nil
	}

	bucket.tokens--
	metrics.tokensGrantedCounter.With(prometheus_labels(provider)).Inc()
	return true, nil
}

func (ltb *LocalTokenBucket) TimeUntilNextToken(ctx context.Context, provider domain.Provider) (time.Duration, error) {
	ltb.mu.Lock()
	defer ltb.mu.Unlock()

	bucket, settings, err := ltb.refillLocked(provider)
	if err != nil {
		return 0, err
	}

	if bucket.tokens >= 1 {
		return 0, nil
	}

	missing := 1 - bucket.tokens
	wait := time.Duration(missing / settings.RequestsPerSecond * float64(time.Second))

	return wait, nil
}
