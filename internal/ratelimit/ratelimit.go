package ratelimit

import (
	"context"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

// Settings is the published throughput ceiling for a single provider.
type Settings struct {
	RequestsPerSecond float64
	BurstLimit        int
}

// Limiter bounds outbound request issuance per provider.  Acquire is
// non-blocking: a denial is a scheduling deferral, never an error, and
// TimeUntilNextToken suggests how long the caller should wait before
// trying again.
type Limiter interface {
	Acquire(ctx context.Context, provider domain.Provider) (bool, error)
	TimeUntilNextToken(ctx context.Context, provider domain.Provider) (time.Duration, error)
}
