package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

const DefaultMaxAttempts = 3

// Settings is the per-provider retry configuration.
type Settings struct {
	MaxAttempts int
	BackoffBase float64
	BackoffMax  time.Duration
}

// Policy computes backoff delays and the attempt ceiling per provider.  The
// delay for attempt n is min(base^n, max) shortened by a uniform jitter so
// simultaneous failures do not retry in lockstep.
type Policy struct {
	settings map[domain.Provider]Settings
	mu       sync.Mutex
	rng      *rand.Rand
}

func NewPolicy(settings map[domain.Provider]Settings) *Policy {
	return &Policy{
		settings: settings,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewPolicyWithSeed builds a policy with a deterministic jitter source.
func NewPolicyWithSeed(settings map[domain.Provider]Settings, seed int64) *Policy {
	return &Policy{
		settings: settings,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (p *Policy) settingsFor(provider domain.Provider) Settings {
	settings, ok := p.settings[provider]
	if !ok {
		return Settings{MaxAttempts: DefaultMaxAttempts, BackoffBase: 2.0, BackoffMax: 5 * time.Minute}
	}
	return settings
}

// NextDelay returns how long to wait before retry number attempt.  The first
// retry is attempt 1.
func (p *Policy) NextDelay(provider domain.Provider, attempt int) time.Duration {
	settings := p.settingsFor(provider)

	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(math.Pow(settings.BackoffBase, float64(attempt)) * float64(time.Second))
	if delay > settings.BackoffMax || delay <= 0 {
		delay = settings.BackoffMax
	}

	p.mu.Lock()
	jitter := time.Duration(p.rng.Int63n(int64(delay)))
	p.mu.Unlock()

	return delay - jitter
}

// IsTerminal reports whether the given attempt count has exhausted the
// provider's retry budget.
func (p *Policy) IsTerminal(provider domain.Provider, attempt int) bool {
	return attempt >= p.settingsFor(provider).MaxAttempts
}

// MaxAttempts exposes the configured ceiling for a provider.
func (p *Policy) MaxAttempts(provider domain.Provider) int {
	return p.settingsFor(provider).MaxAttempts
}
