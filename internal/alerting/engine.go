package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

type episodeKey struct {
	alertType AlertType
	provider  domain.Provider
}

// Engine watches rolling windows of failure signals and fires alerts when a
// threshold is breached.  Alerts are idempotent per breach episode: the first
// breach fans out to the handlers and sets a gauge, repeat breaches only
// update the gauge, and the episode clears when the observed value drops back
// under the threshold.
type Engine struct {
	cfg      *config.Config
	now      func() time.Time
	mu       sync.Mutex
	handlers []Handler

	syncErrors   map[domain.Provider][]time.Time
	denials      map[domain.Provider][]time.Time
	latencies    map[domain.Provider][]latencySample
	connFailures map[string][]time.Time
	episodes     map[episodeKey]bool
}

type latencySample struct {
	at      time.Time
	latency time.Duration
}

func NewEngine(cfg *config.Config, handlers ...Handler) *Engine {
	return &Engine{
		cfg:          cfg,
		now:          time.Now,
		handlers:     handlers,
		syncErrors:   make(map[domain.Provider][]time.Time),
		denials:      make(map[domain.Provider][]time.Time),
		latencies:    make(map[domain.Provider][]latencySample),
		connFailures: make(map[string][]time.Time),
		episodes:     make(map[episodeKey]bool),
	}
}

// NewEngineWithClock builds an engine with an injectable clock.
func NewEngineWithClock(cfg *config.Config, now func() time.Time, handlers ...Handler) *Engine {
	engine := NewEngine(cfg, handlers...)
	engine.now = now
	return engine
}

func (e *Engine) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// ReportSyncFailure records one terminal sync failure and checks the error
// count threshold.
func (e *Engine) ReportSyncFailure(ctx context.Context, provider domain.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.syncErrors[provider] = e.appendAndPrune(e.syncErrors[provider])
	count := len(e.syncErrors[provider])

	e.evaluate(ctx, AlertTypeSyncErrors, provider, SeverityWarning,
		float64(count), float64(e.cfg.AlertSyncErrorThreshold),
		fmt.Sprintf("%d sync failures for %s within the observation window", count, provider))
}

// ReportRateLimitDenial records one token bucket denial and checks the denial
// count threshold.
func (e *Engine) ReportRateLimitDenial(ctx context.Context, provider domain.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.denials[provider] = e.appendAndPrune(e.denials[provider])
	count := len(e.denials[provider])

	e.evaluate(ctx, AlertTypeRateLimitDenials, provider, SeverityWarning,
		float64(count), float64(e.cfg.AlertRateLimitDenialThreshold),
		fmt.Sprintf("%d rate limit denials for %s within the observation window", count, provider))
}

// ObserveWebhookLatency records one end-to-end webhook processing latency and
// checks the p95 threshold.
func (e *Engine) ObserveWebhookLatency(ctx context.Context, provider domain.Provider, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.cfg.AlertObservationWindow)

	samples := append(e.latencies[provider], latencySample{at: e.now(), latency: latency})
	pruned := samples[:0]
	for _, sample := range samples {
		if sample.at.After(cutoff) {
			pruned = append(pruned, sample)
		}
	}
	e.latencies[provider] = pruned

	p95 := percentile95(pruned)

	e.evaluate(ctx, AlertTypeWebhookLatency, provider, SeverityWarning,
		p95.Seconds(), e.cfg.AlertWebhookLatencyThreshold.Seconds(),
		fmt.Sprintf("webhook processing p95 for %s is %s", provider, p95))
}

// ReportConnectionFailure records one auth failure for a workspace's provider
// connection and checks the consecutive failure threshold.
func (e *Engine) ReportConnectionFailure(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := workspace.String() + "/" + provider.String()
	e.connFailures[key] = e.appendAndPrune(e.connFailures[key])
	count := len(e.connFailures[key])

	e.evaluate(ctx, AlertTypeConnectionFailures, provider, SeverityCritical,
		float64(count), float64(e.cfg.AlertConnectionFailureThreshold),
		fmt.Sprintf("%d consecutive connection failures for %s on workspace %s", count, provider, workspace))
}

// ReportConnectionSuccess breaks the consecutive failure streak for a
// workspace's provider connection and resolves any active episode.
func (e *Engine) ReportConnectionSuccess(ctx context.Context, workspace domain.WorkspaceID, provider domain.Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := workspace.String() + "/" + provider.String()
	if len(e.connFailures[key]) == 0 {
		return
	}
	delete(e.connFailures, key)

	e.evaluate(ctx, AlertTypeConnectionFailures, provider, SeverityCritical,
		0, float64(e.cfg.AlertConnectionFailureThreshold), "")
}

func (e *Engine) appendAndPrune(window []time.Time) []time.Time {
	cutoff := e.now().Add(-e.cfg.AlertObservationWindow)

	window = append(window, e.now())
	pruned := window[:0]
	for _, at := range window {
		if at.After(cutoff) {
			pruned = append(pruned, at)
		}
	}
	return pruned
}

// evaluate fires, updates or resolves the episode for one alert key.  Callers
// hold the mutex.
func (e *Engine) evaluate(ctx context.Context, alertType AlertType, provider domain.Provider, severity Severity, observed float64, threshold float64, message string) {

	key := episodeKey{alertType: alertType, provider: provider}
	breached := observed >= threshold

	if !breached {
		if e.episodes[key] {
			delete(e.episodes, key)
			metrics.activeEpisodeGauge.WithLabelValues(string(alertType), provider.String()).Set(0)
			logger.Log.WithFields(logrus.Fields{
				"type":     alertType,
				"provider": provider}).Info("Alert episode resolved")
		}
		return
	}

	metrics.activeEpisodeGauge.WithLabelValues(string(alertType), provider.String()).Set(observed)

	if e.episodes[key] {
		// Already firing, the gauge update is enough.
		return
	}

	e.episodes[key] = true
	metrics.firedAlertCounter.WithLabelValues(string(alertType), provider.String()).Inc()

	alert := Alert{
		Type:      alertType,
		Severity:  severity,
		Provider:  provider,
		Message:   message,
		Context:   map[string]interface{}{"observed": observed, "threshold": threshold},
		Timestamp: e.now(),
	}

	for _, handler := range e.handlers {
		if err := handler.Handle(ctx, alert); err != nil {
			logger.LogError("Alert handler failed", err)
		}
	}
}

func percentile95(samples []latencySample) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	for i, sample := range samples {
		sorted[i] = sample.latency
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := (len(sorted)*95 + 99) / 100
	if index > 0 {
		index--
	}
	return sorted[index]
}
