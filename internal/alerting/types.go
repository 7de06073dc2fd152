package alerting

import (
	"context"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
)

type AlertType string

const (
	AlertTypeSyncErrors         AlertType = "sync_errors"
	AlertTypeWebhookLatency     AlertType = "webhook_latency"
	AlertTypeRateLimitDenials   AlertType = "rate_limit_denials"
	AlertTypeConnectionFailures AlertType = "connection_failures"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-visible threshold breach.
type Alert struct {
	Type      AlertType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Provider  domain.Provider        `json:"provider"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler receives fired alerts.  Handlers are registered at wiring time; a
// logging handler is always present.
type Handler interface {
	Handle(ctx context.Context, alert Alert) error
}
