package webhook

import (
	"github.com/voxlane/crm-connector/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func prometheus_labels(provider domain.Provider) prometheus.Labels {
	return prometheus.Labels{"provider": provider.String()}
}

type webhookMetrics struct {
	acceptedEventCounter  *prometheus.CounterVec
	rejectedEventCounter  *prometheus.CounterVec
	malformedEventCounter *prometheus.CounterVec
	processingLatency     *prometheus.HistogramVec
}

func newWebhookMetrics() *webhookMetrics {
	metrics := new(webhookMetrics)

	metrics.acceptedEventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_webhook_accepted_event_count",
		Help: "The number of webhook events accepted for processing",
	}, []string{"provider"})

	metrics.rejectedEventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_webhook_rejected_event_count",
		Help: "The number of webhook deliveries rejected for a bad signature",
	}, []string{"provider"})

	metrics.malformedEventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_webhook_malformed_event_count",
		Help: "The number of webhook deliveries rejected as malformed",
	}, []string{"provider"})

	metrics.processingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "crm_connector_webhook_processing_latency",
		Help: "The time from webhook acceptance to processed state",
	}, []string{"provider"})

	return metrics
}

var (
	metrics = newWebhookMetrics()
)
