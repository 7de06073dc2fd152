package alerting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type alertingMetrics struct {
	firedAlertCounter  *prometheus.CounterVec
	activeEpisodeGauge *prometheus.GaugeVec
}

func newAlertingMetrics() *alertingMetrics {
	metrics := new(alertingMetrics)

	metrics.firedAlertCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_fired_alert_count",
		Help: "The number of alert episodes fired",
	}, []string{"type", "provider"})

	metrics.activeEpisodeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crm_connector_active_alert_episode",
		Help: "The observed value of an active alert episode, zero when clear",
	}, []string{"type", "provider"})

	return metrics
}

var (
	metrics = newAlertingMetrics()
)
