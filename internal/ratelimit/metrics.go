package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type rateLimitMetrics struct {
	tokensGrantedCounter *prometheus.CounterVec
	tokensDeniedCounter  *prometheus.CounterVec
}

func newRateLimitMetrics() *rateLimitMetrics {
	metrics := new(rateLimitMetrics)

	metrics.tokensGrantedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_rate_limit_tokens_granted_count",
		Help: "The number of rate limiter tokens granted per provider",
	}, []string{"provider"})

	metrics.tokensDeniedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_rate_limit_tokens_denied_count",
		Help: "The number of rate limiter token denials per provider",
	}, []string{"provider"})

	return metrics
}

var (
	metrics = newRateLimitMetrics()
)
