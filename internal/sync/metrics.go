package sync

import (
	"github.com/voxlane/crm-connector/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func prometheus_labels(provider domain.Provider) prometheus.Labels {
	return prometheus.Labels{"provider": provider.String()}
}

type syncMetrics struct {
	pulledRecordCounter      *prometheus.CounterVec
	pushedWriteCounter       *prometheus.CounterVec
	replayedPushCounter      *prometheus.CounterVec
	syncFailureCounter       *prometheus.CounterVec
	linkConflictCounter      *prometheus.CounterVec
	fieldMappingCacheHitCounter  prometheus.Counter
	fieldMappingCacheMissCounter prometheus.Counter
}

func newSyncMetrics() *syncMetrics {
	metrics := new(syncMetrics)

	metrics.pulledRecordCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_pulled_record_count",
		Help: "The number of changed records applied locally during pull syncs",
	}, []string{"provider"})

	metrics.pushedWriteCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_pushed_write_count",
		Help: "The number of remote writes performed during outcome pushes",
	}, []string{"provider"})

	metrics.replayedPushCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_replayed_push_count",
		Help: "The number of outcome pushes served from the idempotency store",
	}, []string{"provider"})

	metrics.syncFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_sync_failure_count",
		Help: "The number of sync operations that ended in an error",
	}, []string{"provider", "error_class"})

	metrics.linkConflictCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_connector_sync_link_conflict_count",
		Help: "The number of sync operations that failed on an entity link conflict",
	}, []string{"provider"})

	metrics.fieldMappingCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_field_mapping_cache_hit_count",
		Help: "The number of field mapping reads served from the cache",
	})

	metrics.fieldMappingCacheMissCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_field_mapping_cache_miss_count",
		Help: "The number of field mapping reads that went to the database",
	})

	return metrics
}

var (
	metrics = newSyncMetrics()
)
