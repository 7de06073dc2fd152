package sync_repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncRepositoryMetrics struct {
	cursorClaimDuration       prometheus.Histogram
	cursorAdvanceDuration     prometheus.Histogram
	entityLinkUpsertDuration  prometheus.Histogram
	entityLinkLookupDuration  prometheus.Histogram
	webhookEventInsertDuration prometheus.Histogram

	cursorClaimContentionCounter prometheus.Counter
	entityLinkConflictCounter    prometheus.Counter
	duplicateWebhookEventCounter prometheus.Counter
}

func newSyncRepositoryMetrics() *syncRepositoryMetrics {
	metrics := new(syncRepositoryMetrics)

	metrics.cursorClaimDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_cursor_claim_duration",
		Help: "The amount of time it took to claim a sync cursor",
	})

	metrics.cursorAdvanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_cursor_advance_duration",
		Help: "The amount of time it took to advance a sync cursor",
	})

	metrics.entityLinkUpsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_entity_link_upsert_duration",
		Help: "The amount of time it took to upsert an entity link",
	})

	metrics.entityLinkLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_entity_link_lookup_duration",
		Help: "The amount of time it took to look up an entity link",
	})

	metrics.webhookEventInsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "crm_connector_sql_webhook_event_insert_duration",
		Help: "The amount of time it took to insert a webhook event",
	})

	metrics.cursorClaimContentionCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_cursor_claim_contention_count",
		Help: "The number of cursor claims that lost to another runner",
	})

	metrics.entityLinkConflictCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_entity_link_conflict_count",
		Help: "The number of entity link upserts rejected for violating the identity mapping",
	})

	metrics.duplicateWebhookEventCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_connector_duplicate_webhook_event_count",
		Help: "The number of webhook events discarded as redeliveries",
	})

	return metrics
}

var (
	metrics = newSyncRepositoryMetrics()
)
