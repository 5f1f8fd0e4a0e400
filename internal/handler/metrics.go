package handler

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/everyskill/relay/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "relay_skill_cache_hits_total %d\n", snap.SkillCacheHits)
	writeMetric(w, "relay_skill_cache_misses_total %d\n", snap.SkillCacheMisses)
	writeMetric(w, "relay_skill_lookup_duration_seconds_count %d\n", snap.SkillLookupCount)
	writeMetric(w, "relay_skill_lookup_duration_seconds_sum %.6f\n", float64(snap.SkillLookupTotalNs)/1e9)

	writeMetric(w, "relay_skills_deleted_total %d\n", snap.SkillsDeleted)
	writeMetric(w, "relay_skills_merged_total %d\n", snap.SkillsMerged)
	writeLabeled(w, "relay_skills_reviewed_total", "action", snap.SkillsReviewed)

	writeLabeled(w, "relay_usage_events_published_total", "status", snap.UsagePublished)
	writeLabeled(w, "relay_usage_events_processed_total", "status", snap.UsageProcessed)
	writeMetric(w, "relay_usage_batches_total %d\n", snap.UsageBatchCount)
	writeMetric(w, "relay_usage_batch_events_total %d\n", snap.UsageBatchEvents)
	writeMetric(w, "relay_usage_batch_duration_seconds_sum %.6f\n", float64(snap.UsageBatchTotalNs)/1e9)
	writeMetric(w, "relay_usage_queue_depth %d\n", snap.UsageQueueDepth)
	writeMetric(w, "relay_usage_ingest_lag_seconds_count %d\n", snap.UsageIngestLagCount)
	writeMetric(w, "relay_usage_ingest_lag_seconds_sum %.6f\n", float64(snap.UsageIngestLagTotalNs)/1e9)

	writeLabeled(w, "relay_webhook_deliveries_total", "status", snap.WebhookDeliveries)
	writeMetric(w, "relay_webhook_delivery_duration_seconds_count %d\n", snap.WebhookDurationCount)
	writeMetric(w, "relay_webhook_delivery_duration_seconds_sum %.6f\n", float64(snap.WebhookDurationNs)/1e9)
	writeMetric(w, "relay_webhook_queue_depth %d\n", snap.WebhookQueueDepth)

	writeLabeled(w, "relay_rate_limited_total", "limiter", snap.RateLimited)
}

// writeLabeled emits one line per label value in sorted order.
func writeLabeled(w http.ResponseWriter, name, label string, values map[string]uint64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
