// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Skill lookups
	IncSkillCacheHit()
	IncSkillCacheMiss()
	ObserveSkillLookupDuration(duration time.Duration)

	// Skill lifecycle
	IncSkillDeleted()
	IncSkillReviewed(action string)
	IncSkillMerged()

	// Usage pipeline
	IncUsageEventPublished(status string) // "success" or "dropped"
	IncUsageEventProcessed(status string) // "success", "failed", "skipped"
	ObserveUsageBatchSize(size int)
	ObserveUsageBatchDuration(duration time.Duration)
	SetUsageQueueDepth(depth int64)
	ObserveUsageIngestLag(lag time.Duration)

	// Webhooks
	IncWebhookDelivery(status string)
	ObserveWebhookDeliveryDuration(duration time.Duration)
	SetWebhookQueueDepth(depth int64)

	// Rate limiting
	IncRateLimited(limiter string)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
