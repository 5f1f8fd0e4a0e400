package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncSkillCacheHit()                            {}
func (n *NoopRecorder) IncSkillCacheMiss()                           {}
func (n *NoopRecorder) ObserveSkillLookupDuration(time.Duration)     {}
func (n *NoopRecorder) IncSkillDeleted()                             {}
func (n *NoopRecorder) IncSkillReviewed(string)                      {}
func (n *NoopRecorder) IncSkillMerged()                              {}
func (n *NoopRecorder) IncUsageEventPublished(string)                {}
func (n *NoopRecorder) IncUsageEventProcessed(string)                {}
func (n *NoopRecorder) ObserveUsageBatchSize(int)                    {}
func (n *NoopRecorder) ObserveUsageBatchDuration(time.Duration)      {}
func (n *NoopRecorder) SetUsageQueueDepth(int64)                     {}
func (n *NoopRecorder) ObserveUsageIngestLag(time.Duration)          {}
func (n *NoopRecorder) IncWebhookDelivery(string)                    {}
func (n *NoopRecorder) ObserveWebhookDeliveryDuration(time.Duration) {}
func (n *NoopRecorder) SetWebhookQueueDepth(int64)                   {}
func (n *NoopRecorder) IncRateLimited(string)                        {}
