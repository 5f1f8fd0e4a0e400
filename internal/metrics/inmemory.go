package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	SkillCacheHits        uint64
	SkillCacheMisses      uint64
	SkillLookupCount      uint64
	SkillLookupTotalNs    int64
	SkillsDeleted         uint64
	SkillsMerged          uint64
	SkillsReviewed        map[string]uint64
	UsagePublished        map[string]uint64
	UsageProcessed        map[string]uint64
	UsageBatchCount       uint64
	UsageBatchEvents      uint64
	UsageBatchTotalNs     int64
	UsageQueueDepth       int64
	UsageIngestLagCount   uint64
	UsageIngestLagTotalNs int64
	WebhookDeliveries     map[string]uint64
	WebhookDurationCount  uint64
	WebhookDurationNs     int64
	WebhookQueueDepth     int64
	RateLimited           map[string]uint64
}

// labeled is a counter family keyed by one label value.
type labeled struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func (l *labeled) inc(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[string]uint64)
	}
	l.counts[label]++
}

func (l *labeled) snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// InMemoryRecorder stores metrics in memory. It backs the metrics route
// and tests.
type InMemoryRecorder struct {
	skillCacheHits     atomic.Uint64
	skillCacheMisses   atomic.Uint64
	skillLookupCount   atomic.Uint64
	skillLookupTotalNs atomic.Int64
	skillsDeleted      atomic.Uint64
	skillsMerged       atomic.Uint64
	skillsReviewed     labeled

	usagePublished        labeled
	usageProcessed        labeled
	usageBatchCount       atomic.Uint64
	usageBatchEvents      atomic.Uint64
	usageBatchTotalNs     atomic.Int64
	usageQueueDepth       atomic.Int64
	usageIngestLagCount   atomic.Uint64
	usageIngestLagTotalNs atomic.Int64

	webhookDeliveries    labeled
	webhookDurationCount atomic.Uint64
	webhookDurationNs    atomic.Int64
	webhookQueueDepth    atomic.Int64

	rateLimited labeled
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		SkillCacheHits:        m.skillCacheHits.Load(),
		SkillCacheMisses:      m.skillCacheMisses.Load(),
		SkillLookupCount:      m.skillLookupCount.Load(),
		SkillLookupTotalNs:    m.skillLookupTotalNs.Load(),
		SkillsDeleted:         m.skillsDeleted.Load(),
		SkillsMerged:          m.skillsMerged.Load(),
		SkillsReviewed:        m.skillsReviewed.snapshot(),
		UsagePublished:        m.usagePublished.snapshot(),
		UsageProcessed:        m.usageProcessed.snapshot(),
		UsageBatchCount:       m.usageBatchCount.Load(),
		UsageBatchEvents:      m.usageBatchEvents.Load(),
		UsageBatchTotalNs:     m.usageBatchTotalNs.Load(),
		UsageQueueDepth:       m.usageQueueDepth.Load(),
		UsageIngestLagCount:   m.usageIngestLagCount.Load(),
		UsageIngestLagTotalNs: m.usageIngestLagTotalNs.Load(),
		WebhookDeliveries:     m.webhookDeliveries.snapshot(),
		WebhookDurationCount:  m.webhookDurationCount.Load(),
		WebhookDurationNs:     m.webhookDurationNs.Load(),
		WebhookQueueDepth:     m.webhookQueueDepth.Load(),
		RateLimited:           m.rateLimited.snapshot(),
	}
}

func (m *InMemoryRecorder) IncSkillCacheHit()  { m.skillCacheHits.Add(1) }
func (m *InMemoryRecorder) IncSkillCacheMiss() { m.skillCacheMisses.Add(1) }

func (m *InMemoryRecorder) ObserveSkillLookupDuration(d time.Duration) {
	m.skillLookupCount.Add(1)
	m.skillLookupTotalNs.Add(d.Nanoseconds())
}

func (m *InMemoryRecorder) IncSkillDeleted()               { m.skillsDeleted.Add(1) }
func (m *InMemoryRecorder) IncSkillReviewed(action string) { m.skillsReviewed.inc(action) }
func (m *InMemoryRecorder) IncSkillMerged()                { m.skillsMerged.Add(1) }

func (m *InMemoryRecorder) IncUsageEventPublished(status string) { m.usagePublished.inc(status) }
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) { m.usageProcessed.inc(status) }

func (m *InMemoryRecorder) ObserveUsageBatchSize(size int) {
	m.usageBatchCount.Add(1)
	m.usageBatchEvents.Add(uint64(size))
}

func (m *InMemoryRecorder) ObserveUsageBatchDuration(d time.Duration) {
	m.usageBatchTotalNs.Add(d.Nanoseconds())
}

func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) { m.usageQueueDepth.Store(depth) }

func (m *InMemoryRecorder) ObserveUsageIngestLag(lag time.Duration) {
	m.usageIngestLagCount.Add(1)
	m.usageIngestLagTotalNs.Add(lag.Nanoseconds())
}

func (m *InMemoryRecorder) IncWebhookDelivery(status string) { m.webhookDeliveries.inc(status) }

func (m *InMemoryRecorder) ObserveWebhookDeliveryDuration(d time.Duration) {
	m.webhookDurationCount.Add(1)
	m.webhookDurationNs.Add(d.Nanoseconds())
}

func (m *InMemoryRecorder) SetWebhookQueueDepth(depth int64) { m.webhookQueueDepth.Store(depth) }

func (m *InMemoryRecorder) IncRateLimited(limiter string) { m.rateLimited.inc(limiter) }
