package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/embedding"
	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/repository"
	"github.com/everyskill/relay/internal/skillfmt"
	"github.com/everyskill/relay/internal/usage"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
	maxQueryLength     = 200
	sideEffectTimeout  = 2 * time.Second
	topologyWindow     = 30 * 24 * time.Hour
)

// TxManager runs fn inside a transaction carried by the context it passes.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SkillStore is the skill persistence used by SkillService.
type SkillStore interface {
	GetSkillByID(ctx context.Context, tenantID, id string) (*model.Skill, error)
	GetSkillBySlug(ctx context.Context, tenantID, slug string) (*model.Skill, error)
	ResolveSkill(ctx context.Context, tenantID, ref string) (*model.Skill, error)
	SearchSkills(ctx context.Context, p repository.SearchParams) ([]*model.Skill, error)
	IncrementViewCount(ctx context.Context, skillID string) error
	LogSearch(ctx context.Context, q *model.SearchQuery) error
	ListTopologyNodes(ctx context.Context, tenantID string) ([]model.TopologyNode, error)

	LockSkill(ctx context.Context, tenantID, id string) (*model.Skill, error)
	SetSkillStatus(ctx context.Context, id string, status model.SkillStatus) error
	InsertReviewDecision(ctx context.Context, d *model.ReviewDecision) error
	SoftDeleteSkill(ctx context.Context, id string, at time.Time) error
	UpsertSkillReview(ctx context.Context, rv *model.SkillReview) error
	RecomputeRating(ctx context.Context, skillID string) error
	MoveUsageEvents(ctx context.Context, fromID, toID string) (int64, error)
	MoveReviews(ctx context.Context, fromID, toID string) error
	AbsorbSkillCounters(ctx context.Context, fromID, toID string) error
	MarkMerged(ctx context.Context, fromID, toID string, at time.Time) error
	RebuildDailyStats(ctx context.Context, skillIDs ...string) error

	CreateSkill(ctx context.Context, sk *model.Skill) error
	UpdateSkillEmbedding(ctx context.Context, skillID string, vec []float32) error
	ListUnembeddedSkills(ctx context.Context, tenantID string, limit int) ([]*model.Skill, error)
}

// UsageStats reads aggregated usage.
type UsageStats interface {
	ExportDailyStats(ctx context.Context, f model.ExportFilter) ([]*model.SkillDailyStats, error)
	CoUsageEdges(ctx context.Context, tenantID string, since time.Time, minWeight int) ([]model.CoUsageEdge, error)
}

// SkillCache is the Redis skill lookup cache and view dedupe.
type SkillCache interface {
	GetSkill(ctx context.Context, tenantID, slug string) (*model.Skill, error)
	SetSkill(ctx context.Context, s *model.Skill) error
	DeleteSkill(ctx context.Context, tenantID, slug string) error
	IsNegativelyCached(ctx context.Context, tenantID, slug string) (bool, error)
	SetNegativeCache(ctx context.Context, tenantID, slug string) error
	MarkViewed(ctx context.Context, skillID, userID string, at time.Time) (bool, error)
}

// EventPublisher queues outbound webhook events.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID string, eventType model.EventType, data model.SkillEventData) error
}

// Embedder embeds search text; nil means unavailable.
type Embedder interface {
	EmbedOrNil(ctx context.Context, text string) []float32
}

// SkillDeps wires a SkillService.
type SkillDeps struct {
	Store    SkillStore
	Usage    UsageStats
	Tx       TxManager
	Cache    SkillCache     // optional
	Events   EventPublisher // optional
	Tracker  usage.Tracker  // optional
	Embedder Embedder       // optional
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// SkillService implements the skill actions.
type SkillService struct {
	store    SkillStore
	usage    UsageStats
	tx       TxManager
	cache    SkillCache
	events   EventPublisher
	tracker  usage.Tracker
	embedder Embedder
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewSkillService creates a new SkillService.
func NewSkillService(d SkillDeps) *SkillService {
	if d.Metrics == nil {
		d.Metrics = metrics.NewNoop()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &SkillService{
		store:    d.Store,
		usage:    d.Usage,
		tx:       d.Tx,
		cache:    d.Cache,
		events:   d.Events,
		tracker:  d.Tracker,
		embedder: d.Embedder,
		metrics:  d.Metrics,
		logger:   d.Logger.With("component", "service.skill"),
		now:      time.Now,
	}
}

// Delete soft-deletes a skill. Only its author or a tenant admin may do so.
func (s *SkillService) Delete(ctx context.Context, sess *model.Session, skillID string) error {
	var deleted *model.Skill
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		skill, err := s.lockLive(ctx, sess.TenantID, skillID)
		if err != nil {
			return err
		}
		if skill.AuthorID != sess.UserID && !sess.IsAdmin() {
			return ErrForbidden
		}
		if err := s.store.SoftDeleteSkill(ctx, skill.ID, s.now().UTC()); err != nil {
			return mapSkillErr(err)
		}
		deleted = skill
		return s.publish(ctx, sess.TenantID, model.EventSkillDeleted, model.SkillEventData{
			SkillID: skill.ID,
			Slug:    skill.Slug,
			ActorID: sess.UserID,
		})
	})
	if err != nil {
		return err
	}

	s.evict(ctx, deleted)
	s.metrics.IncSkillDeleted()
	s.logger.Info("skill deleted",
		"tenant_id", sess.TenantID,
		"skill_id", deleted.ID,
		"actor_id", sess.UserID,
	)
	return nil
}

// Review stores the caller's rating of a skill and refreshes its aggregates.
func (s *SkillService) Review(ctx context.Context, sess *model.Session, skillID string, rating int, comment string) (*model.SkillReview, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	skill, err := s.store.GetSkillByID(ctx, sess.TenantID, skillID)
	if err != nil {
		return nil, mapSkillErr(err)
	}
	if skill.AuthorID == sess.UserID {
		return nil, ErrSelfReview
	}

	review := &model.SkillReview{
		SkillID: skill.ID,
		UserID:  sess.UserID,
		Rating:  rating,
		Comment: strings.TrimSpace(comment),
	}
	err = s.tx.Do(ctx, func(ctx context.Context) error {
		if err := s.store.UpsertSkillReview(ctx, review); err != nil {
			return err
		}
		return s.store.RecomputeRating(ctx, skill.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}
	return review, nil
}

// RecordView counts the first view of a skill per user and UTC day.
// Failures are logged and never returned.
func (s *SkillService) RecordView(ctx context.Context, sess *model.Session, skillID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	now := s.now()
	skill, err := s.store.GetSkillByID(ctx, sess.TenantID, skillID)
	if err != nil {
		if !errors.Is(err, repository.ErrSkillNotFound) {
			s.logger.Warn("view lookup failed", "skill_id", skillID, "error", err)
		}
		return
	}

	if s.cache != nil {
		first, err := s.cache.MarkViewed(ctx, skill.ID, sess.UserID, now)
		if err != nil {
			s.logger.Warn("view dedupe failed", "skill_id", skill.ID, "error", err)
			return
		}
		if !first {
			return
		}
	}

	if err := s.store.IncrementViewCount(ctx, skill.ID); err != nil {
		s.logger.Warn("view count update failed", "skill_id", skill.ID, "error", err)
	}
	s.track(usage.NewEventPayload(sess.TenantID, skill.ID, sess.UserID, model.UsageView, model.SourceWeb, nil, now).Correlate(ctx))
}

// SearchInput narrows a search.
type SearchInput struct {
	Query    string
	Category string
	Limit    int
}

// Search returns published skills matching the query. When the query can
// be embedded, results are re-ranked by cosine similarity.
func (s *SkillService) Search(ctx context.Context, tenantID, userID string, in SearchInput) ([]model.SkillSummary, error) {
	q := truncateUTF8(strings.TrimSpace(in.Query), maxQueryLength)
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	skills, err := s.store.SearchSkills(ctx, repository.SearchParams{
		TenantID: tenantID,
		Query:    q,
		Category: in.Category,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search skills: %w", err)
	}

	results := make([]model.SkillSummary, len(skills))
	for i, sk := range skills {
		results[i] = Summarize(sk)
	}

	if q != "" && s.embedder != nil && len(skills) > 1 && anyEmbedded(skills) {
		if vec := s.embedder.EmbedOrNil(ctx, q); vec != nil {
			rerank(results, skills, vec)
		}
	}

	if q != "" {
		s.logSearch(ctx, tenantID, userID, q, len(results))
	}
	return results, nil
}

func anyEmbedded(skills []*model.Skill) bool {
	for _, sk := range skills {
		if len(sk.Embedding) > 0 {
			return true
		}
	}
	return false
}

func rerank(results []model.SkillSummary, skills []*model.Skill, query []float32) {
	byID := make(map[string][]float32, len(skills))
	for _, sk := range skills {
		byID[sk.ID] = sk.Embedding
	}
	for i := range results {
		results[i].Score = embedding.Cosine(query, byID[results[i].ID])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func (s *SkillService) logSearch(ctx context.Context, tenantID, userID, q string, n int) {
	entry := &model.SearchQuery{
		ID:          ulid.Make().String(),
		TenantID:    tenantID,
		UserID:      userID,
		Query:       q,
		ResultCount: n,
		CreatedAt:   s.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if err := s.store.LogSearch(ctx, entry); err != nil {
			s.logger.Warn("search log failed", "error", err)
		}
	}()
}

// Detail returns a skill with display fields and the install hint for the
// caller's OS. Unpublished skills are visible to their author and admins.
func (s *SkillService) Detail(ctx context.Context, sess *model.Session, slug, userAgent string) (*model.SkillDetail, error) {
	skill, err := s.store.GetSkillBySlug(ctx, sess.TenantID, slug)
	if err != nil {
		return nil, mapSkillErr(err)
	}
	if skill.Status != model.SkillStatusPublished && skill.AuthorID != sess.UserID && !sess.IsAdmin() {
		return nil, ErrSkillNotFound
	}

	os := skillfmt.DetectOS(userAgent)
	return &model.SkillDetail{
		SkillSummary: Summarize(skill),
		Content:      skill.Content,
		Status:       skill.Status,
		AuthorID:     skill.AuthorID,
		ViewCount:    skill.ViewCount,
		RatingCount:  skill.RatingCount,
		Install: model.InstallHint{
			OS:         string(os),
			ConfigPath: skillfmt.MCPConfigPath(os),
		},
		UpdatedAt: skill.UpdatedAt,
	}, nil
}

// Lookup resolves a published skill by slug or id through the skill cache.
func (s *SkillService) Lookup(ctx context.Context, tenantID, ref string) (*model.Skill, error) {
	start := s.now()
	defer func() { s.metrics.ObserveSkillLookupDuration(time.Since(start)) }()

	if s.cache != nil {
		if skill, err := s.cache.GetSkill(ctx, tenantID, ref); err == nil {
			s.metrics.IncSkillCacheHit()
			return skill, nil
		}
		if neg, _ := s.cache.IsNegativelyCached(ctx, tenantID, ref); neg {
			s.metrics.IncSkillCacheHit()
			return nil, ErrSkillNotFound
		}
		s.metrics.IncSkillCacheMiss()
	}

	skill, err := s.store.ResolveSkill(ctx, tenantID, ref)
	if err != nil && !errors.Is(err, repository.ErrSkillNotFound) {
		return nil, fmt.Errorf("resolve skill: %w", err)
	}
	if err != nil || skill.Status != model.SkillStatusPublished {
		if s.cache != nil {
			if cerr := s.cache.SetNegativeCache(ctx, tenantID, ref); cerr != nil {
				s.logger.Warn("negative cache write failed", "ref", ref, "error", cerr)
			}
		}
		return nil, ErrSkillNotFound
	}

	if s.cache != nil && skill.Slug == ref {
		if err := s.cache.SetSkill(ctx, skill); err != nil {
			s.logger.Warn("skill cache write failed", "slug", ref, "error", err)
		}
	}
	return skill, nil
}

// Topology returns the tenant's skill graph.
func (s *SkillService) Topology(ctx context.Context, tenantID string, minWeight int) (*model.Topology, error) {
	nodes, err := s.store.ListTopologyNodes(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	edges, err := s.usage.CoUsageEdges(ctx, tenantID, s.now().UTC().Add(-topologyWindow), minWeight)
	if err != nil {
		return nil, fmt.Errorf("co-usage edges: %w", err)
	}

	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}
	kept := make([]model.CoUsageEdge, 0, len(edges))
	for _, e := range edges {
		_, a := known[e.Source]
		_, b := known[e.Target]
		if a && b {
			kept = append(kept, e)
		}
	}
	return &model.Topology{Nodes: nodes, Edges: kept}, nil
}

// Summarize builds the list representation of a skill.
func Summarize(sk *model.Skill) model.SkillSummary {
	_, tier := skillfmt.TierScore(sk.InstallCount, sk.ViewCount, sk.RatingSum, sk.RatingCount)
	return model.SkillSummary{
		ID:            sk.ID,
		Slug:          sk.Slug,
		Name:          sk.Name,
		Description:   sk.Description,
		Category:      sk.Category,
		Price:         skillfmt.FormatPrice(sk.PriceCents),
		Tier:          string(tier),
		InstallCount:  sk.InstallCount,
		AverageRating: sk.AverageRating(),
	}
}

func (s *SkillService) lockLive(ctx context.Context, tenantID, id string) (*model.Skill, error) {
	skill, err := s.store.LockSkill(ctx, tenantID, id)
	if err != nil {
		return nil, mapSkillErr(err)
	}
	if skill.IsDeleted() {
		return nil, ErrSkillNotFound
	}
	return skill, nil
}

func (s *SkillService) publish(ctx context.Context, tenantID string, eventType model.EventType, data model.SkillEventData) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Publish(ctx, tenantID, eventType, data); err != nil {
		return fmt.Errorf("queue %s event: %w", eventType, err)
	}
	return nil
}

func (s *SkillService) track(event usage.EventPayload) {
	if s.tracker != nil {
		s.tracker.Track(event)
	}
}

func (s *SkillService) evict(ctx context.Context, skills ...*model.Skill) {
	if s.cache == nil {
		return
	}
	// Lookup caches under whichever ref the caller used, slug or id.
	for _, sk := range skills {
		for _, ref := range []string{sk.Slug, sk.ID} {
			if err := s.cache.DeleteSkill(ctx, sk.TenantID, ref); err != nil {
				s.logger.Warn("skill cache eviction failed", "skill_id", sk.ID, "ref", ref, "error", err)
			}
		}
	}
}

func mapSkillErr(err error) error {
	if errors.Is(err, repository.ErrSkillNotFound) {
		return ErrSkillNotFound
	}
	return err
}
