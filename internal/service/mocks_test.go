package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/repository"
	"github.com/everyskill/relay/internal/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockStore struct{ mock.Mock }

func (m *mockStore) skill(args mock.Arguments) (*model.Skill, error) {
	sk, _ := args.Get(0).(*model.Skill)
	return sk, args.Error(1)
}

func (m *mockStore) GetSkillByID(ctx context.Context, tenantID, id string) (*model.Skill, error) {
	return m.skill(m.MethodCalled("GetSkillByID", tenantID, id))
}

func (m *mockStore) GetSkillBySlug(ctx context.Context, tenantID, slug string) (*model.Skill, error) {
	return m.skill(m.MethodCalled("GetSkillBySlug", tenantID, slug))
}

func (m *mockStore) ResolveSkill(ctx context.Context, tenantID, ref string) (*model.Skill, error) {
	return m.skill(m.MethodCalled("ResolveSkill", tenantID, ref))
}

func (m *mockStore) LockSkill(ctx context.Context, tenantID, id string) (*model.Skill, error) {
	return m.skill(m.MethodCalled("LockSkill", tenantID, id))
}

func (m *mockStore) SearchSkills(ctx context.Context, p repository.SearchParams) ([]*model.Skill, error) {
	args := m.Called(p)
	out, _ := args.Get(0).([]*model.Skill)
	return out, args.Error(1)
}

func (m *mockStore) IncrementViewCount(ctx context.Context, skillID string) error {
	return m.Called(skillID).Error(0)
}

func (m *mockStore) LogSearch(ctx context.Context, q *model.SearchQuery) error {
	return m.Called(q.Query).Error(0)
}

func (m *mockStore) ListTopologyNodes(ctx context.Context, tenantID string) ([]model.TopologyNode, error) {
	args := m.Called(tenantID)
	out, _ := args.Get(0).([]model.TopologyNode)
	return out, args.Error(1)
}

func (m *mockStore) SetSkillStatus(ctx context.Context, id string, status model.SkillStatus) error {
	return m.Called(id, status).Error(0)
}

func (m *mockStore) InsertReviewDecision(ctx context.Context, d *model.ReviewDecision) error {
	return m.Called(d.SkillID, d.Action).Error(0)
}

func (m *mockStore) SoftDeleteSkill(ctx context.Context, id string, at time.Time) error {
	return m.Called(id).Error(0)
}

func (m *mockStore) UpsertSkillReview(ctx context.Context, rv *model.SkillReview) error {
	return m.Called(rv.SkillID, rv.UserID, rv.Rating).Error(0)
}

func (m *mockStore) RecomputeRating(ctx context.Context, skillID string) error {
	return m.Called(skillID).Error(0)
}

func (m *mockStore) MoveUsageEvents(ctx context.Context, fromID, toID string) (int64, error) {
	args := m.Called(fromID, toID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) MoveReviews(ctx context.Context, fromID, toID string) error {
	return m.Called(fromID, toID).Error(0)
}

func (m *mockStore) AbsorbSkillCounters(ctx context.Context, fromID, toID string) error {
	return m.Called(fromID, toID).Error(0)
}

func (m *mockStore) MarkMerged(ctx context.Context, fromID, toID string, at time.Time) error {
	return m.Called(fromID, toID).Error(0)
}

func (m *mockStore) RebuildDailyStats(ctx context.Context, skillIDs ...string) error {
	return m.Called(skillIDs).Error(0)
}

func (m *mockStore) CreateSkill(ctx context.Context, sk *model.Skill) error {
	return m.Called(sk.ID).Error(0)
}

func (m *mockStore) UpdateSkillEmbedding(ctx context.Context, skillID string, vec []float32) error {
	return m.Called(skillID, vec).Error(0)
}

func (m *mockStore) ListUnembeddedSkills(ctx context.Context, tenantID string, limit int) ([]*model.Skill, error) {
	args := m.Called(tenantID, limit)
	out, _ := args.Get(0).([]*model.Skill)
	return out, args.Error(1)
}

type mockUsage struct{ mock.Mock }

func (m *mockUsage) ExportDailyStats(ctx context.Context, f model.ExportFilter) ([]*model.SkillDailyStats, error) {
	args := m.Called(f)
	out, _ := args.Get(0).([]*model.SkillDailyStats)
	return out, args.Error(1)
}

func (m *mockUsage) CoUsageEdges(ctx context.Context, tenantID string, since time.Time, minWeight int) ([]model.CoUsageEdge, error) {
	args := m.Called(tenantID, minWeight)
	out, _ := args.Get(0).([]model.CoUsageEdge)
	return out, args.Error(1)
}

// passTx runs fn directly, or fails before running it when err is set.
type passTx struct {
	calls int
	err   error
}

func (t *passTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	if t.err != nil {
		return t.err
	}
	return fn(ctx)
}

type recordedEvent struct {
	tenantID  string
	eventType model.EventType
	data      model.SkillEventData
}

type fakeEvents struct {
	events []recordedEvent
	err    error
}

func (f *fakeEvents) Publish(ctx context.Context, tenantID string, eventType model.EventType, data model.SkillEventData) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{tenantID, eventType, data})
	return nil
}

type fakeCache struct {
	skills  map[string]*model.Skill
	neg     map[string]bool
	viewed  map[string]bool
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		skills: make(map[string]*model.Skill),
		neg:    make(map[string]bool),
		viewed: make(map[string]bool),
	}
}

func (c *fakeCache) GetSkill(ctx context.Context, tenantID, slug string) (*model.Skill, error) {
	if sk, ok := c.skills[tenantID+"/"+slug]; ok {
		return sk, nil
	}
	return nil, repository.ErrSkillNotFound
}

func (c *fakeCache) SetSkill(ctx context.Context, s *model.Skill) error {
	c.skills[s.TenantID+"/"+s.Slug] = s
	return nil
}

func (c *fakeCache) DeleteSkill(ctx context.Context, tenantID, slug string) error {
	c.deleted = append(c.deleted, slug)
	delete(c.skills, tenantID+"/"+slug)
	delete(c.neg, tenantID+"/"+slug)
	return nil
}

func (c *fakeCache) IsNegativelyCached(ctx context.Context, tenantID, slug string) (bool, error) {
	return c.neg[tenantID+"/"+slug], nil
}

func (c *fakeCache) SetNegativeCache(ctx context.Context, tenantID, slug string) error {
	c.neg[tenantID+"/"+slug] = true
	return nil
}

func (c *fakeCache) MarkViewed(ctx context.Context, skillID, userID string, at time.Time) (bool, error) {
	key := skillID + "/" + userID + "/" + at.UTC().Format(time.DateOnly)
	if c.viewed[key] {
		return false, nil
	}
	c.viewed[key] = true
	return true, nil
}

type fakeTracker struct {
	mu     sync.Mutex
	events []usage.EventPayload
}

func (f *fakeTracker) Track(ev usage.EventPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fixedEmbedder struct {
	vectors map[string][]float32
}

func (e fixedEmbedder) EmbedOrNil(ctx context.Context, text string) []float32 {
	return e.vectors[text]
}
