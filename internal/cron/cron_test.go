package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/integrity"
	"github.com/everyskill/relay/internal/model"
)

func mustRing(t *testing.T, self string, instances []string) *Ring {
	t.Helper()
	r, err := NewRing(self, instances)
	require.NoError(t, err)
	return r
}

func TestRing_NoInstancesOwnsEverything(t *testing.T) {
	r := mustRing(t, "relay-0", nil)
	assert.True(t, r.Owns("tenant-a"))
	assert.Equal(t, []string{"a", "b"}, r.Filter([]string{"a", "b"}))
}

func TestRing_PartitionsTenants(t *testing.T) {
	instances := []string{"relay-0", "relay-1", "relay-2"}
	rings := make([]*Ring, len(instances))
	for i, inst := range instances {
		rings[i] = mustRing(t, inst, instances)
	}

	tenants := make([]string, 200)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("tenant-%03d", i)
	}

	total := 0
	for _, r := range rings {
		owned := r.Filter(tenants)
		assert.NotEmpty(t, owned)
		total += len(owned)
	}
	assert.Equal(t, len(tenants), total, "each tenant has exactly one owner")

	for _, id := range tenants {
		assert.Equal(t, rings[0].Owner(id), rings[1].Owner(id))
	}
}

func TestRing_RejectsUnlistedInstance(t *testing.T) {
	r, err := NewRing("relay-9", []string{"relay-0", "relay-1"})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Nil(t, r)
}

type fakeTenants []string

func (f fakeTenants) ListTenantIDs(context.Context) ([]string, error) { return f, nil }

type fakeGraph struct {
	nodes    map[string][]model.TopologyNode
	replaced map[string]map[string]int
	failFor  string
}

func (f *fakeGraph) ListTopologyNodes(_ context.Context, tenantID string) ([]model.TopologyNode, error) {
	if tenantID == f.failFor {
		return nil, errors.New("boom")
	}
	return f.nodes[tenantID], nil
}

func (f *fakeGraph) ReplaceCommunities(_ context.Context, tenantID string, a map[string]int, _ time.Time) error {
	if f.replaced == nil {
		f.replaced = make(map[string]map[string]int)
	}
	f.replaced[tenantID] = a
	return nil
}

type fakeEdges struct {
	since time.Time
	edges map[string][]model.CoUsageEdge
}

func (f *fakeEdges) CoUsageEdges(_ context.Context, tenantID string, since time.Time, _ int) ([]model.CoUsageEdge, error) {
	f.since = since
	return f.edges[tenantID], nil
}

type fakeChecker struct{}

func (fakeChecker) Run(_ context.Context, tenantID string, repair bool) (*integrity.Report, error) {
	if tenantID == "bad" {
		return nil, errors.New("check failed")
	}
	return &integrity.Report{TenantID: tenantID, Issues: []model.IntegrityIssue{}}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetectCommunities(t *testing.T) {
	graph := &fakeGraph{
		nodes: map[string][]model.TopologyNode{
			"t1": {{ID: "a"}, {ID: "b"}, {ID: "c"}},
		},
		failFor: "t2",
	}
	edges := &fakeEdges{edges: map[string][]model.CoUsageEdge{
		"t1": {{Source: "a", Target: "b", Weight: 3}},
	}}

	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	r := NewRunner(fakeTenants{"t1", "t2"}, graph, edges, fakeChecker{}, mustRing(t, "relay-0", nil), discard())
	r.now = func() time.Time { return now }

	results, err := r.DetectCommunities(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, CommunityResult{TenantID: "t1", Skills: 3, Edges: 1, Communities: 2}, results[0])
	assert.Equal(t, "t2", results[1].TenantID)
	assert.NotEmpty(t, results[1].Error)

	assert.Equal(t, map[string]int{"a": 0, "b": 0, "c": 1}, graph.replaced["t1"])
	assert.Equal(t, now.Add(-CoUsageWindow), edges.since)
}

func TestCheckIntegrity(t *testing.T) {
	r := NewRunner(fakeTenants{"good", "bad"}, &fakeGraph{}, &fakeEdges{}, fakeChecker{}, mustRing(t, "relay-0", nil), discard())

	results, err := r.CheckIntegrity(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	require.NotNil(t, results[0].Report)
	assert.Equal(t, "check failed", results[1].Error)
	assert.Nil(t, results[1].Report)
}

// One trigger per instance covers every tenant exactly once; a single
// trigger covers only the receiving instance's share.
func TestDetectCommunities_EveryInstanceMustBeTriggered(t *testing.T) {
	instances := []string{"relay-0", "relay-1", "relay-2"}
	tenants := make(fakeTenants, 60)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("tenant-%02d", i)
	}

	seen := map[string]int{}
	for _, inst := range instances {
		r := NewRunner(tenants, &fakeGraph{}, &fakeEdges{}, fakeChecker{}, mustRing(t, inst, instances), discard())
		assert.Equal(t, inst, r.Instance())

		results, err := r.DetectCommunities(context.Background())
		require.NoError(t, err)
		assert.Less(t, len(results), len(tenants), "one instance must not run every tenant")
		for _, res := range results {
			seen[res.TenantID]++
		}
	}

	require.Len(t, seen, len(tenants))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
