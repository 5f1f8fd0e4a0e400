package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/everyskill/relay/internal/community"
	"github.com/everyskill/relay/internal/integrity"
	"github.com/everyskill/relay/internal/model"
)

// CoUsageWindow is how far back co-usage is considered.
const CoUsageWindow = 30 * 24 * time.Hour

// TenantLister lists every tenant.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// GraphStore reads the skill graph and stores community assignments.
type GraphStore interface {
	ListTopologyNodes(ctx context.Context, tenantID string) ([]model.TopologyNode, error)
	ReplaceCommunities(ctx context.Context, tenantID string, assignments map[string]int, at time.Time) error
}

// EdgeSource produces co-usage edges.
type EdgeSource interface {
	CoUsageEdges(ctx context.Context, tenantID string, since time.Time, minWeight int) ([]model.CoUsageEdge, error)
}

// IntegrityRunner runs integrity checks for one tenant.
type IntegrityRunner interface {
	Run(ctx context.Context, tenantID string, repair bool) (*integrity.Report, error)
}

// CommunityResult reports one tenant's community detection.
type CommunityResult struct {
	TenantID    string `json:"tenant_id"`
	Skills      int    `json:"skills"`
	Edges       int    `json:"edges"`
	Communities int    `json:"communities"`
	Error       string `json:"error,omitempty"`
}

// IntegrityResult reports one tenant's integrity run.
type IntegrityResult struct {
	*integrity.Report
	TenantID string `json:"tenant_id"`
	Error    string `json:"error,omitempty"`
}

// Runner executes cron jobs for the tenants this instance owns.
type Runner struct {
	tenants   TenantLister
	graph     GraphStore
	edges     EdgeSource
	integrity IntegrityRunner
	ring      *Ring
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(tenants TenantLister, graph GraphStore, edges EdgeSource, checker IntegrityRunner, ring *Ring, logger *slog.Logger) *Runner {
	return &Runner{
		tenants:   tenants,
		graph:     graph,
		edges:     edges,
		integrity: checker,
		ring:      ring,
		logger:    logger.With("component", "cron"),
		now:       time.Now,
	}
}

// Instance names the ring member this runner works for.
func (r *Runner) Instance() string {
	return r.ring.Self()
}

func (r *Runner) ownedTenants(ctx context.Context) ([]string, error) {
	all, err := r.tenants.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	owned := r.ring.Filter(all)
	if skipped := len(all) - len(owned); skipped > 0 {
		r.logger.Info("tenants left to other instances",
			"instance", r.ring.Self(),
			"owned", len(owned),
			"skipped", skipped,
		)
	}
	return owned, nil
}

// DetectCommunities recomputes communities for every owned tenant.
// A failing tenant is reported and does not stop the others.
func (r *Runner) DetectCommunities(ctx context.Context) ([]CommunityResult, error) {
	tenants, err := r.ownedTenants(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]CommunityResult, 0, len(tenants))
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.detectTenant(ctx, tenantID)
		if err != nil {
			r.logger.Error("community detection failed", "tenant_id", tenantID, "error", err)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) detectTenant(ctx context.Context, tenantID string) (CommunityResult, error) {
	res := CommunityResult{TenantID: tenantID}
	now := r.now().UTC()

	nodes, err := r.graph.ListTopologyNodes(ctx, tenantID)
	if err != nil {
		return res, err
	}
	edges, err := r.edges.CoUsageEdges(ctx, tenantID, now.Add(-CoUsageWindow), 1)
	if err != nil {
		return res, err
	}

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	assignments := community.Detect(ids, edges)

	if err := r.graph.ReplaceCommunities(ctx, tenantID, assignments, now); err != nil {
		return res, err
	}

	distinct := make(map[int]struct{})
	for _, c := range assignments {
		distinct[c] = struct{}{}
	}
	res.Skills = len(ids)
	res.Edges = len(edges)
	res.Communities = len(distinct)

	r.logger.Info("communities detected",
		"tenant_id", tenantID,
		"skills", res.Skills,
		"edges", res.Edges,
		"communities", res.Communities,
	)
	return res, nil
}

// CheckIntegrity runs the integrity checks for every owned tenant.
func (r *Runner) CheckIntegrity(ctx context.Context, repair bool) ([]IntegrityResult, error) {
	tenants, err := r.ownedTenants(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]IntegrityResult, 0, len(tenants))
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		report, err := r.integrity.Run(ctx, tenantID, repair)
		res := IntegrityResult{Report: report, TenantID: tenantID}
		if err != nil {
			r.logger.Error("integrity check failed", "tenant_id", tenantID, "error", err)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}
