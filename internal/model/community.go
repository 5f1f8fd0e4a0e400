package model

import "time"

// SkillCommunity assigns a skill to a community within a tenant.
type SkillCommunity struct {
	TenantID    string    `json:"tenant_id"`
	SkillID     string    `json:"skill_id"`
	CommunityID int       `json:"community_id"`
	ComputedAt  time.Time `json:"computed_at"`
}

// CoUsageEdge links two skills used by the same people.
// Source sorts before Target; Weight counts shared users.
type CoUsageEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

// TopologyNode is a skill in the topology graph.
type TopologyNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Community int    `json:"community"`
	Installs  int64  `json:"installs"`
}

// Topology is the skill graph served to the topology view.
type Topology struct {
	Nodes []TopologyNode `json:"nodes"`
	Edges []CoUsageEdge  `json:"edges"`
}
