// Package community clusters skills by co-usage with weighted label
// propagation.
package community

import (
	"sort"

	"github.com/everyskill/relay/internal/model"
)

// MaxIterations caps label propagation passes.
const MaxIterations = 20

type neighbor struct {
	id     string
	weight int
}

// Detect assigns every node a community number in 0..k-1.
//
// Nodes are visited in sorted order and adopt the label carrying the highest
// summed edge weight among their neighbours, ties going to the smallest
// label. Communities are numbered by descending size, then by smallest
// member. Edges naming unknown nodes or with non-positive weight are ignored.
func Detect(nodes []string, edges []model.CoUsageEdge) map[string]int {
	order := uniqueSorted(nodes)
	known := make(map[string]struct{}, len(order))
	for _, n := range order {
		known[n] = struct{}{}
	}

	adj := make(map[string][]neighbor, len(order))
	for _, e := range edges {
		if e.Weight <= 0 || e.Source == e.Target {
			continue
		}
		if _, ok := known[e.Source]; !ok {
			continue
		}
		if _, ok := known[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], neighbor{id: e.Target, weight: e.Weight})
		adj[e.Target] = append(adj[e.Target], neighbor{id: e.Source, weight: e.Weight})
	}

	labels := make(map[string]string, len(order))
	for _, n := range order {
		labels[n] = n
	}

	for iter := 0; iter < MaxIterations; iter++ {
		changed := false
		for _, n := range order {
			best, ok := bestLabel(adj[n], labels)
			if ok && best != labels[n] {
				labels[n] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return renumber(order, labels)
}

func bestLabel(neighbors []neighbor, labels map[string]string) (string, bool) {
	if len(neighbors) == 0 {
		return "", false
	}
	weights := make(map[string]int, len(neighbors))
	for _, nb := range neighbors {
		weights[labels[nb.id]] += nb.weight
	}

	var best string
	bestWeight := -1
	for label, w := range weights {
		if w > bestWeight || (w == bestWeight && label < best) {
			best, bestWeight = label, w
		}
	}
	return best, true
}

func renumber(order []string, labels map[string]string) map[string]int {
	groups := make(map[string][]string)
	for _, n := range order {
		groups[labels[n]] = append(groups[labels[n]], n)
	}

	members := make([][]string, 0, len(groups))
	for _, g := range groups {
		members = append(members, g) // already sorted: built from order
	}
	sort.Slice(members, func(i, j int) bool {
		if len(members[i]) != len(members[j]) {
			return len(members[i]) > len(members[j])
		}
		return members[i][0] < members[j][0]
	})

	out := make(map[string]int, len(order))
	for id, g := range members {
		for _, n := range g {
			out[n] = id
		}
	}
	return out
}

func uniqueSorted(nodes []string) []string {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
