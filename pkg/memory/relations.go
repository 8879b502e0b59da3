package memory

import (
	"context"

	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

// GraphCandidate is one hit surfaced by a BFS walk of the association graph.
// SeedRank is the 1-based rank, among the dense+lexical seeds that started
// the walk, of the seed this hit was ultimately reached from; Weight is the
// weight of the edge that discovered it (the last hop on its path). Both
// feed the fusion stage's seed_rank⁻¹ · edge_weight · depth_decay^depth
// scoring directly.
type GraphCandidate struct {
	MemoryID string
	Depth    int
	Weight   float64
	SeedRank int
}

type frontierNode struct {
	id       string
	seedRank int
}

// GraphSearch walks the association graph outward from each of seedIDs (in
// rank order, rank 1 first) up to maxDepth hops, visiting each memory at
// most once so cycles terminate the walk rather than looping it. A node
// reachable from more than one seed keeps the rank of whichever seed's
// frontier reaches it first, since seeds are enqueued in rank order.
func GraphSearch(ctx context.Context, s *store.Store, seedIDs []string, maxDepth int) ([]GraphCandidate, error) {
	visited := make(map[string]bool, len(seedIDs))
	frontier := make([]frontierNode, 0, len(seedIDs))
	for i, id := range seedIDs {
		visited[id] = true
		frontier = append(frontier, frontierNode{id: id, seedRank: i + 1})
	}

	var out []GraphCandidate

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []frontierNode
		for _, node := range frontier {
			edges, err := s.Neighbors(ctx, node.id)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.TargetID] {
					continue
				}
				visited[e.TargetID] = true
				out = append(out, GraphCandidate{
					MemoryID: e.TargetID,
					Depth:    depth,
					Weight:   e.Weight,
					SeedRank: node.seedRank,
				})
				next = append(next, frontierNode{id: e.TargetID, seedRank: node.seedRank})
			}
		}
		frontier = next
	}
	return out, nil
}

// LinkAssociation records a typed edge between two memories, deduplicated by
// (source,target,relation) at the store layer.
func LinkAssociation(ctx context.Context, s *store.Store, sourceID, targetID string, relation model.RelationType, weight float64) error {
	return s.SaveAssociation(ctx, &model.Association{
		SourceID: sourceID,
		TargetID: targetID,
		Relation: relation,
		Weight:   weight,
	})
}
