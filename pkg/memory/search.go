package memory

import (
	"context"
	"math"
	"sort"

	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

const (
	kRRF            = 60.0
	denseWeight     = 1.0
	lexicalWeight   = 1.0
	graphWeight     = 0.5
	graphDepthDecay = 0.5 // base of the depth_decay^depth term
	graphMaxDepth   = 2
	graphSeedCount  = 5 // top dense+lexical hits used to seed the graph walk
)

// SearchFilter narrows the fused result set after fusion, matching the
// stage ordering §4.1 specifies: fuse first, filter second.
type SearchFilter struct {
	MemoryType    model.MemoryType // zero value matches any
	ChannelID     string           // empty matches any
	ImportanceMin float64
}

// Result is one fused, filtered hit ready for presentation.
type Result struct {
	Memory model.Memory
	Score  float64
}

// Searcher composes the dense, lexical and graph legs of hybrid recall.
type Searcher struct {
	store  *store.Store
	vector *VectorStore
}

func NewSearcher(s *store.Store, vs *VectorStore) *Searcher {
	return &Searcher{store: s, vector: vs}
}

// Search runs all three legs, fuses them by reciprocal rank fusion, applies
// filter, and returns the top limit results ordered by descending fused
// score with a ascending-ID tie-break for a deterministic total order.
func (s *Searcher) Search(ctx context.Context, query string, limit int, filter SearchFilter, channelID, specialist string) ([]Result, error) {
	k := limit * 3
	if k < 10 {
		k = 10
	}

	dense, err := s.vector.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	lexical, err := s.store.LexicalSearch(ctx, query, channelID, specialist, k)
	if err != nil {
		return nil, err
	}

	seeds := make([]string, 0, graphSeedCount)
	for i := 0; i < len(dense) && len(seeds) < graphSeedCount; i++ {
		seeds = append(seeds, dense[i].MemoryID)
	}
	for i := 0; i < len(lexical) && len(seeds) < graphSeedCount; i++ {
		seeds = append(seeds, lexical[i].ID)
	}

	var graphHits []GraphCandidate
	if len(seeds) > 0 {
		graphHits, err = GraphSearch(ctx, s.store, seeds, graphMaxDepth)
		if err != nil {
			return nil, err
		}
	}

	fused := fuse(dense, lexical, graphHits)

	results := make([]Result, 0, len(fused))
	for id, score := range fused {
		m, err := s.store.GetMemory(ctx, id)
		if err != nil {
			continue // memory was deleted or pruned between leg query and fusion
		}
		if !passesFilter(m, filter) {
			continue
		}
		results = append(results, Result{Memory: *m, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	for i := range results {
		_ = s.store.TouchMemory(ctx, results[i].Memory.ID)
	}
	return results, nil
}

// fuse combines per-leg rankings into one reciprocal-rank-fusion score:
// score(id) = sum over legs containing id of weight_leg / (k_rrf + rank_leg(id))
// ranks are 1-based within each leg's own ordering.
func fuse(dense []DenseCandidate, lexical []model.Memory, graph []GraphCandidate) map[string]float64 {
	scores := make(map[string]float64)

	for i, d := range dense {
		scores[d.MemoryID] += denseWeight / (kRRF + float64(i+1))
	}
	for i, l := range lexical {
		scores[l.ID] += lexicalWeight / (kRRF + float64(i+1))
	}
	// score(id) = seed_rank⁻¹ · edge_weight · depth_decay^depth, scaled by
	// the graph leg's overall weight in the fused total.
	for _, g := range graph {
		seedRankInv := 1.0 / float64(g.SeedRank)
		decay := math.Pow(graphDepthDecay, float64(g.Depth))
		scores[g.MemoryID] += graphWeight * seedRankInv * g.Weight * decay
	}

	// Guard against NaN contaminating the total order: a NaN score is
	// treated as the lowest possible score rather than propagating through
	// comparisons (which would otherwise make every comparison false and
	// break sort.Slice's ordering guarantee).
	for id, sc := range scores {
		if math.IsNaN(sc) {
			scores[id] = math.Inf(-1)
		}
	}
	return scores
}

func passesFilter(m *model.Memory, f SearchFilter) bool {
	if f.MemoryType != "" && m.MemoryType != f.MemoryType {
		return false
	}
	if f.ChannelID != "" && m.ChannelID != "" && m.ChannelID != f.ChannelID {
		return false
	}
	if m.Importance < f.ImportanceMin {
		return false
	}
	return true
}
