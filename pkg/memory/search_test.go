package memory

import (
	"testing"

	"github.com/pico-agents/coreagent/pkg/model"
)

func TestFuseRanksHitsAppearingInMultipleLegsHigher(t *testing.T) {
	dense := []DenseCandidate{{MemoryID: "a", Score: 0.9}, {MemoryID: "b", Score: 0.8}}
	lexical := []model.Memory{{ID: "a"}, {ID: "c"}}
	graph := []GraphCandidate{{MemoryID: "d", Depth: 1, Weight: 0.5, SeedRank: 1}}

	scores := fuse(dense, lexical, graph)

	if scores["a"] <= scores["b"] {
		t.Errorf("scores[a]=%v should exceed scores[b]=%v: a is ranked in both dense and lexical legs", scores["a"], scores["b"])
	}
	if scores["a"] <= scores["c"] {
		t.Errorf("scores[a]=%v should exceed scores[c]=%v: a additionally leads the dense leg", scores["a"], scores["c"])
	}
	if _, ok := scores["d"]; !ok {
		t.Error("graph-only candidate should still receive a score")
	}
}

func TestFuseAppliesGraphDepthDecay(t *testing.T) {
	shallow := []GraphCandidate{{MemoryID: "shallow", Depth: 1, Weight: 0.5, SeedRank: 1}}
	deep := []GraphCandidate{{MemoryID: "deep", Depth: 2, Weight: 0.5, SeedRank: 1}}

	shallowScore := fuse(nil, nil, shallow)["shallow"]
	deepScore := fuse(nil, nil, deep)["deep"]

	if deepScore >= shallowScore {
		t.Errorf("deeper graph hit scored %v, want less than shallow hit's %v", deepScore, shallowScore)
	}
}

func TestFuseWeighsGraphHitsBySeedRankAndEdgeWeight(t *testing.T) {
	fromTopSeed := []GraphCandidate{{MemoryID: "x", Depth: 1, Weight: 0.5, SeedRank: 1}}
	fromWeakSeed := []GraphCandidate{{MemoryID: "y", Depth: 1, Weight: 0.5, SeedRank: 5}}
	if fuse(nil, nil, fromTopSeed)["x"] <= fuse(nil, nil, fromWeakSeed)["y"] {
		t.Error("a hit reached from the top-ranked seed should outscore one reached from a lower-ranked seed, all else equal")
	}

	strongEdge := []GraphCandidate{{MemoryID: "strong", Depth: 1, Weight: 0.9, SeedRank: 1}}
	weakEdge := []GraphCandidate{{MemoryID: "weak", Depth: 1, Weight: 0.1, SeedRank: 1}}
	if fuse(nil, nil, strongEdge)["strong"] <= fuse(nil, nil, weakEdge)["weak"] {
		t.Error("a high-weight edge should outscore a low-weight edge, all else equal")
	}
}

func TestFuseHandlesNoHitsInAnyLeg(t *testing.T) {
	scores := fuse(nil, nil, nil)
	if len(scores) != 0 {
		t.Errorf("len(scores) = %d, want 0", len(scores))
	}
}

func TestPassesFilterByMemoryType(t *testing.T) {
	m := &model.Memory{MemoryType: model.MemoryFact, Importance: 0.5}
	if !passesFilter(m, SearchFilter{MemoryType: model.MemoryFact}) {
		t.Error("expected a matching memory type to pass")
	}
	if passesFilter(m, SearchFilter{MemoryType: model.MemoryPreference}) {
		t.Error("expected a mismatched memory type to be filtered out")
	}
}

func TestPassesFilterByChannelScoping(t *testing.T) {
	scoped := &model.Memory{ChannelID: "chan-a"}
	global := &model.Memory{ChannelID: ""}

	if !passesFilter(scoped, SearchFilter{ChannelID: "chan-a"}) {
		t.Error("expected a same-channel memory to pass")
	}
	if passesFilter(scoped, SearchFilter{ChannelID: "chan-b"}) {
		t.Error("expected a different-channel memory to be filtered out")
	}
	if !passesFilter(global, SearchFilter{ChannelID: "chan-a"}) {
		t.Error("expected an unscoped (global) memory to pass any channel filter")
	}
}

func TestPassesFilterByImportanceFloor(t *testing.T) {
	m := &model.Memory{Importance: 0.3}
	if !passesFilter(m, SearchFilter{ImportanceMin: 0.3}) {
		t.Error("expected importance exactly at the floor to pass")
	}
	if passesFilter(m, SearchFilter{ImportanceMin: 0.31}) {
		t.Error("expected importance below the floor to be filtered out")
	}
}
