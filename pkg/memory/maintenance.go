package memory

import (
	"context"
	"math"
	"time"

	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

// MaintenanceConfig configures the decay/prune/merge sweep. Mirrors
// config.MemoryConfig's corresponding fields.
type MaintenanceConfig struct {
	DecayLambda    float64
	DecayFloor     float64
	PruneThreshold float64
	MergeThreshold float64
}

// Maintainer runs the Cortex's slower-cadence memory upkeep: importance
// decay, pruning of memories nobody references anymore, and merging of
// near-duplicate memories into one.
type Maintainer struct {
	store  *store.Store
	vector *VectorStore
	cfg    MaintenanceConfig
}

func NewMaintainer(s *store.Store, vs *VectorStore, cfg MaintenanceConfig) *Maintainer {
	return &Maintainer{store: s, vector: vs, cfg: cfg}
}

// Run executes decay, then prune, then merge, in that order: decay first so
// prune sees up-to-date importance, merge last so it only considers
// memories that survived pruning.
func (m *Maintainer) Run(ctx context.Context) error {
	if err := m.decay(ctx); err != nil {
		return err
	}
	pruned, err := m.prune(ctx)
	if err != nil {
		return err
	}
	merged, err := m.merge(ctx)
	if err != nil {
		return err
	}
	logger.InfoCF("memory", "maintenance sweep complete", map[string]interface{}{
		"pruned": pruned,
		"merged": merged,
	})
	return nil
}

// decay applies importance := max(floor, importance * exp(-lambda*deltaDays))
// to every memory, where deltaDays is the time since last access.
func (m *Maintainer) decay(ctx context.Context) error {
	memories, err := m.store.ListMemoriesForMaintenance(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, mem := range memories {
		deltaDays := now.Sub(mem.LastAccessedAt).Hours() / 24
		if deltaDays <= 0 {
			continue
		}
		decayed := mem.Importance * math.Exp(-m.cfg.DecayLambda*deltaDays)
		if decayed < m.cfg.DecayFloor {
			decayed = m.cfg.DecayFloor
		}
		if decayed == mem.Importance {
			continue
		}
		if err := m.store.UpdateImportance(ctx, mem.ID, decayed); err != nil {
			return err
		}
	}
	return nil
}

// prune removes memories whose importance has decayed below threshold, that
// have never been accessed, and that have no incoming association edges —
// i.e. nothing in the graph would be orphaned by their removal.
func (m *Maintainer) prune(ctx context.Context) (int, error) {
	memories, err := m.store.ListMemoriesForMaintenance(ctx)
	if err != nil {
		return 0, err
	}

	incoming := make(map[string]bool)
	for _, mem := range memories {
		edges, err := m.store.Neighbors(ctx, mem.ID)
		if err != nil {
			return 0, err
		}
		for _, e := range edges {
			incoming[e.TargetID] = true
		}
	}

	count := 0
	for _, mem := range memories {
		if mem.Importance >= m.cfg.PruneThreshold {
			continue
		}
		if mem.AccessCount != 0 {
			continue
		}
		if incoming[mem.ID] {
			continue
		}
		if err := m.store.DeleteMemory(ctx, mem.ID); err != nil {
			return count, err
		}
		if err := m.vector.Delete(ctx, mem.ID); err != nil {
			logger.WarnCF("memory", "failed to delete embedding for pruned memory", map[string]interface{}{
				"memory_id": mem.ID, "error": err.Error(),
			})
		}
		count++
	}
	return count, nil
}

// merge clusters memories whose dense embeddings are near-duplicates
// (cosine >= MergeThreshold), keeps the one with the highest
// importance + log(access_count+1), rewrites the losers' incoming
// associations onto the survivor, and records an "updates" edge from
// survivor to each absorbed memory for auditability.
func (m *Maintainer) merge(ctx context.Context) (int, error) {
	memories, err := m.store.ListMemoriesForMaintenance(ctx)
	if err != nil {
		return 0, err
	}

	merged := 0
	absorbed := make(map[string]bool)
	for _, mem := range memories {
		if absorbed[mem.ID] {
			continue
		}
		candidates, err := m.vector.Search(ctx, mem.Content, 5)
		if err != nil {
			continue
		}
		for _, c := range candidates {
			if c.MemoryID == mem.ID || absorbed[c.MemoryID] || float64(c.Score) < m.cfg.MergeThreshold {
				continue
			}
			other, err := m.store.GetMemory(ctx, c.MemoryID)
			if err != nil || absorbed[other.ID] {
				continue
			}

			survivor, loser := &mem, other
			if rankOf(*other) > rankOf(mem) {
				survivor, loser = other, &mem
			}

			if err := m.store.RewireAssociations(ctx, loser.ID, survivor.ID); err != nil {
				return merged, err
			}
			if err := LinkAssociation(ctx, m.store, survivor.ID, loser.ID, model.RelUpdates, 1.0); err != nil {
				return merged, err
			}
			if err := m.store.DeleteMemory(ctx, loser.ID); err != nil {
				return merged, err
			}
			if err := m.vector.Delete(ctx, loser.ID); err != nil {
				logger.WarnCF("memory", "failed to delete embedding for merged memory", map[string]interface{}{
					"memory_id": loser.ID, "error": err.Error(),
				})
			}
			absorbed[loser.ID] = true
			merged++
		}
	}
	return merged, nil
}

func rankOf(m model.Memory) float64 {
	return m.Importance + math.Log(float64(m.AccessCount)+1)
}
