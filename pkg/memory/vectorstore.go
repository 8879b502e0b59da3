// Package memory implements hybrid recall: a dense (embedding) leg backed by
// chromem-go, a lexical (BM25/FTS5) leg and a typed graph leg both backed by
// the structured store, fused by reciprocal rank fusion, plus the
// decay/prune/merge maintenance sweep and the extraction/consolidation
// pipeline that populates memories from conversation turns.
package memory

import (
	"context"
	"os"
	"path/filepath"

	"github.com/philippgille/chromem-go"
	"github.com/pkg/errors"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// VectorStore is the dense-embedding leg of hybrid recall: one chromem-go
// collection per agent, keyed by the memory's store ID so a dense hit can be
// joined straight back to its Memory row.
type VectorStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorStore opens (or creates) a persistent embedding index under
// workspacePath/memory/vectors.
func NewVectorStore(workspacePath string, embeddingFn chromem.EmbeddingFunc) (*VectorStore, error) {
	dbPath := filepath.Join(workspacePath, "memory", "vectors")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating vector store directory")
	}

	db, err := chromem.NewPersistentDB(dbPath, false)
	if err != nil {
		return nil, errors.Wrap(err, "opening vector store")
	}

	coll, err := db.GetOrCreateCollection("memories", nil, embeddingFn)
	if err != nil {
		return nil, errors.Wrap(err, "creating memories collection")
	}

	logger.InfoCF("memory", "vector store initialized", map[string]interface{}{
		"path":  dbPath,
		"count": coll.Count(),
	})

	return &VectorStore{db: db, collection: coll}, nil
}

// Index embeds and stores content under memoryID, overwriting any previous
// embedding for that ID.
func (vs *VectorStore) Index(ctx context.Context, memoryID, content string) error {
	runes := []rune(content)
	if len(runes) > 8000 {
		content = string(runes[:8000])
	}
	doc := chromem.Document{ID: memoryID, Content: content}
	if err := vs.collection.AddDocument(ctx, doc); err != nil {
		return errors.Wrapf(err, "indexing memory %s", memoryID)
	}
	return nil
}

func (vs *VectorStore) Delete(ctx context.Context, memoryID string) error {
	if err := vs.collection.Delete(ctx, nil, nil, memoryID); err != nil {
		return errors.Wrapf(err, "deleting memory embedding %s", memoryID)
	}
	return nil
}

// DenseCandidate is one ranked dense-leg hit.
type DenseCandidate struct {
	MemoryID string
	Score    float32 // cosine similarity, higher is better
}

// Search returns up to limit nearest neighbors of query by cosine similarity.
func (vs *VectorStore) Search(ctx context.Context, query string, limit int) ([]DenseCandidate, error) {
	count := vs.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}
	results, err := vs.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dense search")
	}
	out := make([]DenseCandidate, len(results))
	for i, r := range results {
		out[i] = DenseCandidate{MemoryID: r.ID, Score: r.Similarity}
	}
	return out, nil
}

// ResolveEmbeddingFunc builds the embedding function for provider/model,
// preferring an OpenAI-compatible endpoint (OpenRouter, local servers) when
// apiBase is set, and the native OpenAI API otherwise.
func ResolveEmbeddingFunc(apiKey, apiBase, model string) chromem.EmbeddingFunc {
	if apiBase != "" {
		return chromem.NewEmbeddingFuncOpenAICompat(apiBase, apiKey, model, nil)
	}
	return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))
}
