// Package retriever runs the two-stage hybrid search: a header pass to pick
// candidate documents, then a chunk pass ranked within those candidates.
package retriever

import (
	"context"
	"fmt"

	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
	"github.com/xhad/marginalia/pkg/sparse"
	"github.com/xhad/marginalia/pkg/tokenizer"
)

// Defaults. The index scores with a hybrid dot product, so these bounds are
// dot-product values; cosine-tuned thresholds (0.7 and up) do not apply.
const (
	DefaultTopK           = 15
	DefaultHeaderTopK     = 10
	DefaultMinScore       = 0.25
	DefaultHeaderMinScore = 0.35
)

// Config tunes the retriever. Header thresholds sit above the chunk bound
// because header vectors concentrate tag and keyword signal.
type Config struct {
	TopK           int
	HeaderTopK     int
	MinScore       float32
	HeaderMinScore float32
	MaxTerms       int
}

// Retriever holds no state between searches.
type Retriever struct {
	config   Config
	store    types.VectorStore
	embedder types.Embedder
	rewriter types.Rewriter
}

// NewWithConfig creates a retriever. rewriter may be nil, which searches on
// the raw query.
func NewWithConfig(config Config, store types.VectorStore, embedder types.Embedder, rewriter types.Rewriter) *Retriever {
	if config.TopK == 0 {
		config.TopK = DefaultTopK
	}
	if config.HeaderTopK == 0 {
		config.HeaderTopK = DefaultHeaderTopK
	}
	if config.MinScore == 0 {
		config.MinScore = DefaultMinScore
	}
	if config.HeaderMinScore == 0 {
		config.HeaderMinScore = DefaultHeaderMinScore
	}
	if config.MaxTerms == 0 {
		config.MaxTerms = sparse.DefaultMaxTerms
	}
	return &Retriever{config: config, store: store, embedder: embedder, rewriter: rewriter}
}

// Search returns up to topK passages scoring at least minScore. Zero
// arguments take the configured defaults. An empty candidate set is a
// normal outcome, not an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int, minScore float32) ([]models.QueryResult, error) {
	if topK <= 0 {
		topK = r.config.TopK
	}
	if minScore <= 0 {
		minScore = r.config.MinScore
	}

	rewritten := query
	if r.rewriter != nil {
		rewritten = r.rewriter.Rewrite(ctx, query)
	}
	stripped := tokenizer.StripStops(rewritten)
	if stripped == "" {
		return nil, nil
	}

	dense, err := r.embedder.Embed(ctx, stripped)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	sv := sparse.ToSparseVector(stripped, r.config.MaxTerms)

	candidates, err := r.headerPass(ctx, dense, &sv)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return r.chunkPass(ctx, dense, &sv, candidates, topK, minScore)
}

// headerPass returns the candidate document ids, in match order.
func (r *Retriever) headerPass(ctx context.Context, dense []float32, sv *models.SparseVector) ([]string, error) {
	matches, err := r.store.Query(ctx, types.QueryRequest{
		Vector:          dense,
		Sparse:          sv,
		TopK:            r.config.HeaderTopK,
		IncludeMetadata: true,
		Filter: map[string]interface{}{
			"header": map[string]interface{}{"$eq": true},
		},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var candidates []string
	for _, m := range matches {
		if m.Score < r.config.HeaderMinScore {
			continue
		}
		id := m.MetaString("doc_id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, id)
	}
	return candidates, nil
}

func (r *Retriever) chunkPass(ctx context.Context, dense []float32, sv *models.SparseVector, candidates []string, topK int, minScore float32) ([]models.QueryResult, error) {
	ids := make([]interface{}, len(candidates))
	for i, id := range candidates {
		ids[i] = id
	}

	matches, err := r.store.Query(ctx, types.QueryRequest{
		Vector:          dense,
		Sparse:          sv,
		TopK:            2 * topK,
		IncludeMetadata: true,
		Filter: map[string]interface{}{
			"header": map[string]interface{}{"$eq": false},
			"doc_id": map[string]interface{}{"$in": ids},
		},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var results []models.QueryResult
	for _, m := range matches {
		if m.Score < minScore || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		results = append(results, models.QueryResult{
			ID:    m.ID,
			Score: m.Score,
			DocID: m.MetaString("doc_id"),
			Title: m.MetaString("title"),
			Text:  m.MetaString("text"),
			URL:   m.MetaString("url"),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}
