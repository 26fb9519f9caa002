package types

import (
	"context"

	"github.com/google/uuid"
	"github.com/xhad/marginalia/internal/models"
)

// TokenCounter reports exact token counts under the embedding model's
// tokenization scheme.
type TokenCounter interface {
	Len(text string) int
}

// Embedder produces dense vectors for texts. Implementations must survive
// context-length overruns internally; any error they return is fatal for the
// current document.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Rewriter expands a raw query into a richer restatement. Implementations
// degrade to the raw query on any failure and never return an error.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) string
}

// QueryRequest is a hybrid query against the vector index.
type QueryRequest struct {
	Vector          []float32
	Sparse          *models.SparseVector
	TopK            int
	Filter          map[string]interface{}
	IncludeMetadata bool
}

// VectorStore is the hybrid dense+sparse index.
type VectorStore interface {
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Query(ctx context.Context, req QueryRequest) ([]models.QueryMatch, error)
	DescribeStats(ctx context.Context) (int64, error)
}

// ReaderClient pages the upstream reading-history API.
type ReaderClient interface {
	FetchAll(ctx context.Context, updatedAfter string) ([]models.Document, error)
}

// Ledger is the optional relational bookkeeping for sync runs. A nil Ledger
// is valid everywhere one is accepted.
type Ledger interface {
	KnownIDs(ctx context.Context) (map[string]bool, error)
	RecordDocument(ctx context.Context, docID, title string, chunkCount int) error
	StartRun(ctx context.Context) (uuid.UUID, error)
	FinishRun(ctx context.Context, run uuid.UUID, synced, failed int) error
	Close()
}
