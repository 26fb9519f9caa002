// Package llm holds the two model-backed clients: the dense embedder and
// the query rewriter.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/marginalia/internal/types"
	"github.com/xhad/marginalia/pkg/tokenizer"
)

// Embedding defaults for the OpenAI service.
const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultDim            = 1536
	DefaultContextLimit   = 8191

	// batchBudget leaves headroom under the service's per-request token
	// window.
	batchBudget = 8192 - 32
)

// EmbedderConfig configures the dense embedding client.
type EmbedderConfig struct {
	Model        string
	Dim          int
	ContextLimit int
	APIKey       string
	BaseURL      string
}

// embeddingClient is the slice of the provider the embedder needs.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder produces fixed-dimension dense vectors. Inputs that overflow the
// model context are bisected at sentence boundaries and the half-vectors
// averaged, recursively, so callers never see a context-length error.
type Embedder struct {
	config  EmbedderConfig
	client  embeddingClient
	counter types.TokenCounter
}

var _ types.Embedder = (*Embedder)(nil)

// NewEmbedderWithConfig creates an embedder backed by the OpenAI embeddings
// API.
func NewEmbedderWithConfig(config EmbedderConfig, counter types.TokenCounter) (*Embedder, error) {
	applyEmbedderDefaults(&config)

	opts := []openai.Option{
		openai.WithEmbeddingModel(config.Model),
	}
	if config.APIKey != "" {
		opts = append(opts, openai.WithToken(config.APIKey))
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return &Embedder{config: config, client: client, counter: counter}, nil
}

func newEmbedder(client embeddingClient, counter types.TokenCounter, config EmbedderConfig) *Embedder {
	applyEmbedderDefaults(&config)
	return &Embedder{config: config, client: client, counter: counter}
}

func applyEmbedderDefaults(config *EmbedderConfig) {
	if config.Model == "" {
		config.Model = DefaultEmbeddingModel
	}
	if config.Dim == 0 {
		config.Dim = DefaultDim
	}
	if config.ContextLimit == 0 {
		config.ContextLimit = DefaultContextLimit
	}
}

// Dim returns the configured output dimension.
func (e *Embedder) Dim() int { return e.config.Dim }

// Embed returns the dense vector for one text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.safeEmbed(ctx, text)
}

// EmbedBatch embeds texts in request batches whose summed token counts stay
// under the service window. Inputs too large for any batch, and whole
// batches rejected for length, fall back to recursive single embedding.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var batch []string
	var batchIdx []int
	var batchTokens int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vecs, err := e.client.CreateEmbedding(ctx, batch)
		if err != nil {
			if !isContextOverflow(err) {
				return err
			}
			// The batch as a whole was rejected; recover item by item.
			for i, text := range batch {
				vec, err := e.safeEmbed(ctx, text)
				if err != nil {
					return err
				}
				results[batchIdx[i]] = vec
			}
		} else {
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedding service returned %d vectors for %d inputs", len(vecs), len(batch))
			}
			for i, vec := range vecs {
				results[batchIdx[i]] = e.pad(vec)
			}
		}
		batch, batchIdx, batchTokens = nil, nil, 0
		return nil
	}

	for i, text := range texts {
		tokens := e.counter.Len(text)
		if tokens > batchBudget {
			vec, err := e.safeEmbed(ctx, text)
			if err != nil {
				return nil, err
			}
			results[i] = vec
			continue
		}
		if batchTokens+tokens > batchBudget {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, text)
		batchIdx = append(batchIdx, i)
		batchTokens += tokens
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return results, nil
}

// safeEmbed embeds text, recursively bisecting and averaging on
// context-length rejections.
func (e *Embedder) safeEmbed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.config.Dim), nil
	}

	vecs, err := e.client.CreateEmbedding(ctx, []string{text})
	if err == nil {
		if len(vecs) == 0 {
			return nil, fmt.Errorf("embedding service returned no vector")
		}
		return e.pad(vecs[0]), nil
	}
	if !isContextOverflow(err) {
		return nil, err
	}

	left, right := tokenizer.Bisect(text)
	if left == "" || right == "" {
		return nil, err
	}

	var leftVec []float32
	var leftErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		leftVec, leftErr = e.safeEmbed(ctx, left)
	}()
	rightVec, rightErr := e.safeEmbed(ctx, right)
	wg.Wait()

	if leftErr != nil {
		return nil, leftErr
	}
	if rightErr != nil {
		return nil, rightErr
	}
	return average(leftVec, rightVec), nil
}

// pad right-fills with zeros to the configured dimension. Models with a
// smaller native dimension stay compatible with the index.
func (e *Embedder) pad(vec []float32) []float32 {
	if len(vec) >= e.config.Dim {
		return vec
	}
	out := make([]float32, e.config.Dim)
	copy(out, vec)
	return out
}

func average(a, b []float32) []float32 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := range out {
		var av, bv float32
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = (av + bv) / 2
	}
	return out
}

// isContextOverflow recognizes the service's context-length rejection. The
// provider does not type this error, so match on the message.
func isContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context_length_exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "context length")
}
