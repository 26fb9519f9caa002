package chunker_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/marginalia/pkg/chunker"
)

// wordCounter stands in for the tiktoken counter; one word, one token.
type wordCounter struct{}

func (wordCounter) Len(text string) int { return len(strings.Fields(text)) }

// topicEmbedder maps cat texts and finance texts onto orthogonal axes.
type topicEmbedder struct{}

func (topicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "cats") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (e topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func TestChunk_Empty(t *testing.T) {
	c := chunker.NewWithConfig(chunker.Config{}, wordCounter{}, nil)

	chunks, err := c.Chunk(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(context.Background(), "\n\n\n\n")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_MergesSmallParagraphs(t *testing.T) {
	c := chunker.NewWithConfig(chunker.Config{
		MinTokens: 1, MaxTokens: 100, SingleLimit: 1000,
	}, wordCounter{}, nil)

	text := "first short paragraph\n\nsecond short paragraph\n\nthird short paragraph"
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestChunk_SimilarityGuidesBreaks(t *testing.T) {
	c := chunker.NewWithConfig(chunker.Config{
		MinTokens:   1,
		MaxTokens:   30,
		SingleLimit: 10,
		Threshold:   0.5,
	}, wordCounter{}, topicEmbedder{})

	paras := []string{
		"cats sleep through most afternoons in sunny corners",
		"cats also purr when resting near warm windows",
		"finance markets closed lower on central bank news",
	}
	chunks, err := c.Chunk(context.Background(), strings.Join(paras, "\n\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// The two cat paragraphs stay together, separated by the preserved
	// paragraph break; the finance paragraph starts a new chunk.
	assert.Equal(t, paras[0]+"\n\n"+paras[1], chunks[0].Text)
	assert.Equal(t, paras[2], chunks[1].Text)
}

func TestChunk_OversizeParagraphSentenceSplit(t *testing.T) {
	c := chunker.NewWithConfig(chunker.Config{
		MinTokens: 5, MaxTokens: 50, SingleLimit: 1000,
	}, wordCounter{}, nil)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "sentence %d has exactly seven words total now. ", i)
	}
	text := strings.TrimSpace(b.String())

	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Text)
		assert.LessOrEqual(t, ch.Tokens, 50)
	}
}

func TestChunk_OversizeSentenceEmittedIntact(t *testing.T) {
	c := chunker.NewWithConfig(chunker.Config{
		MinTokens: 5, MaxTokens: 20, SingleLimit: 1000,
	}, wordCounter{}, nil)

	sentence := strings.TrimSpace(strings.Repeat("unbroken ", 40)) + "."
	chunks, err := c.Chunk(context.Background(), sentence)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	// A lone sentence with no internal boundary may legitimately exceed the
	// bound.
	assert.Greater(t, chunks[0].Tokens, 20)
	internal := strings.TrimRight(chunks[0].Text, ".!?")
	assert.NotContains(t, internal, ".")
}

func TestChunk_IndicesContiguous(t *testing.T) {
	c := chunker.NewWithConfig(chunker.Config{
		MinTokens: 1, MaxTokens: 8, SingleLimit: 1000,
	}, wordCounter{}, nil)

	text := "one two three four five six seven\n\nalpha beta gamma delta epsilon zeta eta\n\nred orange yellow green blue indigo violet"
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}
