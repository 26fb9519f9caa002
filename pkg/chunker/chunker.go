// Package chunker splits normalized document text into token-bounded
// fragments, joining or breaking neighbors by embedding similarity over
// sliding paragraph windows.
package chunker

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
)

// Chunking defaults.
const (
	DefaultMinTokens  = 300
	DefaultMaxTokens  = 800
	DefaultWindowSize = 1
	DefaultThreshold  = 0.75

	// singleLimitMargin is subtracted from the embedding context limit to
	// form the per-paragraph hard cap.
	singleLimitMargin = 1000
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)

// Config tunes the chunker. Zero values take the defaults above.
type Config struct {
	MinTokens   int
	MaxTokens   int
	WindowSize  int
	Threshold   float64
	SingleLimit int
}

// Chunker produces chunks whose token length lies within the configured
// bounds, except that a lone sentence with no internal boundary may exceed
// MaxTokens and is emitted intact.
type Chunker struct {
	config   Config
	counter  types.TokenCounter
	embedder types.Embedder
}

// NewWithConfig creates a chunker. embedder may be nil, in which case
// similarity decisions are skipped and chunks break on size alone.
func NewWithConfig(config Config, counter types.TokenCounter, embedder types.Embedder) *Chunker {
	if config.MinTokens == 0 {
		config.MinTokens = DefaultMinTokens
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.WindowSize == 0 {
		config.WindowSize = DefaultWindowSize
	}
	if config.Threshold == 0 {
		config.Threshold = DefaultThreshold
	}
	if config.SingleLimit == 0 {
		config.SingleLimit = 8191 - singleLimitMargin
	}
	return &Chunker{config: config, counter: counter, embedder: embedder}
}

// windowPair is the pre-joined window texts at one paragraph boundary.
type windowPair struct {
	current string
	next    string
}

// Chunk splits text into fragments. Paragraph separators between merged
// paragraphs are preserved as blank lines.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]models.Chunk, error) {
	merged := c.mergeParagraphs(splitParagraphs(text))
	if len(merged) == 0 {
		return nil, nil
	}

	pairs := c.windowPairs(merged)
	vectors, err := c.embedWindows(ctx, pairs)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		joined := strings.Join(buf, "\n\n")
		chunks = append(chunks, models.Chunk{
			Index:  len(chunks),
			Text:   joined,
			Tokens: c.counter.Len(joined),
		})
		buf = nil
	}

	for i, para := range merged {
		if c.counter.Len(para) > c.config.MaxTokens {
			flush()
			for _, piece := range c.sentenceSplit(para, c.config.MaxTokens) {
				chunks = append(chunks, models.Chunk{
					Index:  len(chunks),
					Text:   piece,
					Tokens: c.counter.Len(piece),
				})
			}
			continue
		}

		buf = append(buf, para)
		bufTokens := c.counter.Len(strings.Join(buf, "\n\n"))
		last := i == len(merged)-1

		if bufTokens < c.config.MinTokens && !last {
			continue
		}
		if bufTokens > c.config.MaxTokens {
			flush()
			continue
		}

		pair, ok := pairs[i]
		if !ok || last {
			continue
		}
		if bufTokens+c.counter.Len(pair.next) > c.config.MaxTokens {
			flush()
			continue
		}
		if c.embedder == nil {
			continue
		}
		if cosine(vectors[pair.current], vectors[pair.next]) < c.config.Threshold {
			flush()
		}
	}
	flush()

	return chunks, nil
}

// splitParagraphs splits normalized text on blank lines.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeParagraphs greedily joins consecutive paragraphs while the merged
// text stays under min(MaxTokens, SingleLimit). Paragraphs over the single
// limit are sentence-split into the work queue first.
func (c *Chunker) mergeParagraphs(paras []string) []string {
	limit := c.config.MaxTokens
	if c.config.SingleLimit < limit {
		limit = c.config.SingleLimit
	}

	var queue []string
	for _, p := range paras {
		if c.counter.Len(p) > c.config.SingleLimit {
			queue = append(queue, c.sentenceSplit(p, c.config.SingleLimit)...)
			continue
		}
		queue = append(queue, p)
	}

	var merged []string
	var current string
	for _, p := range queue {
		if current == "" {
			current = p
			continue
		}
		candidate := current + "\n\n" + p
		if c.counter.Len(candidate) <= limit {
			current = candidate
			continue
		}
		merged = append(merged, current)
		current = p
	}
	if current != "" {
		merged = append(merged, current)
	}
	return merged
}

// windowPairs builds the sliding window texts for each adjacent boundary,
// skipping boundaries where either window overruns MaxTokens.
func (c *Chunker) windowPairs(merged []string) map[int]windowPair {
	ws := c.config.WindowSize
	pairs := make(map[int]windowPair)
	for i := 0; i < len(merged)-1; i++ {
		lo := i - ws + 1
		if lo < 0 {
			lo = 0
		}
		hi := i + 1 + ws
		if hi > len(merged) {
			hi = len(merged)
		}
		current := strings.Join(merged[lo:i+1], "\n\n")
		next := strings.Join(merged[i+1:hi], "\n\n")
		if c.counter.Len(current) > c.config.MaxTokens || c.counter.Len(next) > c.config.MaxTokens {
			continue
		}
		pairs[i] = windowPair{current: current, next: next}
	}
	return pairs
}

// embedWindows embeds each unique window text exactly once.
func (c *Chunker) embedWindows(ctx context.Context, pairs map[int]windowPair) (map[string][]float32, error) {
	if c.embedder == nil || len(pairs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var texts []string
	for _, pair := range pairs {
		for _, t := range []string{pair.current, pair.next} {
			if !seen[t] {
				seen[t] = true
				texts = append(texts, t)
			}
		}
	}

	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunk windows: %w", err)
	}

	out := make(map[string][]float32, len(texts))
	for i, t := range texts {
		out[t] = vecs[i]
	}
	return out, nil
}

// sentenceSplit regroups a paragraph's sentences under max tokens. A single
// sentence that alone exceeds max has no split point and is emitted intact.
func (c *Chunker) sentenceSplit(text string, max int) []string {
	var out []string
	var group []string
	groupTokens := 0

	emit := func() {
		if len(group) > 0 {
			out = append(out, strings.Join(group, " "))
			group = nil
			groupTokens = 0
		}
	}

	for _, raw := range sentencePattern.FindAllString(text, -1) {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}
		n := c.counter.Len(sentence)
		if groupTokens > 0 && groupTokens+n > max {
			emit()
		}
		group = append(group, sentence)
		groupTokens += n
		if groupTokens > max {
			emit()
		}
	}
	emit()
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
