// Package tokenizer provides exact token counting under the embedding
// model's encoding, context-limit-safe text bisection, and stop-word
// stripping for query and sparse-vector preprocessing.
package tokenizer

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the tokenizer of the OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// midpointFloor is the earliest character position a sentence-boundary split
// is accepted at; anything before it falls back to the raw midpoint.
const midpointFloor = 100

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_']+`)
var spaceRuns = regexp.MustCompile(`\s+`)

// Counter counts tokens with a per-run cache. Callers rely on counts being
// exact, not estimated: they gate hard context limits with them. The cache
// is append-only, so concurrent readers are safe.
type Counter struct {
	enc *tiktoken.Tiktoken

	mu    sync.RWMutex
	cache map[string]int
}

// NewCounter loads the encoding for the embedding model.
func NewCounter() (*Counter, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Counter{
		enc:   enc,
		cache: make(map[string]int),
	}, nil
}

// Len returns the exact encoded token count of text.
func (c *Counter) Len(text string) int {
	c.mu.RLock()
	n, ok := c.cache[text]
	c.mu.RUnlock()
	if ok {
		return n
	}

	n = len(c.enc.Encode(text, nil, nil))

	c.mu.Lock()
	c.cache[text] = n
	c.mu.Unlock()
	return n
}

// SplitToFit bisects text at sentence boundaries until every piece fits in
// ctx tokens. The concatenation of the pieces reproduces text up to the
// whitespace trimmed at each cut.
func (c *Counter) SplitToFit(text string, ctx int) []string {
	if ctx < 1 {
		ctx = 1
	}
	if c.Len(text) <= ctx {
		return []string{text}
	}

	left, right := Bisect(text)
	if left == "" || right == "" {
		// Nothing left to cut; emit as-is rather than loop forever.
		return []string{text}
	}

	out := c.SplitToFit(left, ctx)
	return append(out, c.SplitToFit(right, ctx)...)
}

// Bisect splits text at the latest sentence-terminating punctuation before
// the character midpoint, falling back to the raw midpoint when no boundary
// lies after the first 100 characters. Both halves are space-trimmed.
func Bisect(text string) (string, string) {
	if len(text) < 2 {
		return text, ""
	}
	mid := len(text) / 2

	cut := strings.LastIndexAny(text[:mid], ".!?")
	if cut >= midpointFloor {
		cut++ // keep the punctuation with the left half
	} else {
		cut = mid
		// Never cut inside a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}

	return strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])
}

// StripStops removes English stop-words from text, preserving the original
// casing of the surviving words, then collapses whitespace runs to single
// spaces.
func StripStops(text string) string {
	kept := wordPattern.ReplaceAllStringFunc(text, func(word string) string {
		if IsStop(word) {
			return ""
		}
		return word
	})
	return strings.TrimSpace(spaceRuns.ReplaceAllString(kept, " "))
}
