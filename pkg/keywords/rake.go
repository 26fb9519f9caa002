package keywords

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xhad/marginalia/pkg/tokenizer"
)

// Defaults for RAKE phrase selection.
const (
	DefaultRakeThreshold = 2.0
	DefaultRakeTopN      = 10
)

var rakeNoise = regexp.MustCompile(`[^a-z0-9\s.!?;:,]`)
var sentenceBreak = regexp.MustCompile(`[.!?;:,]`)

// Phrase is a RAKE-scored candidate keyword phrase.
type Phrase struct {
	Text  string
	Score float64
}

// Rake scores candidate phrases by summed word degree/frequency ratios and
// returns the topN phrases whose score meets threshold.
func Rake(text string, threshold float64, topN int) []Phrase {
	if threshold <= 0 {
		threshold = DefaultRakeThreshold
	}
	if topN <= 0 {
		topN = DefaultRakeTopN
	}

	phrases := candidatePhrases(text)
	if len(phrases) == 0 {
		return nil
	}

	freq := make(map[string]int)
	degree := make(map[string]int)
	for _, words := range phrases {
		for _, w := range words {
			freq[w]++
			degree[w] += len(words)
		}
	}

	seen := make(map[string]bool)
	scored := make([]Phrase, 0, len(phrases))
	for _, words := range phrases {
		var score float64
		for _, w := range words {
			score += float64(degree[w]) / float64(freq[w])
		}
		if score < threshold {
			continue
		}
		text := strings.Join(words, " ")
		if seen[text] {
			continue
		}
		seen[text] = true
		scored = append(scored, Phrase{Text: text, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Text < scored[j].Text
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

// candidatePhrases normalizes text and splits it into stop-word-bounded word
// runs. Sentence punctuation also terminates a phrase.
func candidatePhrases(text string) [][]string {
	normalized := strings.ToLower(text)
	normalized = strings.ReplaceAll(normalized, "\n", " ")
	normalized = rakeNoise.ReplaceAllString(normalized, " ")

	var phrases [][]string
	for _, fragment := range sentenceBreak.Split(normalized, -1) {
		var current []string
		for _, word := range strings.Fields(fragment) {
			if tokenizer.IsStop(word) {
				if len(current) > 0 {
					phrases = append(phrases, current)
					current = nil
				}
				continue
			}
			current = append(current, word)
		}
		if len(current) > 0 {
			phrases = append(phrases, current)
		}
	}
	return phrases
}
