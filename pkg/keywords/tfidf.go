// Package keywords extracts the terms that characterize a document: a
// corpus-wide TF-IDF model and a RAKE phrase scorer.
package keywords

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/xhad/marginalia/pkg/tokenizer"
)

// ErrNotBuilt is returned when the corpus is queried before Build, or after
// an addition invalidated the previous build.
var ErrNotBuilt = errors.New("tfidf corpus not built")

var termPattern = regexp.MustCompile(`[a-z0-9]+`)
var numericOnly = regexp.MustCompile(`^[0-9]+$`)

// Term is a scored keyword.
type Term struct {
	Text  string
	Score float64
}

// Corpus accumulates per-document term frequencies and derives document
// frequencies on Build. It is owned by a single sync invocation: writes
// happen in phase 1, reads in phase 2, never interleaved.
type Corpus struct {
	docs     map[string]map[string]int
	df       map[string]int
	docCount int
	built    bool
}

func NewCorpus() *Corpus {
	return &Corpus{
		docs: make(map[string]map[string]int),
	}
}

// AddDocument tokenizes text and records raw term frequencies for id.
// Any previous Build is invalidated.
func (c *Corpus) AddDocument(id, text string) {
	tf := make(map[string]int)
	for _, term := range tokenize(text) {
		tf[term]++
	}
	c.docs[id] = tf
	c.built = false
}

// Build recomputes document frequencies over the current documents.
func (c *Corpus) Build() {
	c.df = make(map[string]int)
	for _, tf := range c.docs {
		for term := range tf {
			c.df[term]++
		}
	}
	c.docCount = len(c.docs)
	c.built = true
}

// TfIdf returns the raw-count TF times log(N/df) score of term in document
// id. Fails with ErrNotBuilt until Build has run.
func (c *Corpus) TfIdf(id, term string) (float64, error) {
	if !c.built {
		return 0, ErrNotBuilt
	}
	tf, ok := c.docs[id]
	if !ok {
		return 0, nil
	}
	return float64(tf[term]) * c.idf(term), nil
}

// TopTerms returns up to n terms of document id by descending TF-IDF score.
// Terms shorter than three characters and purely numeric terms are excluded.
func (c *Corpus) TopTerms(id string, n int) ([]Term, error) {
	if !c.built {
		return nil, ErrNotBuilt
	}
	tf, ok := c.docs[id]
	if !ok {
		return nil, nil
	}

	terms := make([]Term, 0, len(tf))
	for term, count := range tf {
		if len(term) < 3 || numericOnly.MatchString(term) {
			continue
		}
		terms = append(terms, Term{Text: term, Score: float64(count) * c.idf(term)})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Score != terms[j].Score {
			return terms[i].Score > terms[j].Score
		}
		return terms[i].Text < terms[j].Text
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms, nil
}

func (c *Corpus) idf(term string) float64 {
	df := c.df[term]
	if df == 0 {
		return 0
	}
	return math.Log(float64(c.docCount) / float64(df))
}

// tokenize lowercases and keeps alphanumeric runs of length >= 2, minus
// stop-words.
func tokenize(text string) []string {
	raw := termPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, term := range raw {
		if len(term) < 2 || tokenizer.IsStop(term) {
			continue
		}
		out = append(out, term)
	}
	return out
}
