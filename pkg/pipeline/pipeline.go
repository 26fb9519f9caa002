// Package pipeline turns one reader document into its vector records: a
// super-header record representing the whole document and one record per
// semantic chunk.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
	"github.com/xhad/marginalia/pkg/chunker"
	"github.com/xhad/marginalia/pkg/htmltext"
	"github.com/xhad/marginalia/pkg/keywords"
	"github.com/xhad/marginalia/pkg/sparse"
)

// Super-header section bounds.
const (
	maxHeaderLen  = 1800
	maxTitleLen   = 100
	maxAuthorLen  = 100
	maxTagsLen    = 100
	maxSummaryLen = 1000
)

// Pre-embedding safety: chunks above chunkTokenCap tokens are cut to
// chunkTruncateChars characters before the embedding call.
const (
	chunkTokenCap      = 8000
	chunkTruncateChars = 6000
)

// Processor builds records for one document at a time.
type Processor struct {
	counter  types.TokenCounter
	embedder types.Embedder
	chunker  *chunker.Chunker
	maxTerms int
}

func NewProcessor(counter types.TokenCounter, embedder types.Embedder, ch *chunker.Chunker, maxTerms int) *Processor {
	if maxTerms <= 0 {
		maxTerms = sparse.DefaultMaxTerms
	}
	return &Processor{
		counter:  counter,
		embedder: embedder,
		chunker:  ch,
		maxTerms: maxTerms,
	}
}

// BodyText derives the normalized body, preferring HTML content over the
// plain fallback.
func BodyText(doc models.Document) string {
	if strings.TrimSpace(doc.HTMLContent) != "" {
		return htmltext.Normalize(doc.HTMLContent)
	}
	return htmltext.Normalize(doc.Content)
}

// Process derives body text, synthesizes the super-header, chunks the body,
// embeds everything, and assembles the upsertable records. The corpus must
// be built.
func (p *Processor) Process(ctx context.Context, doc models.Document, corpus *keywords.Corpus) (*models.ProcessedDocument, error) {
	body := BodyText(doc)

	set, err := keywords.Extract(corpus, doc.ID, body)
	if err != nil {
		return nil, fmt.Errorf("keyword extraction for %s: %w", doc.ID, err)
	}
	header := BuildHeader(doc, set)

	chunks, err := p.chunker.Chunk(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("chunking %s: %w", doc.ID, err)
	}
	for i := range chunks {
		if chunks[i].Tokens > chunkTokenCap {
			chunks[i].Text = truncateRunes(chunks[i].Text, chunkTruncateChars)
			chunks[i].Tokens = p.counter.Len(chunks[i].Text)
		}
	}

	texts := make([]string, 0, len(chunks)+1)
	texts = append(texts, header)
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", doc.ID, err)
	}

	created := doc.CreatedAt.UTC().Format(time.RFC3339)

	headerSparse := sparse.ToSparseVector(header+" "+set.BoostedText, p.maxTerms)
	processed := &models.ProcessedDocument{
		Document: doc,
		Header: models.VectorRecord{
			ID:     models.HeaderID(doc.ID),
			Values: vectors[0],
			Sparse: &headerSparse,
			Metadata: map[string]interface{}{
				"doc_id":     doc.ID,
				"title":      doc.Title,
				"author":     doc.Author,
				"url":        doc.URL,
				"category":   doc.Category,
				"summary":    doc.Summary,
				"tags":       doc.Tags,
				"header":     true,
				"created_at": created,
			},
		},
	}

	for i, ch := range chunks {
		chunkSparse := sparse.ToSparseVector(ch.Text, p.maxTerms)
		processed.Chunks = append(processed.Chunks, models.VectorRecord{
			ID:     models.ChunkID(doc.ID, i),
			Values: vectors[i+1],
			Sparse: &chunkSparse,
			Metadata: map[string]interface{}{
				"doc_id":     doc.ID,
				"title":      doc.Title,
				"author":     doc.Author,
				"url":        doc.URL,
				"category":   doc.Category,
				"text":       ch.Text,
				"header":     false,
				"chunk_id":   i,
				"created_at": created,
			},
		})
	}
	return processed, nil
}

// BuildHeader assembles the labeled super-header sections in order, each
// bounded, the whole capped at 1800 characters.
func BuildHeader(doc models.Document, set keywords.KeywordSet) string {
	sections := []string{
		"Title: " + truncateRunes(doc.Title, maxTitleLen),
		"Author: " + truncateRunes(doc.Author, maxAuthorLen),
	}
	if len(doc.Tags) > 0 {
		sections = append(sections, "Tags: "+truncateRunes(strings.Join(doc.Tags, ", "), maxTagsLen))
	}
	if doc.Summary != "" {
		sections = append(sections, "Summary: "+truncateRunes(doc.Summary, maxSummaryLen))
	}

	rake := make([]string, len(set.Rake))
	for i, p := range set.Rake {
		rake[i] = p.Text
	}
	sections = append(sections, "RAKE Keywords: "+strings.Join(rake, ", "))

	terms := make([]string, len(set.TfIdf))
	for i, t := range set.TfIdf {
		terms[i] = t.Text
	}
	sections = append(sections, "TF-IDF Terms: "+strings.Join(terms, ", "))

	return truncateRunes(strings.Join(sections, "\n\n"), maxHeaderLen)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
