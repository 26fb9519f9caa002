// Package ingest orchestrates a sync: enumerate what the index already
// holds, page the reader, build the TF-IDF corpus, then process and upsert
// each document.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
	"github.com/xhad/marginalia/pkg/keywords"
	"github.com/xhad/marginalia/pkg/pipeline"
)

// enumerationTopK bounds the zero-vector metadata sweep used to recover
// known ids from the index when no ledger is available.
const enumerationTopK = 10000

// Options are the recognized sync options.
type Options struct {
	UpdatedAfter string
	ForceUpdate  bool
}

// Report summarizes one sync run.
type Report struct {
	Fetched int
	Skipped int
	Synced  int
	Failed  int
	Chunks  int
}

// Progress receives callbacks during a sync. All fields are optional.
type Progress struct {
	OnPhase    func(phase string, total int)
	OnDocument func(doc models.Document, err error)
}

// Config wires the orchestrator's collaborators. Ledger may be nil.
type Config struct {
	Reader    types.ReaderClient
	Store     types.VectorStore
	Ledger    types.Ledger
	Processor *pipeline.Processor
	Dim       int
	Progress  Progress
}

// Orchestrator runs syncs. Documents are processed sequentially; within a
// document the header record is written before any chunk, and chunks in
// ascending order.
type Orchestrator struct {
	config Config
}

func NewWithConfig(config Config) *Orchestrator {
	if config.Dim == 0 {
		config.Dim = 1536
	}
	return &Orchestrator{config: config}
}

// Sync fetches, deduplicates, and ingests. A reader failure aborts the
// whole run; a per-document failure abandons that document and moves on.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) (*Report, error) {
	known := make(map[string]bool)
	if !opts.ForceUpdate {
		known = o.knownIDs(ctx)
	}

	var run uuid.UUID
	if o.config.Ledger != nil {
		var err error
		if run, err = o.config.Ledger.StartRun(ctx); err != nil {
			log.Printf("ledger: could not start sync run: %v", err)
		}
	}

	o.phase("fetch", 0)
	docs, err := o.config.Reader.FetchAll(ctx, opts.UpdatedAfter)
	if err != nil {
		return nil, err
	}

	report := &Report{Fetched: len(docs)}
	var candidates []models.Document
	for _, doc := range docs {
		if known[doc.ID] {
			report.Skipped++
			continue
		}
		candidates = append(candidates, doc)
	}

	// Phase 1: the corpus sees every candidate before any scoring.
	o.phase("tfidf", len(candidates))
	corpus := keywords.NewCorpus()
	for _, doc := range candidates {
		corpus.AddDocument(doc.ID, pipeline.BodyText(doc))
	}
	corpus.Build()

	// Phase 2: per-document processing and ordered upserts.
	o.phase("process", len(candidates))
	for _, doc := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		err := o.syncDocument(ctx, doc, corpus, report)
		if err != nil {
			report.Failed++
			log.Printf("sync: document %s abandoned: %v", doc.ID, err)
		} else {
			report.Synced++
		}
		if o.config.Progress.OnDocument != nil {
			o.config.Progress.OnDocument(doc, err)
		}
	}

	if o.config.Ledger != nil && run != uuid.Nil {
		if err := o.config.Ledger.FinishRun(ctx, run, report.Synced, report.Failed); err != nil {
			log.Printf("ledger: could not finish sync run: %v", err)
		}
	}
	return report, nil
}

func (o *Orchestrator) syncDocument(ctx context.Context, doc models.Document, corpus *keywords.Corpus, report *Report) error {
	processed, err := o.config.Processor.Process(ctx, doc, corpus)
	if err != nil {
		return err
	}

	if err := o.config.Store.Upsert(ctx, []models.VectorRecord{processed.Header}); err != nil {
		return fmt.Errorf("header upsert: %w", err)
	}
	for _, chunk := range processed.Chunks {
		if err := o.config.Store.Upsert(ctx, []models.VectorRecord{chunk}); err != nil {
			return fmt.Errorf("chunk upsert %s: %w", chunk.ID, err)
		}
	}
	report.Chunks += len(processed.Chunks)

	// The ledger row lands only after the final chunk, so an interrupted
	// document stays unknown and is re-processed next run.
	if o.config.Ledger != nil {
		if err := o.config.Ledger.RecordDocument(ctx, doc.ID, doc.Title, len(processed.Chunks)); err != nil {
			log.Printf("ledger: could not record document %s: %v", doc.ID, err)
		}
	}
	return nil
}

// knownIDs is best-effort: the ledger when available, otherwise a
// zero-vector metadata sweep of the index. Errors degrade to "no known
// ids", so deduplication weakens but ingestion proceeds.
func (o *Orchestrator) knownIDs(ctx context.Context) map[string]bool {
	if o.config.Ledger != nil {
		known, err := o.config.Ledger.KnownIDs(ctx)
		if err == nil {
			return known
		}
		log.Printf("ledger: falling back to index enumeration: %v", err)
	}

	known := make(map[string]bool)
	total, err := o.config.Store.DescribeStats(ctx)
	if err != nil {
		log.Printf("sync: could not describe index, deduplication disabled: %v", err)
		return known
	}
	if total == 0 {
		return known
	}

	matches, err := o.config.Store.Query(ctx, types.QueryRequest{
		Vector:          make([]float32, o.config.Dim),
		TopK:            enumerationTopK,
		IncludeMetadata: true,
	})
	if err != nil {
		log.Printf("sync: could not enumerate index, deduplication disabled: %v", err)
		return known
	}
	for _, m := range matches {
		if id := docIDOf(m); id != "" {
			known[id] = true
		}
	}
	return known
}

// docIDOf recovers the document id from a match's metadata, falling back to
// the record id's prefix.
func docIDOf(m models.QueryMatch) string {
	if id := m.MetaString("doc_id"); id != "" {
		return id
	}
	if rest, found := strings.CutSuffix(m.ID, "-header"); found {
		return rest
	}
	if i := strings.LastIndex(m.ID, "-chunk-"); i > 0 {
		return m.ID[:i]
	}
	return ""
}

func (o *Orchestrator) phase(name string, total int) {
	if o.config.Progress.OnPhase != nil {
		o.config.Progress.OnPhase(name, total)
	}
}
