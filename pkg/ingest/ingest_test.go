package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
	"github.com/xhad/marginalia/pkg/chunker"
	"github.com/xhad/marginalia/pkg/ingest"
	"github.com/xhad/marginalia/pkg/pipeline"
)

type wordCounter struct{}

func (wordCounter) Len(text string) int { return len(strings.Fields(text)) }

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeReader struct {
	docs []models.Document
	err  error
}

func (f *fakeReader) FetchAll(context.Context, string) ([]models.Document, error) {
	return f.docs, f.err
}

type fakeStore struct {
	upserts     []models.VectorRecord
	matches     []models.QueryMatch
	total       int64
	statsErr    error
	queryErr    error
	failUpserts map[string]error
	queries     []types.QueryRequest
}

func (f *fakeStore) Upsert(_ context.Context, records []models.VectorRecord) error {
	for _, rec := range records {
		if err := f.failUpserts[rec.ID]; err != nil {
			return err
		}
	}
	f.upserts = append(f.upserts, records...)
	return nil
}

func (f *fakeStore) Query(_ context.Context, req types.QueryRequest) ([]models.QueryMatch, error) {
	f.queries = append(f.queries, req)
	return f.matches, f.queryErr
}

func (f *fakeStore) DescribeStats(context.Context) (int64, error) {
	return f.total, f.statsErr
}

type fakeLedger struct {
	known    map[string]bool
	knownErr error
	recorded map[string]int
	runs     int
	finished int
}

func (f *fakeLedger) KnownIDs(context.Context) (map[string]bool, error) {
	return f.known, f.knownErr
}

func (f *fakeLedger) RecordDocument(_ context.Context, docID, _ string, chunkCount int) error {
	if f.recorded == nil {
		f.recorded = make(map[string]int)
	}
	f.recorded[docID] = chunkCount
	return nil
}

func (f *fakeLedger) StartRun(context.Context) (uuid.UUID, error) {
	f.runs++
	return uuid.New(), nil
}

func (f *fakeLedger) FinishRun(_ context.Context, _ uuid.UUID, _, _ int) error {
	f.finished++
	return nil
}

func (f *fakeLedger) Close() {}

func doc(id, body string) models.Document {
	return models.Document{
		ID:      id,
		Title:   "Title " + id,
		Author:  "Author",
		URL:     "https://example.com/" + id,
		Content: body,
	}
}

func newOrchestrator(r types.ReaderClient, s types.VectorStore, l types.Ledger) *ingest.Orchestrator {
	ch := chunker.NewWithConfig(chunker.Config{
		MinTokens: 1, MaxTokens: 100, SingleLimit: 1000,
	}, wordCounter{}, unitEmbedder{})
	proc := pipeline.NewProcessor(wordCounter{}, unitEmbedder{}, ch, 64)
	return ingest.NewWithConfig(ingest.Config{
		Reader:    r,
		Store:     s,
		Ledger:    l,
		Processor: proc,
		Dim:       2,
	})
}

func TestSync_UpsertsHeaderBeforeChunks(t *testing.T) {
	s := &fakeStore{}
	r := &fakeReader{docs: []models.Document{
		doc("d1", "kubernetes operators reconcile desired state in clusters"),
	}}

	report, err := newOrchestrator(r, s, nil).Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, report.Failed)

	require.NotEmpty(t, s.upserts)
	assert.Equal(t, "d1-header", s.upserts[0].ID)
	for i, rec := range s.upserts[1:] {
		assert.Equal(t, models.ChunkID("d1", i), rec.ID)
	}
}

func TestSync_SkipsKnownDocuments(t *testing.T) {
	s := &fakeStore{
		total: 2,
		matches: []models.QueryMatch{
			{ID: "d1-header", Metadata: map[string]interface{}{"doc_id": "d1"}},
		},
	}
	r := &fakeReader{docs: []models.Document{
		doc("d1", "already ingested content"),
		doc("d2", "fresh content about sourdough baking techniques"),
	}}

	report, err := newOrchestrator(r, s, nil).Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Synced)

	for _, rec := range s.upserts {
		assert.NotContains(t, rec.ID, "d1")
	}
}

func TestSync_SecondRunIsNoOp(t *testing.T) {
	s := &fakeStore{}
	r := &fakeReader{docs: []models.Document{doc("d1", "some body text for indexing")}}
	o := newOrchestrator(r, s, nil)

	_, err := o.Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	firstCount := len(s.upserts)

	// The store now reports the ingested records.
	s.total = int64(firstCount)
	s.matches = []models.QueryMatch{{ID: "d1-header", Metadata: map[string]interface{}{"doc_id": "d1"}}}

	report, err := o.Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Synced)
	assert.Len(t, s.upserts, firstCount)
}

func TestSync_ForceUpdateBypassesDedup(t *testing.T) {
	s := &fakeStore{
		total:   1,
		matches: []models.QueryMatch{{ID: "d1-header", Metadata: map[string]interface{}{"doc_id": "d1"}}},
	}
	r := &fakeReader{docs: []models.Document{doc("d1", "content to reprocess")}}

	report, err := newOrchestrator(r, s, nil).Sync(context.Background(), ingest.Options{ForceUpdate: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, report.Skipped)
	// No enumeration query was needed.
	assert.Empty(t, s.queries)
}

func TestSync_EnumerationErrorDegrades(t *testing.T) {
	s := &fakeStore{statsErr: errors.New("index unreachable")}
	r := &fakeReader{docs: []models.Document{doc("d1", "body text")}}

	report, err := newOrchestrator(r, s, nil).Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
}

func TestSync_ReaderErrorAborts(t *testing.T) {
	r := &fakeReader{err: errors.New("upstream down")}

	_, err := newOrchestrator(r, &fakeStore{}, nil).Sync(context.Background(), ingest.Options{})
	assert.Error(t, err)
}

func TestSync_FailedUpsertAbandonsDocument(t *testing.T) {
	s := &fakeStore{failUpserts: map[string]error{
		"d1-chunk-0": errors.New("write rejected"),
	}}
	r := &fakeReader{docs: []models.Document{
		doc("d1", "first document body with several words"),
		doc("d2", "second document body about different things"),
	}}
	l := &fakeLedger{}

	report, err := newOrchestrator(r, s, l).Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Synced)

	// The abandoned document never reaches the ledger; the good one does.
	assert.NotContains(t, l.recorded, "d1")
	assert.Contains(t, l.recorded, "d2")
	assert.Equal(t, 1, l.runs)
	assert.Equal(t, 1, l.finished)
}

func TestSync_LedgerPreferredForDedup(t *testing.T) {
	s := &fakeStore{}
	l := &fakeLedger{known: map[string]bool{"d1": true}}
	r := &fakeReader{docs: []models.Document{doc("d1", "known body")}}

	report, err := newOrchestrator(r, s, l).Sync(context.Background(), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	// The store was never asked to enumerate.
	assert.Empty(t, s.queries)
}
