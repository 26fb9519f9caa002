package models

import (
	"fmt"
	"time"
)

// Document is an immutable snapshot of one item from the reader service.
type Document struct {
	ID          string
	Title       string
	Author      string
	URL         string
	Category    string
	HTMLContent string
	Content     string
	Summary     string
	CreatedAt   time.Time
	Tags        []string
}

// Chunk is a bounded fragment of a document's normalized text.
type Chunk struct {
	Index  int
	Text   string
	Tokens int
}

// SparseVector holds parallel arrays of hashed term ids and their counts.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// VectorRecord is the unit stored in the vector index.
type VectorRecord struct {
	ID       string
	Values   []float32
	Sparse   *SparseVector
	Metadata map[string]interface{}
}

// ProcessedDocument carries everything the upsert step needs for one document.
type ProcessedDocument struct {
	Document
	Header VectorRecord
	Chunks []VectorRecord
}

// QueryMatch is a raw match returned by the vector store.
type QueryMatch struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}

// QueryResult is one retrieved passage with provenance.
type QueryResult struct {
	ID    string
	Score float32
	DocID string
	Title string
	Text  string
	URL   string
}

func HeaderID(docID string) string {
	return docID + "-header"
}

func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s-chunk-%d", docID, i)
}

// MetaString reads a string field out of match metadata, tolerating absence.
func (m QueryMatch) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}
