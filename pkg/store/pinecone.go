// Package store holds the persistence adapters: the Pinecone hybrid vector
// index and the optional Postgres sync ledger.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
)

// DefaultControlURL is the Pinecone control plane.
const DefaultControlURL = "https://api.pinecone.io"

// StoreError wraps any failure talking to the vector index, with the
// originating message embedded.
type StoreError struct {
	Op      string
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s failed: %s", e.Op, e.Message)
}

// PineconeConfig configures the index adapter. Scores from this index are
// hybrid dot-product values, not cosine similarities; thresholds tuned for
// cosine do not transfer.
type PineconeConfig struct {
	APIKey     string
	Index      string
	Host       string // data-plane host, resolved from the control plane when empty
	ControlURL string
	Timeout    time.Duration
}

// PineconeStore talks to one hybrid index over its REST data plane.
type PineconeStore struct {
	config PineconeConfig
	client *http.Client
	host   string
}

var _ types.VectorStore = (*PineconeStore)(nil)

func NewPineconeWithConfig(ctx context.Context, config PineconeConfig) (*PineconeStore, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("pinecone API key is required")
	}
	if config.ControlURL == "" {
		config.ControlURL = DefaultControlURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	s := &PineconeStore{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		host:   config.Host,
	}

	if s.host == "" {
		if config.Index == "" {
			return nil, fmt.Errorf("pinecone index name is required")
		}
		host, err := s.resolveHost(ctx)
		if err != nil {
			return nil, err
		}
		s.host = host
	}
	if !strings.HasPrefix(s.host, "http") {
		s.host = "https://" + s.host
	}
	return s, nil
}

// resolveHost asks the control plane for the index's data-plane host.
func (s *PineconeStore) resolveHost(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.config.ControlURL+"/indexes/"+s.config.Index, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Api-Key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &StoreError{Op: "describe index", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &StoreError{Op: "describe index", Message: fmt.Sprintf("status %d: %s", resp.StatusCode, body)}
	}

	var out struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &StoreError{Op: "describe index", Message: err.Error()}
	}
	if out.Host == "" {
		return "", &StoreError{Op: "describe index", Message: "control plane returned no host"}
	}
	return out.Host, nil
}

// Wire shapes for the data plane.

type wireSparse struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

type wireVector struct {
	ID           string                 `json:"id"`
	Values       []float32              `json:"values"`
	SparseValues *wireSparse            `json:"sparseValues,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type wireMatch struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Upsert writes records to the index.
func (s *PineconeStore) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	vectors := make([]wireVector, len(records))
	for i, rec := range records {
		vectors[i] = wireVector{
			ID:       rec.ID,
			Values:   rec.Values,
			Metadata: rec.Metadata,
		}
		if rec.Sparse != nil && len(rec.Sparse.Indices) > 0 {
			vectors[i].SparseValues = &wireSparse{
				Indices: rec.Sparse.Indices,
				Values:  rec.Sparse.Values,
			}
		}
	}

	body := map[string]interface{}{"vectors": vectors}
	return s.post(ctx, "upsert", "/vectors/upsert", body, &struct{}{})
}

// Query runs one hybrid query and returns the raw matches.
func (s *PineconeStore) Query(ctx context.Context, req types.QueryRequest) ([]models.QueryMatch, error) {
	body := map[string]interface{}{
		"vector":          req.Vector,
		"topK":            req.TopK,
		"includeMetadata": req.IncludeMetadata,
	}
	if req.Sparse != nil && len(req.Sparse.Indices) > 0 {
		body["sparseVector"] = wireSparse{Indices: req.Sparse.Indices, Values: req.Sparse.Values}
	}
	if len(req.Filter) > 0 {
		body["filter"] = req.Filter
	}

	var out struct {
		Matches []wireMatch `json:"matches"`
	}
	if err := s.post(ctx, "query", "/query", body, &out); err != nil {
		return nil, err
	}

	matches := make([]models.QueryMatch, len(out.Matches))
	for i, m := range out.Matches {
		matches[i] = models.QueryMatch{ID: m.ID, Score: m.Score, Metadata: m.Metadata}
	}
	return matches, nil
}

// DescribeStats returns the total vector count of the index.
func (s *PineconeStore) DescribeStats(ctx context.Context) (int64, error) {
	var out struct {
		TotalVectorCount int64 `json:"totalVectorCount"`
	}
	if err := s.post(ctx, "describe stats", "/describe_index_stats", map[string]interface{}{}, &out); err != nil {
		return 0, err
	}
	return out.TotalVectorCount, nil
}

func (s *PineconeStore) post(ctx context.Context, op, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &StoreError{Op: op, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+path, bytes.NewReader(payload))
	if err != nil {
		return &StoreError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Api-Key", s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &StoreError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &StoreError{Op: op, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &StoreError{Op: op, Message: err.Error()}
	}
	return nil
}
