package config

import (
	"fmt"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the required credentials and numeric bounds. It returns
// every problem at once so a misconfigured environment reads as one report.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Reader.Token == "" {
		errors = append(errors, ValidationError{
			Field:   "reader.token",
			Message: "reader access token is required (READWISE_TOKEN)",
		})
	}
	if c.Reader.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "reader.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Pinecone.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "pinecone.api_key",
			Message: "vector store API key is required (PINECONE_API_KEY)",
		})
	}
	if c.Pinecone.Index == "" && c.Pinecone.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "pinecone.index",
			Message: "index name or host is required (PINECONE_INDEX)",
		})
	}

	if c.Embedding.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.api_key",
			Message: "embedding API key is required (OPENAI_API_KEY)",
		})
	}
	if c.Embedding.Dim < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dim",
			Message: "dim must be positive",
		})
	}

	if c.Chunker.MinTokens < 1 || c.Chunker.MinTokens >= c.Chunker.MaxTokens {
		errors = append(errors, ValidationError{
			Field:   "chunker.min_tokens",
			Message: "min_tokens must be positive and less than max_tokens",
		})
	}
	if c.Chunker.Threshold <= 0 || c.Chunker.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.threshold",
			Message: "threshold must be in (0, 1]",
		})
	}

	if c.Retriever.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Sync.LastSyncTime != "" {
		if _, err := time.Parse(time.RFC3339, c.Sync.LastSyncTime); err != nil {
			errors = append(errors, ValidationError{
				Field:   "sync.last_sync_time",
				Message: "must be an RFC 3339 timestamp",
			})
		}
	}

	return errors
}
