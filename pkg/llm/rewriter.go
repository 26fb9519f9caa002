package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/xhad/marginalia/internal/types"
)

// DefaultRewriteModel is the Gemini model used for query expansion.
const DefaultRewriteModel = "gemini-1.5-flash"

const rewritePrompt = `You rewrite search queries for a personal reading-history search engine.
Given the user query below, respond with a single JSON object with exactly these fields:
  "Optimized Query": a longer, technically specific restatement that preserves the intent,
  "Related Topics": a list of synonyms and adjacent concepts,
  "Tags": a list of precise technical labels.
Respond with only the JSON object.

User query: %s`

var bracePattern = regexp.MustCompile(`(?s)\{.*\}`)

var curlyQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", `'`, "’", `'`,
)

// RewriterConfig configures the Gemini-backed query rewriter.
type RewriterConfig struct {
	Model  string
	APIKey string
}

// Rewriter expands a raw query into a labeled restatement with related
// topics and tags. Every failure mode degrades to the raw query; Rewrite
// never errors.
type Rewriter struct {
	config RewriterConfig
	model  llms.Model
}

var _ types.Rewriter = (*Rewriter)(nil)

// NewRewriterWithConfig creates a rewriter backed by the Gemini API.
func NewRewriterWithConfig(ctx context.Context, config RewriterConfig) (*Rewriter, error) {
	if config.Model == "" {
		config.Model = DefaultRewriteModel
	}

	client, err := googleai.New(ctx,
		googleai.WithAPIKey(config.APIKey),
		googleai.WithDefaultModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rewrite client: %w", err)
	}

	return &Rewriter{config: config, model: client}, nil
}

// Rewrite returns the expanded query, or query itself when the model call
// or parsing fails.
func (r *Rewriter) Rewrite(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		return query
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, r.model, fmt.Sprintf(rewritePrompt, query))
	if err != nil {
		return query
	}

	expanded, ok := parseExpansion(completion)
	if !ok {
		return query
	}
	return expanded
}

// expansion is the structured response the rewrite prompt asks for.
type expansion struct {
	OptimizedQuery string   `json:"Optimized Query"`
	RelatedTopics  []string `json:"Related Topics"`
	Tags           []string `json:"Tags"`
}

// parseExpansion pulls the first brace-delimited object out of the
// completion, tolerating curly quotes and stray prose around it.
func parseExpansion(completion string) (string, bool) {
	object := bracePattern.FindString(completion)
	if object == "" {
		return "", false
	}
	object = curlyQuotes.Replace(object)

	var exp expansion
	if err := json.Unmarshal([]byte(object), &exp); err != nil {
		return "", false
	}
	if exp.OptimizedQuery == "" {
		return "", false
	}

	return fmt.Sprintf("Optimized Query: %s\n\nRelated Topics: %s\n\nTags: %s",
		exp.OptimizedQuery,
		strings.Join(exp.RelatedTopics, ", "),
		strings.Join(exp.Tags, ", "),
	), true
}

// NoopRewriter passes queries through untouched. Substituting it for the
// Gemini rewriter yields a retriever that searches on the raw query.
type NoopRewriter struct{}

var _ types.Rewriter = NoopRewriter{}

func (NoopRewriter) Rewrite(_ context.Context, query string) string { return query }
