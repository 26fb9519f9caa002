package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpansion_WellFormed(t *testing.T) {
	completion := `{"Optimized Query": "kubernetes operator pattern custom controllers",
		"Related Topics": ["CRDs", "controller runtime"],
		"Tags": ["kubernetes", "operators"]}`

	got, ok := parseExpansion(completion)
	require.True(t, ok)
	assert.Contains(t, got, "Optimized Query: kubernetes operator pattern custom controllers")
	assert.Contains(t, got, "Related Topics: CRDs, controller runtime")
	assert.Contains(t, got, "Tags: kubernetes, operators")
}

func TestParseExpansion_ProseAndCurlyQuotes(t *testing.T) {
	completion := "Sure! Here is the expansion you asked for:\n" +
		"{“Optimized Query”: “vector database hybrid search”, “Related Topics”: [“sparse vectors”], “Tags”: [“search”]}\n" +
		"Let me know if you need anything else."

	got, ok := parseExpansion(completion)
	require.True(t, ok)
	assert.Contains(t, got, "Optimized Query: vector database hybrid search")
}

func TestParseExpansion_MissingObject(t *testing.T) {
	_, ok := parseExpansion("no json here at all")
	assert.False(t, ok)
}

func TestParseExpansion_MissingField(t *testing.T) {
	_, ok := parseExpansion(`{"Related Topics": ["a"], "Tags": ["b"]}`)
	assert.False(t, ok)
}

func TestParseExpansion_Garbage(t *testing.T) {
	_, ok := parseExpansion(`{not valid json}`)
	assert.False(t, ok)
}

func TestNoopRewriter(t *testing.T) {
	r := NoopRewriter{}
	assert.Equal(t, "raw query", r.Rewrite(context.Background(), "raw query"))
	assert.Equal(t, "", r.Rewrite(context.Background(), ""))
}
