package retriever_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/pkg/retriever"
)

func formatOne(t *testing.T, text string) string {
	t.Helper()
	out, ok := retriever.FormatContext([]models.QueryResult{
		{Title: "Doc", URL: "https://example.com", Text: text, DocID: "d"},
	})
	require.True(t, ok)
	return out
}

func TestRepair_FencesGetBlankLines(t *testing.T) {
	out := formatOne(t, "intro line\n```go\nfunc main() {}\n```\noutro line")
	assert.Contains(t, out, "intro line\n\n```go\nfunc main() {}\n```\n\noutro line")
}

func TestRepair_HeadingsGetBlankLine(t *testing.T) {
	out := formatOne(t, "some text\n## Section\nmore text")
	assert.Contains(t, out, "some text\n\n## Section\nmore text")
}

func TestRepair_InlineCodePadded(t *testing.T) {
	out := formatOne(t, "call`foo()`now")
	assert.Contains(t, out, "call `foo()` now")
}

func TestRepair_Idempotent(t *testing.T) {
	inputs := []string{
		"intro\n```\ncode\n```\noutro",
		"text\n# Heading\nbody",
		"uses `code` correctly",
		"plain text with nothing special",
	}
	for _, in := range inputs {
		once := formatOne(t, in)
		// Feeding the repaired excerpt back through produces the same text.
		repaired := extractExcerpt(once)
		again := formatOne(t, repaired)
		assert.Equal(t, extractExcerpt(once), extractExcerpt(again), "input %q", in)
	}
}

// extractExcerpt pulls the excerpt body back out of a formatted block.
func extractExcerpt(formatted string) string {
	const marker = "Excerpt: "
	start := strings.Index(formatted, marker) + len(marker)
	end := strings.Index(formatted, "\n\n## Sources")
	return formatted[start:end]
}
