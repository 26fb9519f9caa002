package retriever

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xhad/marginalia/internal/models"
)

const citationLen = 12

var (
	headingLine = regexp.MustCompile(`^#{1,6}\s`)
	codeBefore  = regexp.MustCompile("([^\\s`])(`[^`]+`)")
	codeAfter   = regexp.MustCompile("(`[^`]+`)([^\\s`])")
)

// FormatContext renders results into the context blocks handed to the
// answering model, followed by a Sources section. The boolean reports
// whether any sources were produced.
func FormatContext(results []models.QueryResult) (string, bool) {
	if len(results) == 0 {
		return "", false
	}

	var b strings.Builder
	seen := make(map[string]bool)
	var titles []string

	for _, res := range results {
		fmt.Fprintf(&b, "Document Title: %s\nIn-Text Citation: [%s]\nDocument URL: %s\nExcerpt: %s\n\n",
			res.Title, abbreviate(res.Title), res.URL, repairMarkdown(res.Text))
		if res.Title != "" && !seen[res.Title] {
			seen[res.Title] = true
			titles = append(titles, res.Title)
		}
	}

	b.WriteString("## Sources\n")
	for _, title := range titles {
		b.WriteString("- " + title + "\n")
	}
	return b.String(), true
}

// abbreviate shortens a title to its first 12 characters for in-text
// citations.
func abbreviate(title string) string {
	runes := []rune(title)
	if len(runes) <= citationLen {
		return title
	}
	return string(runes[:citationLen]) + "..."
}

// repairMarkdown makes excerpts render cleanly downstream: fenced code
// blocks get surrounding blank lines, inline code gets breathing space, and
// headings get a preceding blank line. Already-correct input passes through
// unchanged.
func repairMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	inFence := false
	blankAfterFence := false

	lastNonEmpty := func() bool {
		return len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != ""
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if !inFence && lastNonEmpty() {
				out = append(out, "")
			}
			if inFence {
				blankAfterFence = true
			}
			inFence = !inFence
			out = append(out, line)
			continue
		}

		if inFence {
			out = append(out, line)
			continue
		}

		if blankAfterFence {
			if trimmed != "" {
				out = append(out, "")
			}
			blankAfterFence = false
		}
		if headingLine.MatchString(trimmed) && lastNonEmpty() {
			out = append(out, "")
		}

		line = codeBefore.ReplaceAllString(line, "$1 $2")
		line = codeAfter.ReplaceAllString(line, "$1 $2")
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
