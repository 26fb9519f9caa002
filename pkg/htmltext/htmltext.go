// Package htmltext converts marked-up reader content into paragraph-bounded
// plain text. The output invariant: paragraphs are separated by exactly one
// blank line, and no paragraph contains a blank line.
package htmltext

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var skipTags = map[string]bool{
	"script": true, "style": true, "head": true, "noscript": true,
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	newlineRuns   = regexp.MustCompile(`\n{3,}`)
)

// Normalize extracts plain text from content: <br> becomes a single newline,
// block openings become paragraph breaks, remaining markup is stripped and
// entities decoded, then whitespace is settled deterministically. Plain text
// passes through with the same whitespace rules, so the transformation is
// idempotent.
func Normalize(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return settle(content)
	}

	var b strings.Builder
	for _, root := range doc.Nodes {
		walk(root, &b)
	}
	return settle(b.String())
}

func walk(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipTags[n.Data] {
			return
		}
		if n.Data == "br" {
			b.WriteString("\n")
			return
		}
		if blockTags[n.Data] {
			b.WriteString("\n\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b)
	}
}

// settle applies the whitespace contract: LF-only line endings, no trailing
// spaces on lines, newline runs collapsed to one blank line, no leading or
// trailing whitespace.
func settle(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
