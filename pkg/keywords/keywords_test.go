package keywords_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/marginalia/pkg/keywords"
)

func TestCorpus_RequiresBuild(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "alpha beta")

	_, err := c.TopTerms("A", 1)
	assert.ErrorIs(t, err, keywords.ErrNotBuilt)

	_, err = c.TfIdf("A", "alpha")
	assert.ErrorIs(t, err, keywords.ErrNotBuilt)
}

func TestCorpus_AddInvalidatesBuild(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "alpha beta")
	c.Build()

	_, err := c.TopTerms("A", 1)
	require.NoError(t, err)

	c.AddDocument("B", "gamma delta")
	_, err = c.TopTerms("A", 1)
	assert.ErrorIs(t, err, keywords.ErrNotBuilt)
}

func TestCorpus_TopTerms(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "alpha beta")
	c.AddDocument("B", "alpha gamma")
	c.Build()

	// "alpha" appears in both documents so its IDF is log(2/2) = 0; "beta"
	// is unique to A and wins.
	terms, err := c.TopTerms("A", 1)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "beta", terms[0].Text)
	assert.Greater(t, terms[0].Score, 0.0)
}

func TestCorpus_TopTermsFilters(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "kubernetes kubernetes 12345 12345 12345 ab operators")
	c.AddDocument("B", "unrelated filler content")
	c.Build()

	terms, err := c.TopTerms("A", 10)
	require.NoError(t, err)
	for _, term := range terms {
		assert.GreaterOrEqual(t, len(term.Text), 3)
		assert.NotRegexp(t, `^[0-9]+$`, term.Text)
	}
	for i := 1; i < len(terms); i++ {
		assert.LessOrEqual(t, terms[i].Score, terms[i-1].Score)
	}
}

func TestCorpus_TopTermsBound(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "alpha beta gamma delta epsilon zeta")
	c.AddDocument("B", "totally different words here")
	c.Build()

	terms, err := c.TopTerms("A", 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(terms), 3)
}

func TestRake_ScoresPhrases(t *testing.T) {
	text := "It is about natural language processing. " +
		"You can do natural language processing with search tools."

	phrases := keywords.Rake(text, 2.0, 10)
	require.NotEmpty(t, phrases)

	texts := make([]string, len(phrases))
	for i, p := range phrases {
		texts[i] = p.Text
		assert.GreaterOrEqual(t, p.Score, 2.0)
	}
	assert.Contains(t, texts, "natural language processing")

	for i := 1; i < len(phrases); i++ {
		assert.LessOrEqual(t, phrases[i].Score, phrases[i-1].Score)
	}
}

func TestRake_EmptyInput(t *testing.T) {
	assert.Empty(t, keywords.Rake("", 2.0, 10))
	assert.Empty(t, keywords.Rake("the of and", 2.0, 10))
}

func TestExtract_BoostedText(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "kubernetes operators manage complex applications. kubernetes operators extend the control plane.")
	c.AddDocument("B", "sourdough starters need regular feeding")
	c.Build()

	set, err := keywords.Extract(c, "A", "kubernetes operators manage complex applications. kubernetes operators extend the control plane.")
	require.NoError(t, err)
	assert.NotEmpty(t, set.TfIdf)
	assert.NotEmpty(t, set.BoostedText)

	// The strongest TF-IDF term appears in the boosted text.
	assert.Contains(t, set.BoostedText, "kubernetes")
}

func TestExtract_NotBuilt(t *testing.T) {
	c := keywords.NewCorpus()
	c.AddDocument("A", "alpha beta")

	_, err := keywords.Extract(c, "A", "alpha beta")
	assert.ErrorIs(t, err, keywords.ErrNotBuilt)
}
