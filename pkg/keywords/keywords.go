package keywords

import (
	"math"
	"strings"
)

const boostRepeatCap = 5

// KeywordSet is the extraction result for one document.
type KeywordSet struct {
	Rake        []Phrase
	TfIdf       []Term
	BoostedText string
}

// Extract composes RAKE and TF-IDF for one document. BoostedText repeats
// each top term proportionally to its normalized weight so the header's
// sparse vector concentrates mass on the document's defining terms. The
// corpus must be built.
func Extract(corpus *Corpus, id, text string) (KeywordSet, error) {
	top, err := corpus.TopTerms(id, DefaultRakeTopN)
	if err != nil {
		return KeywordSet{}, err
	}

	set := KeywordSet{
		Rake:  Rake(text, DefaultRakeThreshold, DefaultRakeTopN),
		TfIdf: top,
	}

	var boosted []string
	boosted = appendBoosted(boosted, phraseWeights(set.Rake))
	boosted = appendBoosted(boosted, termWeights(set.TfIdf))
	set.BoostedText = strings.Join(boosted, " ")
	return set, nil
}

type weighted struct {
	text   string
	weight float64
}

func phraseWeights(phrases []Phrase) []weighted {
	out := make([]weighted, len(phrases))
	for i, p := range phrases {
		out[i] = weighted{p.Text, p.Score}
	}
	return out
}

func termWeights(terms []Term) []weighted {
	out := make([]weighted, len(terms))
	for i, t := range terms {
		out[i] = weighted{t.Text, t.Score}
	}
	return out
}

// appendBoosted repeats each entry ceil(3 * weight/max) times, capped at 5.
func appendBoosted(dst []string, entries []weighted) []string {
	var max float64
	for _, e := range entries {
		if e.weight > max {
			max = e.weight
		}
	}
	if max <= 0 {
		return dst
	}
	for _, e := range entries {
		repeats := int(math.Ceil(3 * e.weight / max))
		if repeats > boostRepeatCap {
			repeats = boostRepeatCap
		}
		for i := 0; i < repeats; i++ {
			dst = append(dst, e.text)
		}
	}
	return dst
}
