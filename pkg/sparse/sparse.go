// Package sparse builds the bag-of-terms half of the hybrid representation.
package sparse

import (
	"crypto/md5"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/pkg/tokenizer"
)

// DefaultMaxTerms bounds a sparse vector to the index's term budget.
const DefaultMaxTerms = 1536

// TermID maps a token to a stable 32-bit id: the first four bytes,
// big-endian, of the MD5 digest of its UTF-8 bytes. Collisions are accepted
// at this width and not resolved.
func TermID(token string) uint32 {
	sum := md5.Sum([]byte(token))
	return binary.BigEndian.Uint32(sum[:4])
}

// ToSparseVector maps text to at most maxTerms (term-id, count) pairs,
// ordered by count descending. Stop-words never contribute. Empty input
// yields empty arrays.
func ToSparseVector(text string, maxTerms int) models.SparseVector {
	if maxTerms < 1 {
		maxTerms = DefaultMaxTerms
	}

	counts := make(map[uint32]int)
	for _, token := range strings.Fields(tokenizer.StripStops(text)) {
		counts[TermID(token)]++
	}

	type pair struct {
		id    uint32
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for id, n := range counts {
		pairs = append(pairs, pair{id, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].id < pairs[j].id
	})
	if len(pairs) > maxTerms {
		pairs = pairs[:maxTerms]
	}

	vec := models.SparseVector{
		Indices: make([]uint32, len(pairs)),
		Values:  make([]float32, len(pairs)),
	}
	for i, p := range pairs {
		vec.Indices[i] = p.id
		vec.Values[i] = float32(p.count)
	}
	return vec
}
