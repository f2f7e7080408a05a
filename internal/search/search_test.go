package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"vintage", "leather", "jacket", "size", "m"},
		Keywords("The Vintage leather-jacket, size M! vintage"))
	assert.Empty(t, Keywords("  the of and "))
}

func TestEmbedIsSortedAndUnique(t *testing.T) {
	r := NewKeywordRanker()
	assert.Equal(t, "blue denim jacket", r.Embed("Jacket denim BLUE jacket"))
}

func TestRankOrdersByOverlap(t *testing.T) {
	r := NewKeywordRanker()
	candidates := []Candidate{
		{ID: 1, Embedding: r.Embed("red wool scarf")},
		{ID: 2, Embedding: r.Embed("red leather jacket")},
		{ID: 3, Embedding: r.Embed("garden chair")},
		{ID: 4, Text: "leather boots"},
	}

	ids := r.Rank("red leather", candidates, DefaultLimit)
	assert.Equal(t, []uint{2, 1, 4}, ids)
}

func TestRankNoOverlapIsEmpty(t *testing.T) {
	r := NewKeywordRanker()
	candidates := []Candidate{{ID: 1, Embedding: r.Embed("red wool scarf")}}

	assert.Empty(t, r.Rank("bicycle", candidates, DefaultLimit))
	assert.Empty(t, r.Rank("the", candidates, DefaultLimit))
}

func TestRankHonoursLimit(t *testing.T) {
	r := NewKeywordRanker()
	var candidates []Candidate
	for i := uint(1); i <= 5; i++ {
		candidates = append(candidates, Candidate{ID: i, Embedding: "lamp"})
	}

	assert.Equal(t, []uint{1, 2}, r.Rank("lamp", candidates, 2))
}
