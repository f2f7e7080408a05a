// Package search ranks listings against free-text queries.
//
// The ranking strategy is pluggable: handlers depend on Ranker and the
// embedding it derives is stored alongside each item so a vector-based
// strategy can replace the keyword one without touching the handlers.
package search

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultLimit is the number of candidates a search keeps
const DefaultLimit = 100

// Candidate is an item considered by a search
type Candidate struct {
	ID        uint
	Embedding string
	Text      string
}

// Ranker derives embeddings for items and ranks candidates against a query
type Ranker interface {
	// Embed derives the stored search representation of a text
	Embed(text string) string
	// Rank returns the IDs of matching candidates, best first, at most limit.
	// An empty result means nothing matched.
	Rank(query string, candidates []Candidate, limit int) []uint
}

// KeywordRanker scores candidates by the number of distinct query keywords
// found in their embedding. Ties keep the candidates' input order.
type KeywordRanker struct{}

// NewKeywordRanker creates the keyword-overlap ranker
func NewKeywordRanker() *KeywordRanker {
	return &KeywordRanker{}
}

// Embed returns the sorted, de-duplicated keywords of text joined by spaces
func (r *KeywordRanker) Embed(text string) string {
	words := Keywords(text)
	sort.Strings(words)
	return strings.Join(words, " ")
}

// Rank implements Ranker
func (r *KeywordRanker) Rank(query string, candidates []Candidate, limit int) []uint {
	terms := Keywords(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		id    uint
		score int
	}
	var matches []scored

	for _, c := range candidates {
		embedding := c.Embedding
		if embedding == "" {
			embedding = r.Embed(c.Text)
		}
		set := make(map[string]struct{})
		for _, w := range strings.Fields(embedding) {
			set[w] = struct{}{}
		}

		score := 0
		for _, t := range terms {
			if _, ok := set[t]; ok {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{id: c.ID, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	ids := make([]uint, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "with": {},
}

// Keywords lowercases text, splits it on anything that is not a letter or a
// digit and drops stop words and duplicates, keeping first-seen order.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
