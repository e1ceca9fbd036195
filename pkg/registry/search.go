package registry

import (
	"math"
	"sort"
	"strings"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// Scored pairs a candidate block with the hybrid score that ranked it.
type Scored struct {
	Block *models.BlockDefinition
	Score float64
}

// searchWeights: spec.md §4.A weights hybrid search 0.4 full-text /
// 0.6 vector similarity toward the vector signal, since embeddings
// capture semantic intent better than raw token overlap for the
// planner's "what capability do I need" queries.
const (
	textWeight   = 0.4
	vectorWeight = 0.6
)

// Search ranks the in-memory index against query text and, when
// queryEmbedding is non-nil, a query embedding. Legacy text-generation
// blocks are never filtered out — spec.md's own resolution of the
// "should retrieval surface the old llm blocks" Open Question treats
// them as python blocks via BlockDefinition.NormalizedExecutionType,
// so they compete on equal footing here.
func (r *Registry) Search(query string, queryEmbedding []float32, limit int) []Scored {
	r.mu.RLock()
	candidates := make([]*models.BlockDefinition, 0, len(r.index))
	for _, b := range r.index {
		candidates = append(candidates, b)
	}
	r.mu.RUnlock()

	terms := tokenize(query)
	results := make([]Scored, 0, len(candidates))
	for _, b := range candidates {
		textScore := textScore(terms, b.SearchText())
		vecScore := 0.0
		if len(queryEmbedding) > 0 && len(b.Embedding) > 0 {
			vecScore = cosineSimilarity(queryEmbedding, b.Embedding)
		}
		score := textWeight*textScore + vectorWeight*vecScore
		if score <= 0 {
			continue
		}
		results = append(results, Scored{Block: b, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Block.ID < results[j].Block.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// tokenize lowercases and splits on whitespace/punctuation, the
// minimal normalization a bag-of-words text score needs.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// textScore is term-frequency overlap between the query tokens and a
// block's search text, normalized to [0,1] by query length so a
// longer query doesn't automatically inflate the score.
func textScore(queryTerms []string, haystack string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	hayTerms := tokenize(haystack)
	hayCount := make(map[string]int, len(hayTerms))
	for _, t := range hayTerms {
		hayCount[t]++
	}
	matched := 0
	for _, t := range queryTerms {
		if hayCount[t] > 0 {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// cosineSimilarity returns the cosine of the angle between a and b,
// or 0 if either is empty or a zero vector.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
