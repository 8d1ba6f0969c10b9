package chemistry

import (
	"maps"
	"math"
	"slices"
)

// corpusSize is fixed: the comparison is always between exactly two
// aggregate documents, one per speaker.
const corpusSize = 2

// LexicalSimilarity returns the TF-IDF cosine similarity of two documents in
// [0,1]. Either side tokenizing to nothing yields 0.
func LexicalSimilarity(a, b string) float64 {
	ca, na := termCounts(a)
	cb, nb := termCounts(b)
	if na == 0 || nb == 0 {
		return 0
	}

	vocab := make(map[string]struct{}, len(ca)+len(cb))
	for t := range ca {
		vocab[t] = struct{}{}
	}
	for t := range cb {
		vocab[t] = struct{}{}
	}
	// Sorted so that swapping a and b sums in the same order.
	terms := slices.Sorted(maps.Keys(vocab))

	var dot, normA, normB float64
	for _, t := range terms {
		w := idf(t, ca, cb)
		va := float64(ca[t]) / float64(na) * w
		vb := float64(cb[t]) / float64(nb) * w
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// idf is the smoothed inverse document frequency ln((N+1)/(df+1)) + 1.
func idf(term string, ca, cb map[string]int) float64 {
	df := 0
	if ca[term] > 0 {
		df++
	}
	if cb[term] > 0 {
		df++
	}
	return math.Log(float64(corpusSize+1)/float64(df+1)) + 1
}

func termCounts(doc string) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for tok := range Tokens(doc) {
		counts[tok]++
		total++
	}
	return counts, total
}
