package qa

import (
	"context"
	"math"
	"sort"
)

// StaticDoc is one in-memory passage with its embedding.
type StaticDoc struct {
	Passage
	Vector []float32
}

// StaticRetriever ranks a fixed set of documents by cosine similarity. It
// serves tests and offline runs without a vector database.
type StaticRetriever struct {
	Docs []StaticDoc
}

// Retrieve returns the k most similar documents.
func (s *StaticRetriever) Retrieve(_ context.Context, vector []float32, k int) ([]Passage, error) {
	ranked := make([]Passage, len(s.Docs))
	for i, d := range s.Docs {
		ranked[i] = d.Passage
		ranked[i].Score = cosine(vector, d.Vector)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func cosine(a, b []float32) float32 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
