// Package vector provides the exact flat vector index and its slot-to-document correlation map.
package vector

import "context"

// Searcher defines exact similarity search over a built index.
type Searcher interface {
	Search(query []float32, k int) ([]Hit, error)
	SearchContext(ctx context.Context, query []float32, k int) ([]Hit, error)
	Size() int
	Dimensions() int
}

// Hit is a single vector search hit. Slot is the 0-based position in build order.
type Hit struct {
	Slot  int
	Score float64 // cosine similarity in [-1, 1]
}
