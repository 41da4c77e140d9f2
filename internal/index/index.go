// Package index defines the vector-index contract the retrieval path
// consumes, plus two implementations: an embedded chromem-go store and an
// in-memory index. The similarity computation itself is the index's
// business; callers only rely on ranked candidates.
package index

import "context"

// Entry is one chunk's text and vector, scoped to a store.
type Entry struct {
	ID      string
	StoreID string
	Text    string
	Vector  []float32
}

// Candidate is a ranked hit from a vector query.
type Candidate struct {
	ID         string
	StoreID    string
	Similarity float64
}

// Index accepts chunk vectors and answers top-K nearest queries restricted
// to a set of stores. An empty storeIDs set means all stores.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, ids []string) error
	Query(ctx context.Context, vector []float32, k int, storeIDs []string) ([]Candidate, error)
}
