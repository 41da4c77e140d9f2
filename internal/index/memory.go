package index

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is a process-local index using cosine similarity. Used by tests
// and as the dry-run backend; chunk counts stay small enough that a linear
// scan is fine.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Index = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, k int, storeIDs []string) ([]Candidate, error) {
	scope := make(map[string]bool, len(storeIDs))
	for _, id := range storeIDs {
		scope[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]Candidate, 0, len(m.entries))
	for _, e := range m.entries {
		if len(scope) > 0 && !scope[e.StoreID] {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:         e.ID,
			StoreID:    e.StoreID,
			Similarity: CosineSimilarity(vector, e.Vector),
		})
	}

	// Ties broken by id so results are stable.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ID < candidates[j].ID
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
