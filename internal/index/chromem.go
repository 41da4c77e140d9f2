package index

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/philippgille/chromem-go"
)

const compress = false

// Chromem indexes chunk vectors in chromem-go, one collection per store so
// store-scoped queries never scan unrelated chunks.
type Chromem struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

var _ Index = (*Chromem)(nil)

// NewChromem opens (or creates) a persistent index at dbPath; with
// inMemory set, nothing touches disk.
func NewChromem(dbPath string, inMemory bool) (*Chromem, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector database: %v", err)
		}
	}
	return &Chromem{db: db, collections: make(map[string]*chromem.Collection)}, nil
}

func (c *Chromem) collection(storeID string) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[storeID]; ok {
		return col, nil
	}
	col, err := c.db.GetOrCreateCollection("store-"+storeID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	c.collections[storeID] = col
	return col, nil
}

func (c *Chromem) Upsert(ctx context.Context, entries []Entry) error {
	byStore := make(map[string][]chromem.Document)
	for _, e := range entries {
		byStore[e.StoreID] = append(byStore[e.StoreID], chromem.Document{
			ID:        e.ID,
			Content:   e.Text,
			Embedding: e.Vector,
		})
	}
	for storeID, docs := range byStore {
		col, err := c.collection(storeID)
		if err != nil {
			return err
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %v", err)
		}
	}
	return nil
}

func (c *Chromem) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	cols := make([]*chromem.Collection, 0, len(c.collections))
	for _, col := range c.collections {
		cols = append(cols, col)
	}
	c.mu.Unlock()

	for _, col := range cols {
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return fmt.Errorf("failed to delete documents: %v", err)
		}
	}
	return nil
}

func (c *Chromem) Query(ctx context.Context, vector []float32, k int, storeIDs []string) ([]Candidate, error) {
	if len(storeIDs) == 0 {
		c.mu.Lock()
		for id := range c.collections {
			storeIDs = append(storeIDs, id)
		}
		c.mu.Unlock()
	}

	var candidates []Candidate
	for _, storeID := range storeIDs {
		col, err := c.collection(storeID)
		if err != nil {
			return nil, err
		}
		n := k
		if count := col.Count(); n > count {
			n = count
		}
		if n == 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %v", err)
		}
		for _, r := range results {
			candidates = append(candidates, Candidate{
				ID:         r.ID,
				StoreID:    storeID,
				Similarity: float64(r.Similarity),
			})
		}
	}

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
