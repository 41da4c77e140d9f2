package store

import (
	"sync"

	"filesearch/internal/models"
)

// catalog is the in-memory registry of stores, documents and chunks.
// Store and document lookups return copies so concurrent readers never
// share mutable state with writers; every field mutation goes through the
// update helpers under the lock. Chunks are immutable once registered and
// may be shared. Copies are shallow: metadata maps and tag slices are
// treated as read-only after registration.
type catalog struct {
	mu sync.RWMutex

	storesByID     map[string]*models.Store
	storeIDsByName map[string]string
	docsByID       map[string]*models.Document
	chunksByID     map[string]*models.Chunk
	chunksByDoc    map[string][]string
}

func newCatalog() *catalog {
	return &catalog{
		storesByID:     make(map[string]*models.Store),
		storeIDsByName: make(map[string]string),
		docsByID:       make(map[string]*models.Document),
		chunksByID:     make(map[string]*models.Chunk),
		chunksByDoc:    make(map[string][]string),
	}
}

// addStore registers a copy of s, enforcing name uniqueness.
func (c *catalog) addStore(s *models.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.storeIDsByName[s.Name]; exists {
		return models.Reject(models.ErrStoreExists, models.ReasonStoreExists,
			"store %q already exists", s.Name)
	}
	cp := *s
	c.storesByID[cp.ID] = &cp
	c.storeIDsByName[cp.Name] = cp.ID
	return nil
}

func (c *catalog) store(id string) (models.Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.storesByID[id]
	if !ok {
		return models.Store{}, false
	}
	return *s, true
}

func (c *catalog) storeByName(name string) (models.Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.storeIDsByName[name]
	if !ok {
		return models.Store{}, false
	}
	return *c.storesByID[id], true
}

func (c *catalog) stores() []models.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Store, 0, len(c.storesByID))
	for _, s := range c.storesByID {
		out = append(out, *s)
	}
	return out
}

// updateStore applies fn to the registered store under the lock.
func (c *catalog) updateStore(id string, fn func(*models.Store)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.storesByID[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// removeStore drops the store, detaches its documents and deletes their
// chunks. Copies of the detached documents are returned so persistence
// can follow.
func (c *catalog) removeStore(id string) []models.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.storesByID[id]
	if !ok {
		return nil
	}
	delete(c.storesByID, id)
	delete(c.storeIDsByName, s.Name)

	var docs []models.Document
	for _, d := range c.docsByID {
		if d.StoreID != id {
			continue
		}
		for _, chunkID := range c.chunksByDoc[d.ID] {
			delete(c.chunksByID, chunkID)
		}
		delete(c.chunksByDoc, d.ID)
		delete(c.docsByID, d.ID)
		docs = append(docs, *d)
	}
	return docs
}

// addDocument registers a copy of d.
func (c *catalog) addDocument(d *models.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *d
	c.docsByID[cp.ID] = &cp
}

func (c *catalog) document(id string) (models.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docsByID[id]
	if !ok {
		return models.Document{}, false
	}
	return *d, true
}

func (c *catalog) documents() []models.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Document, 0, len(c.docsByID))
	for _, d := range c.docsByID {
		out = append(out, *d)
	}
	return out
}

// updateDocument applies fn to the registered document under the lock.
func (c *catalog) updateDocument(id string, fn func(*models.Document)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docsByID[id]
	if !ok {
		return false
	}
	fn(d)
	return true
}

func (c *catalog) removeDocument(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunkID := range c.chunksByDoc[id] {
		delete(c.chunksByID, chunkID)
	}
	delete(c.chunksByDoc, id)
	delete(c.docsByID, id)
}

func (c *catalog) chunk(id string) (*models.Chunk, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chunksByID[id]
	return ch, ok
}

// setChunks replaces the full chunk set of a document. nil clears it.
func (c *catalog) setChunks(docID string, chunks []*models.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunkID := range c.chunksByDoc[docID] {
		delete(c.chunksByID, chunkID)
	}
	if len(chunks) == 0 {
		delete(c.chunksByDoc, docID)
		return
	}
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		c.chunksByID[ch.ID] = ch
		ids[i] = ch.ID
	}
	c.chunksByDoc[docID] = ids
}

func (c *catalog) chunksForDocument(docID string) []*models.Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.chunksByDoc[docID]
	out := make([]*models.Chunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := c.chunksByID[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (c *catalog) chunkIDsForStore(storeID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, ch := range c.chunksByID {
		if ch.StoreID == storeID {
			ids = append(ids, id)
		}
	}
	return ids
}
