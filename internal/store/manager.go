// Package store is the facade over stores, documents, chunks and the
// services that operate on them. It owns the in-memory catalog; an
// optional Persister mirrors catalog mutations into durable storage.
package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"filesearch/internal/chunker"
	"filesearch/internal/citation"
	"filesearch/internal/embedding"
	"filesearch/internal/helper"
	"filesearch/internal/index"
	"filesearch/internal/intent"
	"filesearch/internal/models"
	"filesearch/internal/quota"
	"filesearch/internal/retrieval"
)

// Persister mirrors catalog state into durable storage. All methods are
// best-effort from the manager's point of view: the in-memory catalog is
// authoritative within a process, persistence failures are returned to the
// caller but never leave the catalog inconsistent. SaveChunks receives the
// embedding vectors aligned with chunks so deployments indexing in
// Postgres keep them next to the text.
type Persister interface {
	SaveStore(ctx context.Context, s *models.Store) error
	DeleteStore(ctx context.Context, storeID string) error
	SaveDocument(ctx context.Context, d *models.Document) error
	DeleteDocument(ctx context.Context, documentID string) error
	SaveChunks(ctx context.Context, chunks []*models.Chunk, vectors [][]float32) error
	DeleteChunks(ctx context.Context, chunkIDs []string) error
	SaveSearch(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) error
}

// CreateStoreParams names a new store and optionally overrides the default
// chunking configuration and quota.
type CreateStoreParams struct {
	Name              string
	DisplayName       string
	ChunkingStrategy  models.ChunkingStrategy
	MaxTokensPerChunk int
	MaxOverlapTokens  int
	StorageQuota      int64
	CustomMetadata    map[string]any
}

// Defaults are the fallbacks applied when a store or index request leaves
// chunking or quota parameters unset.
type Defaults struct {
	ChunkingStrategy  models.ChunkingStrategy
	MaxTokensPerChunk int
	MaxOverlapTokens  int
	QuotaBytes        int64
}

// Manager coordinates ingestion and query across stores. Store and
// document values returned to callers are snapshots; mutating them has no
// effect on the registered state.
type Manager struct {
	// catalog serializes all store/document/chunk registry access. Quota
	// counters have their own per-store serialization inside the ledger.
	catalog *catalog

	defaults  Defaults
	ledger    *quota.Ledger
	chunks    *chunker.Engine
	citations *citation.Tracker
	embedder  embedding.Embedder
	idx       index.Index
	search    *retrieval.Service
	intents   *intent.Parser
	persist   Persister

	embedTimeout time.Duration
}

// NewManager wires the services together. persist may be nil for a purely
// in-memory deployment. intents is always required; build it with a nil
// model client to get the deterministic rules only.
func NewManager(defaults Defaults, ledger *quota.Ledger, embedder embedding.Embedder, idx index.Index, intents *intent.Parser, persist Persister, oversample int, embedTimeout time.Duration) *Manager {
	m := &Manager{
		catalog:      newCatalog(),
		defaults:     defaults,
		ledger:       ledger,
		chunks:       chunker.New(),
		citations:    citation.NewTracker(),
		embedder:     embedder,
		idx:          idx,
		intents:      intents,
		persist:      persist,
		embedTimeout: embedTimeout,
	}
	m.search = retrieval.NewService(embedder, idx, m, oversample, embedTimeout)
	return m
}

// ChunkByID implements retrieval.ChunkSource.
func (m *Manager) ChunkByID(id string) (*models.Chunk, bool) {
	return m.catalog.chunk(id)
}

// CreateStore validates the configuration, enforces name uniqueness and
// registers the store with the quota ledger.
func (m *Manager) CreateStore(ctx context.Context, params CreateStoreParams) (*models.Store, error) {
	now := time.Now().UTC()
	s := &models.Store{
		ID:                helper.GenerateUUID(),
		Name:              params.Name,
		DisplayName:       params.DisplayName,
		ChunkingStrategy:  params.ChunkingStrategy,
		MaxTokensPerChunk: params.MaxTokensPerChunk,
		MaxOverlapTokens:  params.MaxOverlapTokens,
		StorageQuota:      params.StorageQuota,
		CustomMetadata:    params.CustomMetadata,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if s.DisplayName == "" {
		s.DisplayName = s.Name
	}
	if s.ChunkingStrategy == "" {
		s.ChunkingStrategy = m.defaults.ChunkingStrategy
	}
	if s.MaxTokensPerChunk == 0 {
		s.MaxTokensPerChunk = m.defaults.MaxTokensPerChunk
	}
	if s.MaxOverlapTokens == 0 {
		s.MaxOverlapTokens = m.defaults.MaxOverlapTokens
	}
	if s.StorageQuota == 0 {
		s.StorageQuota = m.defaults.QuotaBytes
	}

	if s.Name == "" {
		return nil, models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"store name must not be empty")
	}
	if err := validateChunking(s.ChunkingStrategy, s.MaxTokensPerChunk, s.MaxOverlapTokens); err != nil {
		return nil, err
	}

	if err := m.catalog.addStore(s); err != nil {
		return nil, err
	}
	m.ledger.Register(s.ID, s.StorageQuota, quota.Usage{})

	if m.persist != nil {
		if err := m.persist.SaveStore(ctx, s); err != nil {
			return nil, err
		}
	}
	log.Info().Str("store", s.Name).Str("storeId", s.ID).Msg("store created")
	return s, nil
}

// GetStore returns a snapshot of the store with the given name, with
// current usage counters from the ledger.
func (m *Manager) GetStore(name string) (*models.Store, error) {
	s, ok := m.catalog.storeByName(name)
	if !ok {
		return nil, models.ErrStoreNotFound
	}
	m.refreshUsage(&s)
	return &s, nil
}

// ListStores returns snapshots of all stores sorted by name.
func (m *Manager) ListStores() []*models.Store {
	stores := m.catalog.stores()
	out := make([]*models.Store, len(stores))
	for i := range stores {
		m.refreshUsage(&stores[i])
		out[i] = &stores[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) refreshUsage(s *models.Store) {
	u, err := m.ledger.Usage(s.ID)
	if err != nil {
		return
	}
	s.TotalFiles = u.TotalFiles
	s.TotalChunks = u.TotalChunks
	s.StorageSizeBytes = u.StorageSizeBytes
	s.EmbeddingsSizeBytes = u.EmbeddingsSizeBytes
}

// SetQuota changes a store's storage quota. Existing usage is untouched;
// only future admissions see the new limit.
func (m *Manager) SetQuota(ctx context.Context, name string, quotaBytes int64) error {
	s, ok := m.catalog.storeByName(name)
	if !ok {
		return models.ErrStoreNotFound
	}
	if err := m.ledger.SetQuota(s.ID, quotaBytes); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.catalog.updateStore(s.ID, func(st *models.Store) {
		st.StorageQuota = quotaBytes
		st.UpdatedAt = now
	})
	if m.persist != nil {
		s.StorageQuota = quotaBytes
		s.UpdatedAt = now
		m.refreshUsage(&s)
		return m.persist.SaveStore(ctx, &s)
	}
	return nil
}

// Deactivate soft-deletes a store: content stays, but the store stops
// accepting ingestion and drops out of searches.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	s, ok := m.catalog.storeByName(name)
	if !ok {
		return models.ErrStoreNotFound
	}
	now := time.Now().UTC()
	m.catalog.updateStore(s.ID, func(st *models.Store) {
		st.IsActive = false
		st.UpdatedAt = now
	})
	if m.persist != nil {
		s.IsActive = false
		s.UpdatedAt = now
		m.refreshUsage(&s)
		return m.persist.SaveStore(ctx, &s)
	}
	return nil
}

// ForceDelete removes a store with all its documents, chunks and index
// entries, and drops its ledger entry.
func (m *Manager) ForceDelete(ctx context.Context, name string) error {
	s, ok := m.catalog.storeByName(name)
	if !ok {
		return models.ErrStoreNotFound
	}

	chunkIDs := m.catalog.chunkIDsForStore(s.ID)
	if len(chunkIDs) > 0 {
		if err := m.idx.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}
	docs := m.catalog.removeStore(s.ID)
	m.ledger.Remove(s.ID)

	if m.persist != nil {
		if len(chunkIDs) > 0 {
			if err := m.persist.DeleteChunks(ctx, chunkIDs); err != nil {
				return err
			}
		}
		for _, d := range docs {
			if err := m.persist.DeleteDocument(ctx, d.ID); err != nil {
				return err
			}
		}
		if err := m.persist.DeleteStore(ctx, s.ID); err != nil {
			return err
		}
	}
	log.Info().Str("store", name).Int("chunks", len(chunkIDs)).Msg("store force deleted")
	return nil
}

// AddDocument registers a document in the catalog without indexing it.
// The id and upload time are filled in when unset.
func (m *Manager) AddDocument(ctx context.Context, d *models.Document) error {
	if d.ID == "" {
		d.ID = helper.GenerateUUID()
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	m.catalog.addDocument(d)
	if m.persist != nil {
		return m.persist.SaveDocument(ctx, d)
	}
	return nil
}

// GetDocument returns a snapshot of the document with the given id.
func (m *Manager) GetDocument(id string) (*models.Document, error) {
	d, ok := m.catalog.document(id)
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	return &d, nil
}

// IndexDocument chunks the document's text and indexes it into the named
// store. Re-indexing an already indexed document replaces its chunk set.
// Quota is charged before the embedding calls and rolled back if they
// fail, so no partially indexed document is ever visible to queries.
func (m *Manager) IndexDocument(ctx context.Context, req *models.IndexRequest, text string) (*models.IndexResult, error) {
	s, ok := m.catalog.storeByName(req.StoreName)
	if !ok {
		return nil, models.ErrStoreNotFound
	}
	if !s.IsActive {
		return nil, models.ErrStoreInactive
	}
	doc, ok := m.catalog.document(req.DocumentID)
	if !ok {
		return nil, models.ErrDocumentNotFound
	}

	cfg := chunker.Config{
		Strategy:          s.ChunkingStrategy,
		MaxTokensPerChunk: s.MaxTokensPerChunk,
		MaxOverlapTokens:  s.MaxOverlapTokens,
	}
	if req.ChunkingStrategy != "" {
		cfg.Strategy = req.ChunkingStrategy
	}
	if req.MaxTokensPerChunk != 0 {
		cfg.MaxTokensPerChunk = req.MaxTokensPerChunk
	}
	if req.MaxOverlapTokens != 0 {
		cfg.MaxOverlapTokens = req.MaxOverlapTokens
	}

	res, err := m.chunks.Chunk(text, cfg)
	if err != nil {
		return nil, err
	}

	// Replace semantics: drop the previous chunk set wherever it lives,
	// releasing the quota of whichever store held it. The document stays
	// unindexed from here until the replacement fully lands, so a failed
	// admission or embedding never leaves a half-indexed document.
	if doc.IsIndexed {
		if err := m.dropChunks(ctx, &doc); err != nil {
			return nil, err
		}
		doc.IsIndexed = false
		doc.IndexedAt = nil
		m.catalog.updateDocument(doc.ID, func(d *models.Document) {
			d.IsIndexed = false
			d.IndexedAt = nil
		})
		if m.persist != nil {
			if err := m.persist.SaveDocument(ctx, &doc); err != nil {
				return nil, err
			}
		}
	}

	incoming := int64(len(text))
	if _, err := m.ledger.Admit(s.ID, incoming, len(res.Segments)); err != nil {
		return nil, err
	}

	newChunks := make([]*models.Chunk, 0, len(res.Segments))
	totalTokens := 0
	now := time.Now().UTC()
	for i, seg := range res.Segments {
		cite := m.citations.Stamp(doc.Name, i)
		newChunks = append(newChunks, &models.Chunk{
			ID:              helper.GenerateUUID(),
			DocumentID:      doc.ID,
			StoreID:         s.ID,
			SequenceIndex:   i,
			Text:            seg.Text,
			TokenCount:      seg.TokenCount,
			Strategy:        res.Strategy,
			OverlapTokens:   seg.OverlapTokens,
			CitationID:      cite.ID,
			SourceReference: cite.SourceReference,
			FileName:        doc.Name,
			Metadata:        mergeMetadata(s.CustomMetadata, doc.Metadata, req.CustomMetadata),
			CreatedAt:       now,
		})
		totalTokens += seg.TokenCount
	}

	entries := make([]index.Entry, 0, len(newChunks))
	vectors := make([][]float32, 0, len(newChunks))
	embedded := make([]string, 0, len(newChunks))
	for _, c := range newChunks {
		vec, err := m.embedChunk(ctx, c.Text)
		if err != nil {
			m.rollbackIndexing(ctx, s.ID, incoming, len(res.Segments), embedded)
			return nil, err
		}
		entries = append(entries, index.Entry{ID: c.ID, StoreID: s.ID, Text: c.Text, Vector: vec})
		vectors = append(vectors, vec)
		embedded = append(embedded, c.ID)
	}
	if len(entries) > 0 {
		if err := m.idx.Upsert(ctx, entries); err != nil {
			m.rollbackIndexing(ctx, s.ID, incoming, len(res.Segments), nil)
			return nil, err
		}
	}

	m.catalog.setChunks(doc.ID, newChunks)
	doc.StoreID = s.ID
	doc.SizeBytes = incoming
	doc.IsIndexed = true
	doc.IndexedAt = &now
	m.catalog.updateDocument(doc.ID, func(d *models.Document) {
		d.StoreID = doc.StoreID
		d.SizeBytes = doc.SizeBytes
		d.IsIndexed = true
		d.IndexedAt = doc.IndexedAt
	})
	m.catalog.updateStore(s.ID, func(st *models.Store) { st.UpdatedAt = now })
	s.UpdatedAt = now
	m.refreshUsage(&s)

	if m.persist != nil {
		if err := m.persist.SaveChunks(ctx, newChunks, vectors); err != nil {
			return nil, err
		}
		if err := m.persist.SaveDocument(ctx, &doc); err != nil {
			return nil, err
		}
		if err := m.persist.SaveStore(ctx, &s); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("document", doc.Name).
		Str("store", s.Name).
		Int("chunks", len(newChunks)).
		Str("strategy", string(res.Resolved)).
		Msg("document indexed")

	return &models.IndexResult{
		DocumentID:    doc.ID,
		Store:         s.Name,
		ChunksCreated: len(newChunks),
		TotalTokens:   totalTokens,
		Strategy:      res.Strategy,
		Warnings:      res.Warnings,
	}, nil
}

func (m *Manager) embedChunk(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, m.embedTimeout)
	defer cancel()
	return m.embedder.Embed(embedCtx, text)
}

// rollbackIndexing undoes a partially applied ingestion: refunds the quota
// charge and removes any index entries already written.
func (m *Manager) rollbackIndexing(ctx context.Context, storeID string, bytes int64, chunkCount int, indexedIDs []string) {
	if _, err := m.ledger.Release(storeID, bytes, chunkCount); err != nil {
		log.Error().Err(err).Str("storeId", storeID).Msg("failed to refund quota on rollback")
	}
	if len(indexedIDs) > 0 {
		if err := m.idx.Delete(ctx, indexedIDs); err != nil {
			log.Error().Err(err).Str("storeId", storeID).Msg("failed to remove index entries on rollback")
		}
	}
}

// dropChunks removes a document's chunk set from the index, the catalog
// and the ledger, releasing against the store that holds the chunks.
func (m *Manager) dropChunks(ctx context.Context, doc *models.Document) error {
	old := m.catalog.chunksForDocument(doc.ID)
	if len(old) == 0 {
		return nil
	}
	ids := make([]string, len(old))
	for i, c := range old {
		ids[i] = c.ID
	}
	bytes := doc.SizeBytes

	if err := m.idx.Delete(ctx, ids); err != nil {
		return err
	}
	m.catalog.setChunks(doc.ID, nil)
	if _, err := m.ledger.Release(doc.StoreID, bytes, len(old)); err != nil {
		return err
	}
	if m.persist != nil {
		return m.persist.DeleteChunks(ctx, ids)
	}
	return nil
}

// DeleteDocument removes a document and, if indexed, its chunks and quota
// charge.
func (m *Manager) DeleteDocument(ctx context.Context, id string) error {
	doc, ok := m.catalog.document(id)
	if !ok {
		return models.ErrDocumentNotFound
	}
	if doc.IsIndexed {
		if err := m.dropChunks(ctx, &doc); err != nil {
			return err
		}
	}
	m.catalog.removeDocument(id)
	if m.persist != nil {
		return m.persist.DeleteDocument(ctx, id)
	}
	return nil
}

// Search runs a semantic search across the named stores (all active stores
// when none are named) and records the query and its response.
func (m *Manager) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	storeIDs, err := m.resolveStores(req.StoreNames)
	if err != nil {
		return nil, err
	}
	if len(storeIDs) == 0 {
		// No active stores; an empty index scope would mean "all".
		return &models.SearchResponse{
			Query:          req.Query,
			Results:        []models.SearchResult{},
			FiltersApplied: req.MetadataFilter,
		}, nil
	}
	resp, err := m.search.Search(ctx, req, storeIDs)
	if err != nil {
		return nil, err
	}
	if m.persist != nil {
		if err := m.persist.SaveSearch(ctx, req, resp); err != nil {
			log.Error().Err(err).Str("query", req.Query).Msg("failed to record search")
		}
	}
	return resp, nil
}

func (m *Manager) resolveStores(names []string) ([]string, error) {
	if len(names) == 0 {
		var ids []string
		for _, s := range m.catalog.stores() {
			if s.IsActive {
				ids = append(ids, s.ID)
			}
		}
		return ids, nil
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		s, ok := m.catalog.storeByName(name)
		if !ok {
			return nil, models.ErrStoreNotFound
		}
		if !s.IsActive {
			return nil, models.ErrStoreInactive
		}
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// Retrieve lists catalog documents matching a structured filter, newest
// first.
func (m *Manager) Retrieve(filter models.StructuredFilter) *models.RetrieveResponse {
	limit := filter.Limit
	if limit <= 0 {
		limit = intent.DefaultLimit
	}

	var matched []models.Document
	docs := m.catalog.documents()
	for i := range docs {
		if matchesFilter(&docs[i], filter) {
			matched = append(matched, docs[i])
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UploadedAt.Equal(matched[j].UploadedAt) {
			return matched[i].UploadedAt.After(matched[j].UploadedAt)
		}
		return matched[i].Name < matched[j].Name
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return &models.RetrieveResponse{
		Count:          len(matched),
		Documents:      matched,
		FiltersApplied: filter,
	}
}

// RetrieveByQuery parses a natural-language query into a filter, applies
// any explicit override fields on top, and runs the catalog retrieval.
func (m *Manager) RetrieveByQuery(ctx context.Context, query string, override *models.StructuredFilter, referenceDate time.Time) *models.RetrieveResponse {
	parsed := m.intents.Parse(ctx, query, referenceDate)
	filter := parsed.Filter.Merge(override)

	resp := m.Retrieve(filter)
	resp.OriginalQuery = query
	resp.ParsedQuery = &parsed.Filter
	resp.UsedFallback = parsed.UsedFallback
	return resp
}

func matchesFilter(d *models.Document, f models.StructuredFilter) bool {
	if f.DatabaseType != "" && f.DatabaseType != "all" && !strings.EqualFold(d.Category, f.DatabaseType) {
		return false
	}
	if f.StartDate != nil && d.UploadedAt.Before(*f.StartDate) {
		return false
	}
	// The end bound is inclusive of the whole day.
	if f.EndDate != nil && !d.UploadedAt.Before(f.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	if f.NamePattern != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.NamePattern)) {
		return false
	}
	for _, tag := range f.Tags {
		if !hasTag(d.Tags, tag) {
			return false
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func mergeMetadata(layers ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func validateChunking(strategy models.ChunkingStrategy, maxTokens, overlap int) error {
	if !strategy.Valid() {
		return models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"unknown chunking strategy %q", strategy)
	}
	if maxTokens < models.MinTokensPerChunk || maxTokens > models.MaxTokensPerChunk {
		return models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"max_tokens_per_chunk %d outside [%d,%d]", maxTokens, models.MinTokensPerChunk, models.MaxTokensPerChunk)
	}
	if overlap < models.MinOverlapTokens {
		return models.Reject(models.ErrInvalidConfiguration, models.ReasonInvalidConfiguration,
			"max_overlap_tokens %d is negative", overlap)
	}
	return nil
}
