package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/config"
	"filesearch/internal/index"
	"filesearch/internal/intent"
	"filesearch/internal/models"
	"filesearch/internal/quota"
)

// hashEmbedder maps equal texts to equal vectors, so querying with a
// chunk's exact text always ranks that chunk first.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	var v [8]float32
	for i := 0; i < len(text); i++ {
		v[int(text[i])%8]++
	}
	return v[:], nil
}

func testDefaults() Defaults {
	return Defaults{
		ChunkingStrategy:  models.StrategyAuto,
		MaxTokensPerChunk: 512,
		MaxOverlapTokens:  50,
		QuotaBytes:        1 << 30,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	intents := intent.NewParser(nil, time.Second, config.Default().Intent.Vocabulary)
	return NewManager(testDefaults(), quota.NewLedger(3), hashEmbedder{}, index.NewMemory(), intents, nil, 3, time.Second)
}

func TestCreateStoreAppliesDefaults(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	s, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "schemas", s.DisplayName)
	assert.Equal(t, models.StrategyAuto, s.ChunkingStrategy)
	assert.Equal(t, 512, s.MaxTokensPerChunk)
	assert.Equal(t, int64(1<<30), s.StorageQuota)
	assert.True(t, s.IsActive)
}

func TestCreateStoreRejectsDuplicateName(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)
	_, err = mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	assert.ErrorIs(t, err, models.ErrStoreExists)
}

func TestCreateStoreRejectsInvalidConfig(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	cases := []CreateStoreParams{
		{Name: ""},
		{Name: "a", ChunkingStrategy: "recursive"},
		{Name: "b", MaxTokensPerChunk: 50},
		{Name: "c", MaxTokensPerChunk: 4096},
		{Name: "d", MaxOverlapTokens: -1},
	}
	for _, params := range cases {
		_, err := mgr.CreateStore(ctx, params)
		assert.ErrorIs(t, err, models.ErrInvalidConfiguration, "%+v", params)
	}
}

func TestIndexDocumentChargesQuotaAndServesSearch(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas", StorageQuota: 1_000_000})
	require.NoError(t, err)

	text := strings.TrimSpace(strings.Repeat("abcd ", 400)) // 1999 chars, one chunk
	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	result, err := mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, text)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksCreated)
	assert.Equal(t, models.StrategyAuto, result.Strategy)

	s, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalFiles)
	assert.Equal(t, 1, s.TotalChunks)
	assert.Equal(t, int64(1999), s.StorageSizeBytes)
	assert.Equal(t, int64(3*1999), s.EmbeddingsSizeBytes)

	got, err := mgr.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsIndexed)
	require.NotNil(t, got.IndexedAt)

	resp, err := mgr.Search(ctx, &models.SearchRequest{
		Query:            text,
		StoreNames:       []string{"schemas"},
		Limit:            5,
		IncludeCitations: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.ResultsCount)
	assert.Equal(t, "notes.txt", resp.Results[0].FileName)
	require.NotNil(t, resp.Results[0].Citation)
	assert.Equal(t, "notes.txt, chunk 0", resp.Results[0].Citation.SourceReference)
	assert.Greater(t, resp.GroundingScore, 0.99)
}

func TestIndexDocumentQuotaRejectionLeavesNoTrace(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "tiny", StorageQuota: 1000})
	require.NoError(t, err)

	doc := &models.Document{Name: "big.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	text := strings.Repeat("abcd ", 400)
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "tiny"}, text)
	require.ErrorIs(t, err, models.ErrQuotaExceeded)

	s, err := mgr.GetStore("tiny")
	require.NoError(t, err)
	assert.Zero(t, s.TotalFiles)
	assert.Zero(t, s.TotalChunks)
	assert.Zero(t, s.StorageSizeBytes)

	got, err := mgr.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.False(t, got.IsIndexed, "rejected document must not look indexed")

	resp, err := mgr.Search(ctx, &models.SearchRequest{Query: "abcd", StoreNames: []string{"tiny"}, Limit: 5})
	require.NoError(t, err)
	assert.Zero(t, resp.ResultsCount)
}

func TestReindexReplacesChunkSet(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	first := strings.TrimSpace(strings.Repeat("abcd ", 400))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, first)
	require.NoError(t, err)

	second := "a much shorter revision of the same document"
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, second)
	require.NoError(t, err)

	s, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalFiles, "re-index must not double count the file")
	assert.Equal(t, 1, s.TotalChunks)
	assert.Equal(t, int64(len(second)), s.StorageSizeBytes)

	resp, err := mgr.Search(ctx, &models.SearchRequest{Query: second, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 1, resp.ResultsCount)
	assert.Equal(t, second, resp.Results[0].ChunkText)
}

func TestReindexIntoDifferentStoreReleasesOldStore(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "a"})
	require.NoError(t, err)
	_, err = mgr.CreateStore(ctx, CreateStoreParams{Name: "b"})
	require.NoError(t, err)

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	text := strings.TrimSpace(strings.Repeat("abcd ", 400))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "a"}, text)
	require.NoError(t, err)
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "b"}, text)
	require.NoError(t, err)

	a, err := mgr.GetStore("a")
	require.NoError(t, err)
	assert.Zero(t, a.TotalFiles, "old store must not keep the file count")
	assert.Zero(t, a.TotalChunks)
	assert.Zero(t, a.StorageSizeBytes)
	assert.Zero(t, a.EmbeddingsSizeBytes)

	b, err := mgr.GetStore("b")
	require.NoError(t, err)
	assert.Equal(t, 1, b.TotalFiles)
	assert.Equal(t, int64(len(text)), b.StorageSizeBytes)

	got, err := mgr.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.StoreID)

	resp, err := mgr.Search(ctx, &models.SearchRequest{Query: text, StoreNames: []string{"a"}, Limit: 5})
	require.NoError(t, err)
	assert.Zero(t, resp.ResultsCount, "old store's index entries are gone")

	resp, err = mgr.Search(ctx, &models.SearchRequest{Query: text, StoreNames: []string{"b"}, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ResultsCount)
}

func TestRejectedReindexLeavesDocumentUnindexed(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	// The quota fits the first revision (1999 raw + 5997 estimated) but
	// not a 2999-char replacement.
	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas", StorageQuota: 8000})
	require.NoError(t, err)

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	first := strings.TrimSpace(strings.Repeat("abcd ", 400))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, first)
	require.NoError(t, err)

	second := strings.TrimSpace(strings.Repeat("abcd ", 600))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, second)
	require.ErrorIs(t, err, models.ErrQuotaExceeded)

	got, err := mgr.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.False(t, got.IsIndexed, "document with no chunks must not look indexed")
	assert.Nil(t, got.IndexedAt)

	s, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.Zero(t, s.TotalFiles)
	assert.Zero(t, s.StorageSizeBytes)

	resp, err := mgr.Search(ctx, &models.SearchRequest{Query: first, Limit: 5})
	require.NoError(t, err)
	assert.Zero(t, resp.ResultsCount)
}

func TestGetStoreReturnsSnapshot(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)

	s1, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	s1.IsActive = false
	s1.StorageQuota = 7
	s1.Name = "mangled"

	s2, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.True(t, s2.IsActive)
	assert.Equal(t, int64(1<<30), s2.StorageQuota)
	assert.Equal(t, "schemas", s2.Name)
}

func TestConcurrentStoreReadsAndWrites(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if s, err := mgr.GetStore("schemas"); err == nil {
					_ = s.TotalChunks
				}
				mgr.ListStores()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			assert.NoError(t, mgr.SetQuota(ctx, "schemas", int64(1<<20+j)))
		}
	}()
	wg.Wait()

	s, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20+49), s.StorageQuota)
}

func TestDeleteDocumentRefundsQuota(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, strings.Repeat("word ", 300))
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteDocument(ctx, doc.ID))

	s, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.Zero(t, s.TotalFiles)
	assert.Zero(t, s.StorageSizeBytes)
	assert.Zero(t, s.EmbeddingsSizeBytes)

	_, err = mgr.GetDocument(doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	resp, err := mgr.Search(ctx, &models.SearchRequest{Query: "word", Limit: 5})
	require.NoError(t, err)
	assert.Zero(t, resp.ResultsCount)
}

func TestDeactivateStopsIngestionAndSearch(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)
	require.NoError(t, mgr.Deactivate(ctx, "schemas"))

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, "text")
	assert.ErrorIs(t, err, models.ErrStoreInactive)

	_, err = mgr.Search(ctx, &models.SearchRequest{Query: "q", StoreNames: []string{"schemas"}, Limit: 5})
	assert.ErrorIs(t, err, models.ErrStoreInactive)
}

func TestForceDeleteRemovesEverything(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	require.NoError(t, err)

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))
	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{DocumentID: doc.ID, StoreName: "schemas"}, strings.Repeat("word ", 300))
	require.NoError(t, err)

	require.NoError(t, mgr.ForceDelete(ctx, "schemas"))

	_, err = mgr.GetStore("schemas")
	assert.ErrorIs(t, err, models.ErrStoreNotFound)
	_, err = mgr.GetDocument(doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	// The name is free for reuse.
	_, err = mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas"})
	assert.NoError(t, err)
}

func TestChunkMetadataInheritance(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{
		Name:           "schemas",
		CustomMetadata: map[string]any{"env": "prod", "team": "store"},
	})
	require.NoError(t, err)

	doc := &models.Document{
		Name:     "notes.txt",
		Metadata: map[string]any{"team": "doc", "lang": "en"},
	}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	_, err = mgr.IndexDocument(ctx, &models.IndexRequest{
		DocumentID:     doc.ID,
		StoreName:      "schemas",
		CustomMetadata: map[string]any{"lang": "de"},
	}, "a short document")
	require.NoError(t, err)

	resp, err := mgr.Search(ctx, &models.SearchRequest{Query: "a short document", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, resp.ResultsCount)

	meta := resp.Results[0].Metadata
	assert.Equal(t, "prod", meta["env"], "store metadata inherited")
	assert.Equal(t, "doc", meta["team"], "document overrides store")
	assert.Equal(t, "de", meta["lang"], "request overrides document")
}

func TestIndexRequestOverridesStoreChunking(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateStore(ctx, CreateStoreParams{Name: "schemas", MaxTokensPerChunk: 2048})
	require.NoError(t, err)

	doc := &models.Document{Name: "notes.txt"}
	require.NoError(t, mgr.AddDocument(ctx, doc))

	// 2000 chars fit one 2048-token chunk but not a single 100-token one.
	text := strings.TrimSpace(strings.Repeat("abcd ", 400))
	result, err := mgr.IndexDocument(ctx, &models.IndexRequest{
		DocumentID:        doc.ID,
		StoreName:         "schemas",
		ChunkingStrategy:  models.StrategyFixed,
		MaxTokensPerChunk: 100,
	}, text)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFixed, result.Strategy)
	assert.Greater(t, result.ChunksCreated, 1)

	s, err := mgr.GetStore("schemas")
	require.NoError(t, err)
	assert.Equal(t, result.ChunksCreated, s.TotalChunks)
}

func TestRetrieveByQueryFallbackFilters(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ref := time.Date(2025, 11, 16, 12, 0, 0, 0, time.UTC)
	docs := []*models.Document{
		{Name: "orders.sql", Category: "sql", UploadedAt: ref.AddDate(0, 0, -2)},
		{Name: "users.sql", Category: "sql", UploadedAt: ref.AddDate(0, 0, -5)},
		{Name: "events.json", Category: "nosql", UploadedAt: ref.AddDate(0, 0, -3)},
		{Name: "old.sql", Category: "sql", UploadedAt: ref.AddDate(0, 0, -40)},
	}
	for _, d := range docs {
		require.NoError(t, mgr.AddDocument(ctx, d))
	}

	resp := mgr.RetrieveByQuery(ctx, "show me all SQL schemas from last week", nil, ref)
	assert.True(t, resp.UsedFallback)
	require.NotNil(t, resp.ParsedQuery)
	assert.Equal(t, "sql", resp.ParsedQuery.DatabaseType)

	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "orders.sql", resp.Documents[0].Name, "newest first")
	assert.Equal(t, "users.sql", resp.Documents[1].Name)
}

func TestRetrieveExplicitFieldsOverrideParsed(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	ref := time.Date(2025, 11, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mgr.AddDocument(ctx, &models.Document{Name: "events.json", Category: "nosql", UploadedAt: ref.AddDate(0, 0, -2)}))
	require.NoError(t, mgr.AddDocument(ctx, &models.Document{Name: "orders.sql", Category: "sql", UploadedAt: ref.AddDate(0, 0, -2)}))

	override := &models.StructuredFilter{DatabaseType: "nosql"}
	resp := mgr.RetrieveByQuery(ctx, "sql schemas from last week", override, ref)

	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "events.json", resp.Documents[0].Name)
	assert.Equal(t, "nosql", resp.FiltersApplied.DatabaseType)
	assert.Equal(t, "sql", resp.ParsedQuery.DatabaseType, "parsed query reported unmodified")
}

func TestRetrieveTagAndNameFilters(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, mgr.AddDocument(ctx, &models.Document{Name: "UserAccounts.sql", Tags: []string{"billing", "core"}, UploadedAt: now}))
	require.NoError(t, mgr.AddDocument(ctx, &models.Document{Name: "sessions.sql", Tags: []string{"core"}, UploadedAt: now}))

	resp := mgr.Retrieve(models.StructuredFilter{NamePattern: "useraccounts"})
	require.Equal(t, 1, resp.Count, "name match is case-insensitive")

	resp = mgr.Retrieve(models.StructuredFilter{Tags: []string{"core", "billing"}})
	require.Equal(t, 1, resp.Count, "all tags must match")
	assert.Equal(t, "UserAccounts.sql", resp.Documents[0].Name)

	resp = mgr.Retrieve(models.StructuredFilter{Tags: []string{"core"}})
	assert.Equal(t, 2, resp.Count)
}

func TestRetrieveDatabaseTypeAllMatchesEveryCategory(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, mgr.AddDocument(ctx, &models.Document{Name: "orders.sql", Category: "sql", UploadedAt: now}))
	require.NoError(t, mgr.AddDocument(ctx, &models.Document{Name: "events.json", Category: "nosql", UploadedAt: now}))

	// Structured requests may name database_type "all" explicitly.
	resp := mgr.Retrieve(models.StructuredFilter{DatabaseType: "all"})
	assert.Equal(t, 2, resp.Count)

	resp = mgr.RetrieveByQuery(ctx, "nosql events", &models.StructuredFilter{DatabaseType: "all"}, now)
	assert.Equal(t, 2, resp.Count, "explicit all overrides the parsed category")
}
