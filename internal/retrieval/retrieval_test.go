package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filesearch/internal/index"
	"filesearch/internal/models"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

type mapChunks map[string]*models.Chunk

func (m mapChunks) ChunkByID(id string) (*models.Chunk, bool) {
	c, ok := m[id]
	return c, ok
}

func testFixture(t *testing.T, embedErr error) (*Service, mapChunks) {
	t.Helper()

	chunks := mapChunks{
		"c1": {ID: "c1", StoreID: "s1", Text: "users table schema", FileName: "users.sql",
			CitationID: "cit-1", SourceReference: "users.sql, chunk 0",
			Metadata: map[string]any{"team": "platform", "version": 2}},
		"c2": {ID: "c2", StoreID: "s1", Text: "orders table schema", FileName: "orders.sql",
			CitationID: "cit-2", SourceReference: "orders.sql, chunk 0",
			Metadata: map[string]any{"team": "payments", "version": 1}},
		"c3": {ID: "c3", StoreID: "s1", Text: "sessions cache layout", FileName: "sessions.md",
			CitationID: "cit-3", SourceReference: "sessions.md, chunk 0",
			Metadata: map[string]any{"team": "platform", "version": 3}},
	}

	idx := index.NewMemory()
	require.NoError(t, idx.Upsert(context.Background(), []index.Entry{
		{ID: "c1", StoreID: "s1", Vector: []float32{1, 0, 0}},
		{ID: "c2", StoreID: "s1", Vector: []float32{0.8, 0.6, 0}},
		{ID: "c3", StoreID: "s1", Vector: []float32{0, 1, 0}},
	}))

	emb := &fakeEmbedder{err: embedErr}
	return NewService(emb, idx, chunks, 3, time.Second), chunks
}

func TestSearchRanksAndCites(t *testing.T) {
	svc, _ := testFixture(t, nil)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Query:            "user accounts",
		Limit:            2,
		IncludeCitations: true,
	}, []string{"s1"})
	require.NoError(t, err)

	require.Equal(t, 2, resp.ResultsCount)
	assert.Equal(t, "c1", resp.Results[0].ChunkID)
	assert.Equal(t, "c2", resp.Results[1].ChunkID)
	assert.GreaterOrEqual(t, resp.Results[0].Score, resp.Results[1].Score)

	require.NotNil(t, resp.Results[0].Citation)
	assert.Equal(t, "cit-1", resp.Results[0].Citation.ID)
	assert.Equal(t, "users.sql, chunk 0", resp.Results[0].Citation.SourceReference)
	assert.Positive(t, resp.RetrievalTime)
}

func TestSearchOmitsCitationsUnlessAsked(t *testing.T) {
	svc, _ := testFixture(t, nil)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{Query: "q", Limit: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, resp.ResultsCount)
	assert.Nil(t, resp.Results[0].Citation)
}

func TestSearchMetadataFilter(t *testing.T) {
	svc, _ := testFixture(t, nil)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Query:          "q",
		Limit:          10,
		MetadataFilter: map[string]any{"team": "platform"},
	}, nil)
	require.NoError(t, err)

	require.Equal(t, 2, resp.ResultsCount)
	for _, r := range resp.Results {
		assert.Equal(t, "platform", r.Metadata["team"])
	}
	assert.Equal(t, map[string]any{"team": "platform"}, resp.FiltersApplied)
}

func TestSearchRangeAndPatternFilters(t *testing.T) {
	svc, _ := testFixture(t, nil)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Query:          "q",
		Limit:          10,
		MetadataFilter: map[string]any{"version": map[string]any{"gte": 2}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ResultsCount)

	resp, err = svc.Search(context.Background(), &models.SearchRequest{
		Query:          "q",
		Limit:          10,
		MetadataFilter: map[string]any{"team": map[string]any{"like": "PAY"}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, resp.ResultsCount)
	assert.Equal(t, "c2", resp.Results[0].ChunkID)
}

func TestSearchGroundingScoreIsMeanSimilarity(t *testing.T) {
	svc, _ := testFixture(t, nil)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{Query: "q", Limit: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, resp.ResultsCount)

	want := (resp.Results[0].Score + resp.Results[1].Score) / 2
	assert.InDelta(t, want, resp.GroundingScore, 1e-9)
	assert.GreaterOrEqual(t, resp.GroundingScore, 0.0)
	assert.LessOrEqual(t, resp.GroundingScore, 1.0)
}

func TestSearchEmbedTimeoutDegrades(t *testing.T) {
	svc, _ := testFixture(t, context.DeadlineExceeded)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{Query: "q", Limit: 5}, nil)
	require.NoError(t, err, "timeout is a degraded response, not an error")
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.GroundingScore)
	assert.Equal(t, models.ReasonRetrievalTimeout, resp.DegradedReason)
}

func TestMatchesMetadata(t *testing.T) {
	meta := map[string]any{"team": "platform", "version": 2, "tags": "billing"}

	assert.True(t, MatchesMetadata(meta, nil))
	assert.True(t, MatchesMetadata(meta, map[string]any{"team": "platform"}))
	assert.False(t, MatchesMetadata(meta, map[string]any{"team": "payments"}))
	assert.False(t, MatchesMetadata(meta, map[string]any{"missing": "x"}))
	assert.True(t, MatchesMetadata(meta, map[string]any{"team": []any{"payments", "platform"}}))
	assert.True(t, MatchesMetadata(meta, map[string]any{"version": map[string]any{"gte": 1, "lte": 3}}))
	assert.False(t, MatchesMetadata(meta, map[string]any{"version": map[string]any{"gte": 3}}))
	assert.True(t, MatchesMetadata(meta, map[string]any{"version": float64(2)}), "json numbers compare across types")
	assert.False(t, MatchesMetadata(meta, map[string]any{"version": map[string]any{"unknown": 1}}))
}
