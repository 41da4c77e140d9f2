package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	err := m.Upsert(context.Background(), []Entry{
		{ID: "a", StoreID: "s1", Vector: []float32{1, 0, 0}},
		{ID: "b", StoreID: "s1", Vector: []float32{0.9, 0.1, 0}},
		{ID: "c", StoreID: "s2", Vector: []float32{0, 1, 0}},
		{ID: "d", StoreID: "s2", Vector: []float32{0, 0, 1}},
	})
	require.NoError(t, err)
	return m
}

func TestMemoryQueryRanksBySimilarity(t *testing.T) {
	m := seedMemory(t)

	got, err := m.Query(context.Background(), []float32{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
}

func TestMemoryQueryScopesToStores(t *testing.T) {
	m := seedMemory(t)

	got, err := m.Query(context.Background(), []float32{1, 0, 0}, 0, []string{"s2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, "s2", c.StoreID)
	}
}

func TestMemoryQueryTruncatesToK(t *testing.T) {
	m := seedMemory(t)

	got, err := m.Query(context.Background(), []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryDelete(t *testing.T) {
	m := seedMemory(t)

	require.NoError(t, m.Delete(context.Background(), []string{"a", "b"}))
	got, err := m.Query(context.Background(), []float32{1, 0, 0}, 0, []string{"s1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}), "mismatched lengths")
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero vector")
}
