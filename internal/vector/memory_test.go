package vector_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAJ8112/Yanck/internal/vector"
)

func TestMemoryIndex_Query(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		entries []vector.Entry
		query   []float32
		k       int
		want    []string
		scores  []float32
	}{
		{
			name: "orthogonal documents",
			entries: []vector.Entry{
				{ChunkID: "x", DocumentID: "d1", Vector: []float32{1, 0}},
				{ChunkID: "y", DocumentID: "d2", Vector: []float32{0, 1}},
			},
			query:  []float32{1, 0},
			k:      1,
			want:   []string{"x"},
			scores: []float32{1},
		},
		{
			name: "magnitude does not matter",
			entries: []vector.Entry{
				{ChunkID: "a", DocumentID: "d", Vector: []float32{10, 0}},
				{ChunkID: "b", DocumentID: "d", Vector: []float32{1, 1}},
			},
			query: []float32{0.5, 0},
			k:     2,
			want:  []string{"a", "b"},
		},
		{
			name: "ties broken by chunk id",
			entries: []vector.Entry{
				{ChunkID: "c", DocumentID: "d", Vector: []float32{1, 0}},
				{ChunkID: "a", DocumentID: "d", Vector: []float32{2, 0}},
				{ChunkID: "b", DocumentID: "d", Vector: []float32{3, 0}},
			},
			query: []float32{1, 0},
			k:     3,
			want:  []string{"a", "b", "c"},
		},
		{
			name: "k larger than size",
			entries: []vector.Entry{
				{ChunkID: "a", DocumentID: "d", Vector: []float32{1, 0}},
			},
			query: []float32{1, 0},
			k:     10,
			want:  []string{"a"},
		},
		{
			name: "k zero",
			entries: []vector.Entry{
				{ChunkID: "a", DocumentID: "d", Vector: []float32{1, 0}},
			},
			query: []float32{1, 0},
			k:     0,
			want:  []string{},
		},
		{
			name: "opposite vector scores minus one",
			entries: []vector.Entry{
				{ChunkID: "a", DocumentID: "d", Vector: []float32{-1, 0}},
			},
			query:  []float32{1, 0},
			k:      1,
			want:   []string{"a"},
			scores: []float32{-1},
		},
		{
			name: "zero vector scores zero",
			entries: []vector.Entry{
				{ChunkID: "z", DocumentID: "d", Vector: []float32{0, 0}},
			},
			query:  []float32{1, 0},
			k:      1,
			want:   []string{"z"},
			scores: []float32{0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := vector.NewMemoryIndex(2)
			require.NoError(t, idx.Add(ctx, tt.entries...))

			got, err := idx.Query(ctx, tt.query, tt.k)
			require.NoError(t, err)

			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.ChunkID
			}
			assert.Equal(t, tt.want, ids)
			for i, s := range tt.scores {
				assert.InDelta(t, s, got[i].Score, 1e-6)
			}
		})
	}
}

func TestMemoryIndex_ArgMax(t *testing.T) {
	ctx := context.Background()
	idx := vector.NewMemoryIndex(3)

	vecs := [][]float32{{1, 2, 3}, {-1, 0, 2}, {4, -1, 0}, {0.5, 0.5, 0.5}, {2, 2, -2}}
	for i, v := range vecs {
		require.NoError(t, idx.Add(ctx, vector.Entry{ChunkID: fmt.Sprintf("c%d", i), DocumentID: "d", Vector: v}))
	}

	for i, v := range vecs {
		got, err := idx.Query(ctx, v, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, fmt.Sprintf("c%d", i), got[0].ChunkID)
		assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	}

	all, err := idx.Query(ctx, []float32{1, 1, 1}, 5)
	require.NoError(t, err)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Score, all[i].Score)
	}
}

func TestMemoryIndex_AddReplaceAndRemove(t *testing.T) {
	ctx := context.Background()
	idx := vector.NewMemoryIndex(0)

	require.NoError(t, idx.Add(ctx,
		vector.Entry{ChunkID: "a", DocumentID: "d1", Vector: []float32{1, 0}},
		vector.Entry{ChunkID: "b", DocumentID: "d1", Vector: []float32{0, 1}},
		vector.Entry{ChunkID: "c", DocumentID: "d2", Vector: []float32{1, 1}},
	))

	// replacing moves the chunk to another document
	require.NoError(t, idx.Add(ctx, vector.Entry{ChunkID: "b", DocumentID: "d2", Vector: []float32{0, 1}}))
	n, _ := idx.Len(ctx)
	assert.Equal(t, 3, n)

	removed, err := idx.RemoveByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = idx.RemoveByDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	n, _ = idx.Len(ctx)
	assert.Equal(t, 2, n)
	assert.Len(t, idx.Entries(), 2)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := vector.NewMemoryIndex(2)

	err := idx.Add(ctx, vector.Entry{ChunkID: "a", DocumentID: "d", Vector: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	require.NoError(t, idx.Add(ctx, vector.Entry{ChunkID: "a", DocumentID: "d", Vector: []float32{1, 2}}))
	_, err = idx.Query(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestMemoryIndex_EmptyQueryResult(t *testing.T) {
	got, err := vector.NewMemoryIndex(4).Query(context.Background(), []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, "", vector.Digest(nil))
	assert.Equal(t, vector.Digest([]string{"b", "a"}), vector.Digest([]string{"a", "b"}))
	assert.NotEqual(t, vector.Digest([]string{"a"}), vector.Digest([]string{"a", "b"}))
}
