package chunkstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres/pgtest"
)

func TestPutAndGet(t *testing.T) {
	pg := pgtest.Open(t, "chunks")
	store := New(pg)
	ctx := context.Background()

	chunks := []model.Chunk{
		{
			ID: "c1", DocumentID: "d1", Text: "vpn tunnel drops",
			Embedding: []float64{0.1, 0.2, 0.3},
			TermStats: &model.TermStats{Frequencies: map[string]int{"vpn": 1, "tunnel": 1, "drop": 1}, Length: 3},
			Metadata: model.ChunkMetadata{
				Categories: []string{"network"}, TechnicalLevel: 2,
				Entities: []string{"AnyConnect"}, SourcePath: "kb/network/vpn.md",
			},
		},
		{ID: "c2", DocumentID: "d1", Text: "no embedding here"},
	}
	require.NoError(t, store.Put(ctx, chunks))

	got, missing, err := store.Get(ctx, []string{"c2", "nope", "c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, missing)
	require.Len(t, got, 2)

	assert.Equal(t, "c2", got[0].ID)
	assert.Nil(t, got[0].Embedding)
	assert.Nil(t, got[0].TermStats)

	c1 := got[1]
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, c1.Embedding)
	require.NotNil(t, c1.TermStats)
	assert.Equal(t, 3, c1.TermStats.Length)
	assert.Equal(t, 1, c1.TermStats.Frequencies["tunnel"])
	assert.Equal(t, []string{"network"}, c1.Metadata.Categories)
	assert.Equal(t, "kb/network/vpn.md", c1.Metadata.SourcePath)

	chunks[1].Text = "updated text"
	require.NoError(t, store.Put(ctx, chunks[1:]))
	got, _, err = store.Get(ctx, []string{"c2"})
	require.NoError(t, err)
	assert.Equal(t, "updated text", got[0].Text)
}

func TestGetEmpty(t *testing.T) {
	store := New(nil)
	got, missing, err := store.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, missing)
}
