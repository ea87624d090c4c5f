package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
)

func TestScoreRescales(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, 0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Score(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestDimensionMismatch(t *testing.T) {
	_, err := Score([]float64{1, 2, 3}, []float64{1, 2})
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
}

func TestValidateQuery(t *testing.T) {
	assert.NoError(t, ValidateQuery([]float64{0.1, -0.4, 0.9}))
	for name, q := range map[string][]float64{
		"empty":    nil,
		"zero":     {0, 0, 0},
		"constant": {0.5, 0.5, 0.5, 0.5},
	} {
		assert.ErrorIs(t, ValidateQuery(q), apperrors.ErrEmbeddingUnavailable, name)
	}
}

func TestScoreBatchSkipsBadChunks(t *testing.T) {
	chunks := []model.Chunk{
		{ID: "ok", Embedding: []float64{1, 0, 0}},
		{ID: "short", Embedding: []float64{1, 0}},
		{ID: "zero", Embedding: []float64{0, 0, 0}},
		{ID: "unembedded"},
		{ID: "far", Embedding: []float64{-1, 0, 0}},
	}
	results, skipped, err := ScoreBatch(context.Background(), []float64{1, 0.2, 0}, chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, results, 2)
	assert.Equal(t, "ok", results[0].ChunkID)
	assert.Equal(t, "far", results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestScoreBatchDegenerateQuery(t *testing.T) {
	_, _, err := ScoreBatch(context.Background(), []float64{0, 0}, []model.Chunk{{ID: "a", Embedding: []float64{1, 0}}})
	assert.ErrorIs(t, err, apperrors.ErrEmbeddingUnavailable)
}
