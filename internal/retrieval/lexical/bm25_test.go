package lexical

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
)

func testSnapshot() *corpus.Snapshot {
	return &corpus.Snapshot{
		Version:            1,
		TotalDocuments:     100,
		AverageChunkLength: 3,
		DocumentFrequency:  map[string]int64{"vpn": 5, "reset": 20, "network": 10},
	}
}

func noFolding() Params {
	p := DefaultParams()
	p.Folding.Enabled = false
	return p
}

func stats(freqs map[string]int, length int) *model.TermStats {
	return &model.TermStats{Frequencies: freqs, Length: length}
}

func TestIDF(t *testing.T) {
	got := IDF(100, 5)
	assert.InDelta(t, 2.906, got, 5e-3)
	assert.Equal(t, math.Log(95.5/5.5+1), got)

	// df above N in a stale snapshot behaves like df == N
	assert.Equal(t, IDF(100, 100), IDF(100, 150))
	assert.Greater(t, IDF(100, 100), 0.0)
}

func TestTermWeight(t *testing.T) {
	assert.InDelta(t, 1.375, termWeight(2, 3, 3, 1.2, 0.75), 1e-12)
	assert.Equal(t, 0.0, termWeight(0, 3, 3, 1.2, 0.75))
	assert.Equal(t, 0.0, termWeight(2, 3, 0, 1.2, 0.75))
}

func TestScore(t *testing.T) {
	s := NewScorer(noFolding(), nil)
	chunk := model.Chunk{ID: "c1", TermStats: stats(map[string]int{"vpn": 2, "reset": 1}, 3)}

	got := s.Score([]string{"vpn", "reset", "unseen"}, chunk, testSnapshot())
	want := 1.375*IDF(100, 5) + 1.0*IDF(100, 20)
	assert.InDelta(t, want, got, 1e-12)
}

func TestScoreBatchNormalizes(t *testing.T) {
	s := NewScorer(noFolding(), nil)
	chunks := []model.Chunk{
		{ID: "a", TermStats: stats(map[string]int{"vpn": 2}, 3)},
		{ID: "b", TermStats: stats(map[string]int{"vpn": 1}, 3)},
		{ID: "c", TermStats: stats(map[string]int{"printer": 3}, 3)},
	}
	results, err := s.ScoreBatch(context.Background(), []string{"vpn"}, chunks, testSnapshot())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.InDelta(t, results[1].Raw/results[0].Raw, results[1].Score, 1e-12)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestScoreBatchSingleMatch(t *testing.T) {
	s := NewScorer(noFolding(), nil)
	chunks := []model.Chunk{{ID: "only", Text: "vpn reset"}}
	results, err := s.ScoreBatch(context.Background(), []string{"vpn"}, chunks, testSnapshot())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)
}

func TestScoreBatchUnavailable(t *testing.T) {
	s := NewScorer(DefaultParams(), nil)
	_, err := s.ScoreBatch(context.Background(), []string{"vpn"}, []model.Chunk{{ID: "a"}}, nil)
	assert.ErrorIs(t, err, apperrors.ErrLexicalIndexUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ScoreBatch(ctx, []string{"vpn"}, []model.Chunk{{ID: "a", Text: "vpn"}}, testSnapshot())
	assert.ErrorIs(t, err, apperrors.ErrLexicalIndexUnavailable)
}

func TestScoreBatchNoTerms(t *testing.T) {
	s := NewScorer(DefaultParams(), nil)
	results, err := s.ScoreBatch(context.Background(), nil, []model.Chunk{{ID: "a", Text: "vpn"}}, testSnapshot())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMetadataFolding(t *testing.T) {
	chunk := model.Chunk{
		ID:        "c1",
		TermStats: stats(map[string]int{"printer": 3}, 3),
		Metadata:  model.ChunkMetadata{Categories: []string{"Networking"}, SourcePath: "docs/network/setup.md"},
	}
	snap := testSnapshot()

	assert.Equal(t, 0.0, NewScorer(noFolding(), nil).Score([]string{"network"}, chunk, snap))

	folded := NewScorer(DefaultParams(), nil).Score([]string{"network"}, chunk, snap)
	// category contributes 2.0 and the path segment 1.5
	want := IDF(100, 10) * termWeight(3.5, 3, 3, 1.2, 0.75)
	assert.InDelta(t, want, folded, 1e-12)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, Normalize([]float64{2, 4, 6}))
	assert.Equal(t, []float64{1, 1}, Normalize([]float64{3, 3}))
	assert.Equal(t, []float64{0, 0}, Normalize([]float64{0, 0}))
	assert.Empty(t, Normalize(nil))
}

func TestStatsCache(t *testing.T) {
	c := NewStatsCache(2)
	chunk := model.Chunk{ID: "a", Text: "vpn vpn reset"}

	first := c.Get(chunk)
	second := c.Get(chunk)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, first.Frequencies["vpn"])

	chunk.Text = "vpn"
	assert.Equal(t, 1, c.Get(chunk).Length)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func BenchmarkScoreBatch(b *testing.B) {
	snap := testSnapshot()
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("chunks_%d", n), func(b *testing.B) {
			chunks := make([]model.Chunk, n)
			for i := range chunks {
				chunks[i] = model.Chunk{
					ID:   fmt.Sprintf("chunk-%d", i),
					Text: "reset the vpn client after the network changes",
				}
			}
			s := NewScorer(DefaultParams(), NewStatsCache(n))
			terms := []string{"vpn", "reset", "network"}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.ScoreBatch(context.Background(), terms, chunks, snap); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
