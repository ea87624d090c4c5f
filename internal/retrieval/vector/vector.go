// Package vector scores chunks by cosine similarity between the query
// embedding and each chunk embedding, rescaled from [-1,1] into [0,1].
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
)

// minVariance is the smallest component variance a query embedding may have
// before it is treated as degenerate.
const minVariance = 1e-9

var errZeroNorm = errors.New("zero-norm embedding")

// Result is one chunk's rescaled similarity.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// Cosine returns the cosine similarity of a and b in [-1,1].
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, apperrors.DimensionMismatch(len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, errZeroNorm
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, cos)), nil
}

// Score returns the similarity of query and chunk rescaled to [0,1].
func Score(query, chunk []float64) (float64, error) {
	cos, err := Cosine(query, chunk)
	if err != nil {
		return 0, err
	}
	return (cos + 1) / 2, nil
}

// ValidateQuery rejects query embeddings that cannot rank anything: empty,
// non-finite, zero-norm or near-constant vectors.
func ValidateQuery(embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty query embedding", apperrors.ErrEmbeddingUnavailable)
	}
	var sum, norm float64
	for _, v := range embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: query embedding has non-finite components", apperrors.ErrEmbeddingUnavailable)
		}
		sum += v
		norm += v * v
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero-norm query embedding", apperrors.ErrEmbeddingUnavailable)
	}
	mean := sum / float64(len(embedding))
	var variance float64
	for _, v := range embedding {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(embedding))
	if variance < minVariance {
		return fmt.Errorf("%w: degenerate query embedding (variance %.3g)", apperrors.ErrEmbeddingUnavailable, variance)
	}
	return nil
}

// ScoreBatch scores every chunk with an embedding. Chunks whose embedding
// has the wrong dimensionality or zero norm are skipped and counted.
func ScoreBatch(ctx context.Context, query []float64, chunks []model.Chunk) ([]Result, int, error) {
	if err := ValidateQuery(query); err != nil {
		return nil, 0, err
	}
	logger := slog.Default().With("component", "vector-scorer")
	results := make([]Result, 0, len(chunks))
	skipped := 0
	for i, chunk := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, skipped, fmt.Errorf("%w: %v", apperrors.ErrEmbeddingUnavailable, err)
			}
		}
		if len(chunk.Embedding) == 0 {
			continue
		}
		score, err := Score(query, chunk.Embedding)
		if err != nil {
			skipped++
			logger.Debug("chunk excluded from vector scoring", "chunk_id", chunk.ID, "error", err)
			continue
		}
		results = append(results, Result{ChunkID: chunk.ID, DocumentID: chunk.DocumentID, Score: score})
	}
	return results, skipped, nil
}
