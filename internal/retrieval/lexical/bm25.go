// Package lexical scores chunks against query terms with BM25 using the
// corpus statistics snapshot, and normalises the scores of a candidate batch
// into [0,1] so they can be combined with vector similarity.
package lexical

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
)

// Folding adds metadata tokens to a chunk's term frequencies. Each category
// token counts CategoryWeight occurrences and each source-path token counts
// PathWeight occurrences. Chunk length is left unchanged.
type Folding struct {
	Enabled        bool
	CategoryWeight float64
	PathWeight     float64
}

// Params holds the BM25 constants.
type Params struct {
	K1      float64
	B       float64
	Folding Folding
}

func DefaultParams() Params {
	return Params{
		K1: 1.2,
		B:  0.75,
		Folding: Folding{
			Enabled:        true,
			CategoryWeight: 2.0,
			PathWeight:     1.5,
		},
	}
}

// Result is one chunk's lexical score. Score is batch-normalised into [0,1];
// Raw is the unnormalised BM25 sum.
type Result struct {
	ChunkID    string
	DocumentID string
	Score      float64
	Raw        float64
}

// Scorer computes BM25 scores. It is safe for concurrent use.
type Scorer struct {
	params Params
	stats  *StatsCache
}

// NewScorer creates a Scorer. stats may be nil, in which case term
// statistics are derived from chunk text on every call.
func NewScorer(params Params, stats *StatsCache) *Scorer {
	return &Scorer{params: params, stats: stats}
}

// IDF returns ln((N - df + 0.5) / (df + 0.5) + 1). A df above N is clamped.
func IDF(totalDocs, docFreq int64) float64 {
	if docFreq > totalDocs {
		docFreq = totalDocs
	}
	if docFreq < 0 {
		docFreq = 0
	}
	n, df := float64(totalDocs), float64(docFreq)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// termWeight is the saturating term-frequency component of BM25.
func termWeight(tf, length, avgLength, k1, b float64) float64 {
	if tf <= 0 || avgLength <= 0 {
		return 0
	}
	denominator := tf + k1*(1-b+b*length/avgLength)
	return tf * (k1 + 1) / denominator
}

// Score returns the raw BM25 score of chunk for terms. Terms the snapshot
// has never seen contribute nothing.
func (s *Scorer) Score(terms []string, chunk model.Chunk, snap *corpus.Snapshot) float64 {
	if snap == nil || len(terms) == 0 {
		return 0
	}
	stats := s.termStats(chunk)
	folded := s.fold(chunk.Metadata)
	length := float64(stats.Length)

	var total float64
	for _, term := range terms {
		df := snap.DocFreq(term)
		if df == 0 {
			continue
		}
		tf := float64(stats.Frequencies[term]) + folded[term]
		total += IDF(snap.TotalDocuments, df) * termWeight(tf, length, snap.AverageChunkLength, s.params.K1, s.params.B)
	}
	return total
}

// ScoreBatch scores every chunk and min-max normalises the raw scores across
// the whole batch. Only chunks with a positive raw score are returned, in
// input order. A nil snapshot or a cancelled context makes the signal
// unavailable.
func (s *Scorer) ScoreBatch(ctx context.Context, terms []string, chunks []model.Chunk, snap *corpus.Snapshot) ([]Result, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: no corpus snapshot loaded", apperrors.ErrLexicalIndexUnavailable)
	}
	if len(terms) == 0 || len(chunks) == 0 {
		return nil, nil
	}

	raw := make([]float64, len(chunks))
	for i, chunk := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrLexicalIndexUnavailable, err)
			}
		}
		raw[i] = s.Score(terms, chunk, snap)
	}

	normalized := Normalize(raw)
	results := make([]Result, 0, len(chunks))
	for i, chunk := range chunks {
		if raw[i] <= 0 {
			continue
		}
		results = append(results, Result{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Score:      normalized[i],
			Raw:        raw[i],
		})
	}
	return results, nil
}

// Normalize min-max scales scores into [0,1]. When every score is equal,
// positive scores map to 1 and the rest to 0.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, v := range scores[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range scores {
		switch {
		case span == 0 && v > 0:
			out[i] = 1
		case span == 0:
			out[i] = 0
		default:
			out[i] = (v - lo) / span
		}
	}
	return out
}

func (s *Scorer) termStats(chunk model.Chunk) model.TermStats {
	if chunk.TermStats != nil {
		return *chunk.TermStats
	}
	if s.stats != nil {
		return s.stats.Get(chunk)
	}
	return tokenizer.Stats(chunk.Text)
}

func (s *Scorer) fold(meta model.ChunkMetadata) map[string]float64 {
	f := s.params.Folding
	if !f.Enabled {
		return nil
	}
	folded := make(map[string]float64)
	for _, category := range meta.Categories {
		for _, term := range tokenizer.Tokenize(category) {
			folded[term] += f.CategoryWeight
		}
	}
	if meta.SourcePath != "" {
		for _, segment := range strings.Split(meta.SourcePath, "/") {
			for _, term := range tokenizer.Tokenize(segment) {
				folded[term] += f.PathWeight
			}
		}
	}
	return folded
}
