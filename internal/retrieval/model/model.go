// Package model holds the data types that flow through the retrieval
// pipeline: chunks, the analysed query, scored candidates and the final
// result with its degradation reasons.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
)

// TermStats holds per-chunk token counts used by the lexical scorer.
type TermStats struct {
	Frequencies map[string]int `json:"frequencies"`
	Length      int            `json:"length"`
}

// ChunkMetadata is used for filtering and optional lexical folding only.
// TechnicalLevel 0 means the level is unknown.
type ChunkMetadata struct {
	Categories     []string `json:"categories,omitempty"`
	TechnicalLevel int      `json:"technical_level,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Entities       []string `json:"entities,omitempty"`
	SourcePath     string   `json:"source_path,omitempty"`
}

// Chunk is a retrievable unit of text. The engine never mutates chunks.
type Chunk struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	Text       string        `json:"text"`
	Embedding  []float64     `json:"embedding,omitempty"`
	TermStats  *TermStats    `json:"term_stats,omitempty"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// LevelRange is an inclusive technical-level range.
type LevelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether level lies in the range. Unknown levels (0) pass.
func (r LevelRange) Contains(level int) bool {
	if level == 0 {
		return true
	}
	return level >= r.Min && level <= r.Max
}

// Weights is a vector/lexical weight pair.
type Weights struct {
	Vector  float64 `json:"vector"`
	Lexical float64 `json:"lexical"`
}

// IsZero reports whether neither weight was set.
func (w Weights) IsZero() bool {
	return w.Vector == 0 && w.Lexical == 0
}

// Usable reports whether anything is left after clamping. A pair like
// (-1, 0) is set but carries no weight, and callers treat it as unset.
func (w Weights) Usable() bool {
	return clampWeight(w.Vector)+clampWeight(w.Lexical) > 0
}

// Normalize clamps negative or NaN weights to zero and rescales the pair so
// it sums to 1. A pair with nothing left falls back to an even split.
func (w Weights) Normalize() Weights {
	v, l := clampWeight(w.Vector), clampWeight(w.Lexical)
	sum := v + l
	if sum == 0 {
		return Weights{Vector: 0.5, Lexical: 0.5}
	}
	if sum == 1 {
		return Weights{Vector: v, Lexical: l}
	}
	return Weights{Vector: v / sum, Lexical: l / sum}
}

func clampWeight(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if math.IsInf(x, 1) {
		return 1
	}
	return x
}

// QueryContext is the analysed query, built by an upstream analyzer and
// consumed once.
type QueryContext struct {
	RawText             string      `json:"raw_text"`
	Keywords            []string    `json:"keywords,omitempty"`
	PrimaryCategory     string      `json:"primary_category,omitempty"`
	SecondaryCategories []string    `json:"secondary_categories,omitempty"`
	RequiredEntities    []string    `json:"required_entities,omitempty"`
	TechnicalLevel      *LevelRange `json:"technical_level,omitempty"`
	VectorWeight        float64     `json:"vector_weight"`
	LexicalWeight       float64     `json:"lexical_weight"`
}

// Weights returns the query's weight pair as given.
func (q QueryContext) Weights() Weights {
	return Weights{Vector: q.VectorWeight, Lexical: q.LexicalWeight}
}

// Validate rejects queries with nothing to search for and malformed ranges.
// Weight problems are corrected later, never rejected.
func (q QueryContext) Validate() error {
	if strings.TrimSpace(q.RawText) == "" && len(q.Keywords) == 0 {
		return fmt.Errorf("%w: query has neither raw text nor keywords", apperrors.ErrInvalidInput)
	}
	if q.TechnicalLevel != nil && q.TechnicalLevel.Min > q.TechnicalLevel.Max {
		return fmt.Errorf("%w: technical level range [%d,%d] is empty",
			apperrors.ErrInvalidInput, q.TechnicalLevel.Min, q.TechnicalLevel.Max)
	}
	return nil
}

// Source records which signals found a candidate.
type Source string

const (
	SourceVector  Source = "vector"
	SourceLexical Source = "lexical"
	SourceBoth    Source = "both"
)

// ScoredCandidate is the engine's working unit. RerankScore is set only
// after a successful rerank.
type ScoredCandidate struct {
	ChunkID       string   `json:"chunk_id"`
	DocumentID    string   `json:"document_id"`
	VectorScore   float64  `json:"vector_score"`
	LexicalScore  float64  `json:"lexical_score"`
	CombinedScore float64  `json:"combined_score"`
	RerankScore   *float64 `json:"rerank_score,omitempty"`
	Source        Source   `json:"source"`
}

// IsReranked reports whether the reranker judged this candidate.
func (c ScoredCandidate) IsReranked() bool {
	return c.RerankScore != nil
}

// Less is the total order used everywhere candidates are sorted: combined
// score descending, then vector score descending, then chunk id ascending.
func Less(a, b ScoredCandidate) bool {
	if a.CombinedScore != b.CombinedScore {
		return a.CombinedScore > b.CombinedScore
	}
	if a.VectorScore != b.VectorScore {
		return a.VectorScore > b.VectorScore
	}
	return a.ChunkID < b.ChunkID
}

// Stage names a cascade stage.
type Stage string

const (
	StageStrict      Stage = "strict"
	StageRelaxed     Stage = "relaxed"
	StageLexicalOnly Stage = "lexical_only"
	StageExpanded    Stage = "expanded"
)

// Reason is a machine-readable degradation code.
type Reason string

const (
	ReasonEmbeddingUnavailable Reason = "embedding_unavailable"
	ReasonLexicalUnavailable   Reason = "lexical_unavailable"
	ReasonFallbackRelaxed      Reason = "fallback_relaxed"
	ReasonFallbackLexicalOnly  Reason = "fallback_lexical_only"
	ReasonFallbackExpanded     Reason = "fallback_expanded"
	ReasonBelowMinimum         Reason = "below_minimum"
	ReasonRerankTimeout        Reason = "rerank_timeout"
	ReasonRerankMalformed      Reason = "rerank_malformed"
	ReasonRerankFailed         Reason = "rerank_failed"
	ReasonNoResults            Reason = "no_results"
)

// ReasonFor maps a sentinel error onto its reason code.
func ReasonFor(err error) Reason {
	switch {
	case errors.Is(err, apperrors.ErrEmbeddingUnavailable):
		return ReasonEmbeddingUnavailable
	case errors.Is(err, apperrors.ErrLexicalIndexUnavailable):
		return ReasonLexicalUnavailable
	case errors.Is(err, apperrors.ErrRerankTimeout):
		return ReasonRerankTimeout
	case errors.Is(err, apperrors.ErrRerankMalformedResponse):
		return ReasonRerankMalformed
	case errors.Is(err, apperrors.ErrNoResults):
		return ReasonNoResults
	default:
		return ReasonRerankFailed
	}
}

// RetrievalResult is the engine's output.
type RetrievalResult struct {
	RetrievalID     string            `json:"retrieval_id"`
	Candidates      []ScoredCandidate `json:"candidates"`
	Degraded        bool              `json:"degraded"`
	Reasons         []Reason          `json:"reasons,omitempty"`
	Stage           Stage             `json:"stage"`
	SnapshotVersion int64             `json:"snapshot_version"`
}

// AddReason records reason once and marks the result degraded. An empty
// result is reported but is not by itself a degradation.
func (r *RetrievalResult) AddReason(reason Reason) {
	if reason != ReasonNoResults {
		r.Degraded = true
	}
	for _, existing := range r.Reasons {
		if existing == reason {
			return
		}
	}
	r.Reasons = append(r.Reasons, reason)
}

// HasReason reports whether reason was recorded.
func (r RetrievalResult) HasReason(reason Reason) bool {
	for _, existing := range r.Reasons {
		if existing == reason {
			return true
		}
	}
	return false
}

// ChunkIDs returns the candidate ids in order.
func (r RetrievalResult) ChunkIDs() []string {
	ids := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.ChunkID
	}
	return ids
}
