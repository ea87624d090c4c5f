// Package rerank reorders the top of a merged candidate list using one
// batched call to an external relevance judge. Reranking either improves the
// order or leaves it untouched; it never fails a retrieval.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/merger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/resilience"
)

// MaxScore is the top of the judge's scale.
const MaxScore = 10.0

// Candidate is one item of a judge request.
type Candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Judge scores each candidate's relevance to query on a 0-10 scale and
// returns one score per candidate, in order.
type Judge interface {
	Judge(ctx context.Context, query string, candidates []Candidate) ([]float64, error)
}

// Config controls one rerank pass.
type Config struct {
	Enabled bool
	TopK    int
	Timeout time.Duration
	// Weight is the share of the final score taken by the judge.
	Weight float64
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TopK:    10,
		Timeout: 1500 * time.Millisecond,
		Weight:  0.6,
	}
}

// Outcome labels what happened to a rerank pass.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// Result is the reranked list. On any failure Candidates equals the input
// order and Degraded is set with a reason.
type Result struct {
	Candidates []model.ScoredCandidate
	Outcome    Outcome
	Degraded   bool
	Reason     model.Reason
}

// Reranker wraps a Judge with a timeout and an optional circuit breaker. It
// never retries.
type Reranker struct {
	judge   Judge
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Reranker. breaker may be nil.
func New(judge Judge, breaker *resilience.CircuitBreaker) *Reranker {
	return &Reranker{
		judge:   judge,
		breaker: breaker,
		logger:  slog.Default().With("component", "reranker"),
	}
}

// Rerank judges the first cfg.TopK candidates and blends the judgment into
// their combined score. The full list is then re-sorted, so the output stays
// ordered by CombinedScore and a poorly judged head candidate can fall
// behind unjudged ones. text resolves a chunk id to its text.
func (r *Reranker) Rerank(ctx context.Context, cfg Config, query string, candidates []model.ScoredCandidate, text func(chunkID string) string) Result {
	unchanged := append([]model.ScoredCandidate(nil), candidates...)
	if !cfg.Enabled || r == nil || r.judge == nil || len(candidates) == 0 || cfg.TopK <= 0 {
		return Result{Candidates: unchanged, Outcome: OutcomeSkipped}
	}

	k := min(cfg.TopK, len(candidates))
	batch := make([]Candidate, k)
	for i, c := range candidates[:k] {
		batch[i] = Candidate{ID: c.ChunkID, Text: text(c.ChunkID)}
	}

	scores, err := r.call(ctx, cfg.Timeout, query, batch)
	if err == nil {
		err = validate(scores, k)
	}
	if err != nil {
		outcome, reason := classify(err)
		logger.FromContext(ctx).Warn("rerank skipped, keeping merged order",
			"component", "reranker",
			"outcome", outcome,
			"batch", k,
			"error", err,
		)
		return Result{Candidates: unchanged, Outcome: outcome, Degraded: true, Reason: reason}
	}

	w := math.Max(0, math.Min(1, cfg.Weight))
	head := make([]model.ScoredCandidate, k)
	for i, c := range candidates[:k] {
		score := scores[i]
		c.RerankScore = &score
		c.CombinedScore = w*score/MaxScore + (1-w)*c.CombinedScore
		head[i] = c
	}
	// Blending can pull a head score below the unjudged tail, so the whole
	// list is re-sorted to keep the output ordered by CombinedScore.
	out := append(head, candidates[k:]...)
	merger.Sort(out)
	return Result{Candidates: out, Outcome: OutcomeOK}
}

func (r *Reranker) call(ctx context.Context, timeout time.Duration, query string, batch []Candidate) ([]float64, error) {
	var scores []float64
	err := resilience.WithTimeout(ctx, timeout, "rerank", func(ctx context.Context) error {
		judge := func() error {
			s, err := r.judge.Judge(ctx, query, batch)
			if err != nil {
				return err
			}
			scores = s
			return nil
		}
		if r.breaker == nil {
			return judge()
		}
		return r.breaker.Execute(judge)
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func validate(scores []float64, want int) error {
	if len(scores) != want {
		return fmt.Errorf("%w: %d scores for %d candidates", apperrors.ErrRerankMalformedResponse, len(scores), want)
	}
	for i, s := range scores {
		if math.IsNaN(s) || s < 0 || s > MaxScore {
			return fmt.Errorf("%w: score %d out of range: %v", apperrors.ErrRerankMalformedResponse, i, s)
		}
	}
	return nil
}

func classify(err error) (Outcome, model.Reason) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, apperrors.ErrRerankTimeout):
		return OutcomeTimeout, model.ReasonRerankTimeout
	case errors.Is(err, apperrors.ErrRerankMalformedResponse):
		return OutcomeMalformed, model.ReasonRerankMalformed
	default:
		return OutcomeFailed, model.ReasonRerankFailed
	}
}
