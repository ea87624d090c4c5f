// Package cascade runs progressively looser retrieval stages until one
// produces enough candidates, falling back to the best attempt when none
// does.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/merger"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/logger"
)

// ErrAllStagesFailed is returned when no stage produced an attempt at all.
var ErrAllStagesFailed = errors.New("every cascade stage failed")

// Descriptor describes one stage: which filters it applies and how it
// changes the signals feeding the merge.
type Descriptor struct {
	Name   model.Stage
	Filter func(model.QueryContext) merger.Filter
	// LexicalOnly drops the vector contribution (vector weight 0).
	LexicalOnly bool
	// ExpandQuery augments the keywords through the expansion service.
	ExpandQuery bool
	// NeedsInitialSignal marks stages that only reuse the signals gathered
	// up front. They are skipped when both of those failed.
	NeedsInitialSignal bool
	// Reason is recorded when this stage's output is returned.
	Reason model.Reason
}

// Stages returns the fixed escalation order.
func Stages() []Descriptor {
	return []Descriptor{
		{
			Name:               model.StageStrict,
			Filter:             merger.StrictFilter,
			NeedsInitialSignal: true,
		},
		{
			Name:               model.StageRelaxed,
			Filter:             merger.RelaxedFilter,
			NeedsInitialSignal: true,
			Reason:             model.ReasonFallbackRelaxed,
		},
		{
			Name:        model.StageLexicalOnly,
			Filter:      merger.RelaxedFilter,
			LexicalOnly: true,
			Reason:      model.ReasonFallbackLexicalOnly,
		},
		{
			Name:        model.StageExpanded,
			Filter:      merger.StrictFilter,
			ExpandQuery: true,
			Reason:      model.ReasonFallbackExpanded,
		},
	}
}

// Plan filters stages for a request. When both initial signals failed only
// the stages that re-attempt a signal remain.
func Plan(stages []Descriptor, bothSignalsFailed bool) []Descriptor {
	if !bothSignalsFailed {
		return stages
	}
	out := make([]Descriptor, 0, len(stages))
	for _, s := range stages {
		if !s.NeedsInitialSignal {
			out = append(out, s)
		}
	}
	return out
}

// AttemptFunc runs one stage and returns its filtered, ordered candidates.
type AttemptFunc func(ctx context.Context, stage Descriptor) ([]model.ScoredCandidate, error)

// Attempt records what one stage produced.
type Attempt struct {
	Stage model.Stage
	Count int
	Err   error
}

// Outcome is the cascade's decision.
type Outcome struct {
	Candidates []model.ScoredCandidate
	Stage      model.Stage
	Degraded   bool
	Reasons    []model.Reason
	Attempts   []Attempt
}

type attempt struct {
	stage      Descriptor
	candidates []model.ScoredCandidate
	index      int
}

// Run tries stages in order and stops at the first whose candidate count
// reaches minAcceptable. If none does, the best attempt wins: most
// candidates, then highest top score, then earliest stage. observe, if
// non-nil, is called before each stage runs.
func Run(ctx context.Context, stages []Descriptor, minAcceptable int, run AttemptFunc, observe func(Descriptor)) (Outcome, error) {
	log := logger.FromContext(ctx).With("component", "cascade")
	var out Outcome
	var best *attempt
	var winner *attempt
	var lastErr error

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		if observe != nil {
			observe(stage)
		}
		candidates, err := run(ctx, stage)
		if err != nil {
			log.Warn("cascade stage failed", "stage", stage.Name, "error", err)
			out.Attempts = append(out.Attempts, Attempt{Stage: stage.Name, Err: err})
			lastErr = err
			continue
		}
		out.Attempts = append(out.Attempts, Attempt{Stage: stage.Name, Count: len(candidates)})
		current := &attempt{stage: stage, candidates: candidates, index: i}
		if len(candidates) >= minAcceptable {
			winner = current
			break
		}
		log.Debug("cascade stage below minimum",
			"stage", stage.Name,
			"count", len(candidates),
			"min_acceptable", minAcceptable,
		)
		if best == nil || better(current, best) {
			best = current
		}
	}

	if winner == nil {
		if best == nil {
			if lastErr == nil {
				lastErr = errors.New("no stages planned")
			}
			return out, fmt.Errorf("%w: %w", ErrAllStagesFailed, lastErr)
		}
		winner = best
		out.Reasons = append(out.Reasons, model.ReasonBelowMinimum)
		out.Degraded = true
	}

	out.Candidates = winner.candidates
	out.Stage = winner.stage.Name
	if winner.stage.Reason != "" {
		out.Reasons = append([]model.Reason{winner.stage.Reason}, out.Reasons...)
		out.Degraded = true
	}
	if len(out.Candidates) == 0 {
		out.Reasons = append(out.Reasons, model.ReasonNoResults)
		log.Warn("retrieval produced no candidates",
			"error", apperrors.ErrNoResults,
			"stage", out.Stage,
			"attempts", len(out.Attempts),
		)
	}
	return out, nil
}

func better(a, b *attempt) bool {
	if len(a.candidates) != len(b.candidates) {
		return len(a.candidates) > len(b.candidates)
	}
	if top(a) != top(b) {
		return top(a) > top(b)
	}
	return a.index < b.index
}

func top(a *attempt) float64 {
	if len(a.candidates) == 0 {
		return -1
	}
	return a.candidates[0].CombinedScore
}
