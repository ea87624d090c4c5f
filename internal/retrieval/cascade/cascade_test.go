package cascade

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
)

func candidates(n int, top float64) []model.ScoredCandidate {
	out := make([]model.ScoredCandidate, n)
	for i := range out {
		out[i] = model.ScoredCandidate{ChunkID: fmt.Sprintf("c%d", i), CombinedScore: top - float64(i)*0.01}
	}
	return out
}

type scripted map[model.Stage]struct {
	n   int
	top float64
	err error
}

func (s scripted) run(_ context.Context, stage Descriptor) ([]model.ScoredCandidate, error) {
	r := s[stage.Name]
	if r.err != nil {
		return nil, r.err
	}
	return candidates(r.n, r.top), nil
}

func TestStrictStageWins(t *testing.T) {
	script := scripted{model.StageStrict: {n: 5, top: 0.9}}
	var observed []model.Stage
	out, err := Run(context.Background(), Stages(), 3, script.run, func(d Descriptor) { observed = append(observed, d.Name) })
	require.NoError(t, err)

	assert.Equal(t, model.StageStrict, out.Stage)
	assert.False(t, out.Degraded)
	assert.Empty(t, out.Reasons)
	assert.Len(t, out.Candidates, 5)
	assert.Equal(t, []model.Stage{model.StageStrict}, observed)
}

func TestRelaxedFallback(t *testing.T) {
	script := scripted{
		model.StageStrict:  {n: 0},
		model.StageRelaxed: {n: 4, top: 0.7},
	}
	out, err := Run(context.Background(), Stages(), 3, script.run, nil)
	require.NoError(t, err)

	assert.Equal(t, model.StageRelaxed, out.Stage)
	assert.True(t, out.Degraded)
	assert.Equal(t, []model.Reason{model.ReasonFallbackRelaxed}, out.Reasons)
	assert.Len(t, out.Candidates, 4)
}

func TestBestAttemptWhenNoStageMeetsMinimum(t *testing.T) {
	tests := []struct {
		name      string
		script    scripted
		wantStage model.Stage
	}{
		{
			name: "highest count",
			script: scripted{
				model.StageStrict:      {n: 1, top: 0.9},
				model.StageRelaxed:     {n: 2, top: 0.5},
				model.StageLexicalOnly: {n: 1, top: 0.99},
				model.StageExpanded:    {n: 0},
			},
			wantStage: model.StageRelaxed,
		},
		{
			name: "tie broken by top score",
			script: scripted{
				model.StageStrict:      {n: 2, top: 0.4},
				model.StageRelaxed:     {n: 2, top: 0.4},
				model.StageLexicalOnly: {n: 2, top: 0.8},
				model.StageExpanded:    {n: 1, top: 0.9},
			},
			wantStage: model.StageLexicalOnly,
		},
		{
			name: "full tie keeps earliest",
			script: scripted{
				model.StageStrict:      {n: 2, top: 0.4},
				model.StageRelaxed:     {n: 2, top: 0.4},
				model.StageLexicalOnly: {n: 2, top: 0.4},
				model.StageExpanded:    {n: 2, top: 0.4},
			},
			wantStage: model.StageStrict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Run(context.Background(), Stages(), 5, tt.script.run, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, out.Stage)
			assert.True(t, out.Degraded)
			assert.Contains(t, out.Reasons, model.ReasonBelowMinimum)
			assert.Len(t, out.Attempts, 4)
		})
	}
}

func TestEmptyResultIsNotAnError(t *testing.T) {
	out, err := Run(context.Background(), Stages(), 3, scripted{}.run, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Candidates)
	assert.Equal(t, model.StageStrict, out.Stage)
	assert.Equal(t, []model.Reason{model.ReasonBelowMinimum, model.ReasonNoResults}, out.Reasons)
}

func TestFailedStagesAreSkipped(t *testing.T) {
	boom := errors.New("expansion service down")
	script := scripted{
		model.StageStrict:      {n: 1, top: 0.5},
		model.StageRelaxed:     {n: 1, top: 0.5},
		model.StageLexicalOnly: {err: boom},
		model.StageExpanded:    {err: boom},
	}
	out, err := Run(context.Background(), Stages(), 2, script.run, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StageStrict, out.Stage)
	assert.ErrorIs(t, out.Attempts[2].Err, boom)
}

func TestAllStagesFailed(t *testing.T) {
	boom := errors.New("no signal")
	script := scripted{
		model.StageLexicalOnly: {err: boom},
		model.StageExpanded:    {err: boom},
	}
	_, err := Run(context.Background(), Plan(Stages(), true), 1, script.run, nil)
	assert.ErrorIs(t, err, ErrAllStagesFailed)
	assert.ErrorIs(t, err, boom)
}

func TestPlanSkipsSignalDependentStages(t *testing.T) {
	assert.Len(t, Plan(Stages(), false), 4)

	planned := Plan(Stages(), true)
	require.Len(t, planned, 2)
	assert.Equal(t, model.StageLexicalOnly, planned[0].Name)
	assert.Equal(t, model.StageExpanded, planned[1].Name)
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Stages(), 1, scripted{}.run, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
