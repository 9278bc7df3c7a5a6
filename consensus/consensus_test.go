package consensus

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/hivemind/worker"
)

func scored(name string, score float64) worker.Result {
	return worker.Result{
		WorkerName: name,
		Success:    true,
		Data:       map[string]any{"score": score},
	}
}

func TestDecide_Approve(t *testing.T) {
	e := New(slog.Default())

	decision, err := e.Decide("evaluate", map[string]worker.Result{
		worker.NameMaths:    scored(worker.NameMaths, 85),
		worker.NameSecurity: scored(worker.NameSecurity, 90),
		worker.NameData:     scored(worker.NameData, 85),
		worker.NameTreasury: scored(worker.NameTreasury, 80),
	})
	require.NoError(t, err)

	// (85*.25 + 90*.30 + 85*.15 + 80*.20) / 0.90
	assert.InDelta(t, 85.56, decision.Score, 0.01)
	assert.Equal(t, ActionApprove, decision.Action)
	assert.Equal(t, ConfidenceHigh, decision.Confidence)
	assert.False(t, decision.RequiresHumanApproval)
	assert.Len(t, decision.Factors, 4)
}

func TestDecide_FailedSourceScoresZero(t *testing.T) {
	e := New(slog.Default())

	decision, err := e.Decide("evaluate", map[string]worker.Result{
		worker.NameMaths:    scored(worker.NameMaths, 90),
		worker.NameSecurity: {WorkerName: worker.NameSecurity, Success: false, Error: "timeout"},
	})
	require.NoError(t, err)

	// (90*.25 + 0*.30) / 0.55
	assert.InDelta(t, 40.9, decision.Score, 0.1)
	assert.Equal(t, ActionReject, decision.Action)
}

func TestDecide_ReviewBand(t *testing.T) {
	e := New(slog.Default())

	decision, err := e.Decide("evaluate", map[string]worker.Result{
		worker.NameMaths: scored(worker.NameMaths, 60),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionReview, decision.Action)
	assert.True(t, decision.RequiresHumanApproval)
}

func TestDecide_ActionBoundaries(t *testing.T) {
	e := New(slog.Default())

	tests := []struct {
		score float64
		want  Action
	}{
		{score: 70, want: ActionApprove},
		{score: 69.9, want: ActionReview},
		{score: 50, want: ActionReview},
		{score: 49.9, want: ActionReject},
	}
	for _, tt := range tests {
		decision, err := e.Decide("evaluate", map[string]worker.Result{
			worker.NameMaths: scored(worker.NameMaths, tt.score),
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, decision.Action, "score %.1f", tt.score)
	}
}

func TestDecide_ConfidenceGrades(t *testing.T) {
	e := New(slog.Default())

	tests := []struct {
		score float64
		want  Confidence
	}{
		{score: 90, want: ConfidenceHigh},   // 20 above approve boundary
		{score: 78, want: ConfidenceMedium}, // 8 above
		{score: 72, want: ConfidenceLow},    // 2 above
		{score: 20, want: ConfidenceHigh},   // 30 below reject boundary
		{score: 60, want: ConfidenceMedium}, // review midpoint, 10 from both
	}
	for _, tt := range tests {
		decision, err := e.Decide("evaluate", map[string]worker.Result{
			worker.NameMaths: scored(worker.NameMaths, tt.score),
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, decision.Confidence, "score %.0f", tt.score)
	}
}

func TestDecide_EmptyInputs(t *testing.T) {
	e := New(slog.Default())
	_, err := e.Decide("evaluate", nil)
	assert.Error(t, err)
}

func TestBuildConsensus(t *testing.T) {
	e := New(slog.Default())

	tests := []struct {
		name         string
		votes        []Vote
		consensus    string
		strength     string
		approveShare float64
	}{
		{
			name: "strong approve",
			votes: []Vote{
				{Source: "a", Choice: VoteApprove, Weight: 0.8},
				{Source: "b", Choice: VoteReject, Weight: 0.2},
			},
			consensus: "approve", strength: "strong", approveShare: 80,
		},
		{
			name: "strong reject",
			votes: []Vote{
				{Source: "a", Choice: VoteReject, Weight: 0.75},
				{Source: "b", Choice: VoteApprove, Weight: 0.25},
			},
			consensus: "reject", strength: "strong", approveShare: 25,
		},
		{
			name: "weak approve with abstention excluded",
			votes: []Vote{
				{Source: "a", Choice: VoteApprove, Weight: 0.3},
				{Source: "b", Choice: VoteReject, Weight: 0.2},
				{Source: "c", Choice: VoteAbstain, Weight: 0.5},
			},
			consensus: "approve", strength: "weak", approveShare: 60,
		},
		{
			name: "exact tie is split",
			votes: []Vote{
				{Source: "a", Choice: VoteApprove, Weight: 0.5},
				{Source: "b", Choice: VoteReject, Weight: 0.5},
			},
			consensus: "split", strength: "weak", approveShare: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.BuildConsensus(tt.votes)
			require.NoError(t, err)
			assert.Equal(t, tt.consensus, result.Consensus)
			assert.Equal(t, tt.strength, result.Strength)
			assert.InDelta(t, tt.approveShare, result.Percentages["approve"], 0.01)
		})
	}
}

func TestBuildConsensus_AllAbstain(t *testing.T) {
	e := New(slog.Default())
	_, err := e.BuildConsensus([]Vote{{Source: "a", Choice: VoteAbstain, Weight: 1}})
	assert.Error(t, err)
}

func TestResolveConflict(t *testing.T) {
	e := New(slog.Default())

	sec := Recommendation{Source: worker.NameSecurity, Action: "halt"}
	data := Recommendation{Source: worker.NameData, Action: "proceed"}

	assert.Equal(t, sec, e.ResolveConflict(sec, data))
	assert.Equal(t, sec, e.ResolveConflict(data, sec))

	// Equal priority keeps the first recommendation.
	other := Recommendation{Source: worker.NameData, Action: "halt"}
	assert.Equal(t, data, e.ResolveConflict(data, other))
}
