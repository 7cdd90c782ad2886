package accuracy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWinner(t *testing.T) {
	tests := []struct {
		typ      EvaluationType
		policy   MergePolicy
		hasAI    bool
		hasHuman bool
		want     Track
	}{
		{EvaluationTypeAI, MergeHumanAuthoritative, false, false, TrackNone},
		{EvaluationTypeAI, MergeHumanAuthoritative, true, false, TrackAI},
		{EvaluationTypeAI, MergeHumanAuthoritative, false, true, TrackNone},
		{EvaluationTypeAI, MergeHumanAuthoritative, true, true, TrackAI},

		{EvaluationTypeManual, MergeHumanAuthoritative, false, false, TrackNone},
		{EvaluationTypeManual, MergeHumanAuthoritative, true, false, TrackNone},
		{EvaluationTypeManual, MergeHumanAuthoritative, false, true, TrackHuman},
		{EvaluationTypeManual, MergeHumanAuthoritative, true, true, TrackHuman},

		{EvaluationTypeHybrid, MergeHumanAuthoritative, false, false, TrackNone},
		{EvaluationTypeHybrid, MergeHumanAuthoritative, true, false, TrackAI},
		{EvaluationTypeHybrid, MergeHumanAuthoritative, false, true, TrackHuman},
		{EvaluationTypeHybrid, MergeHumanAuthoritative, true, true, TrackHuman},

		{EvaluationTypeHybrid, MergeAIAuthoritative, false, false, TrackNone},
		{EvaluationTypeHybrid, MergeAIAuthoritative, true, false, TrackAI},
		{EvaluationTypeHybrid, MergeAIAuthoritative, false, true, TrackHuman},
		{EvaluationTypeHybrid, MergeAIAuthoritative, true, true, TrackAI},

		// an unset policy behaves as human authoritative
		{EvaluationTypeHybrid, "", true, true, TrackHuman},
	}

	for _, tt := range tests {
		got := Winner(tt.typ, tt.policy, tt.hasAI, tt.hasHuman)
		if got != tt.want {
			t.Errorf("Winner(%s, %q, ai=%v, human=%v) = %q, want %q", tt.typ, tt.policy, tt.hasAI, tt.hasHuman, got, tt.want)
		}
	}
}

func score(v float64) *float64 { return &v }

func TestApplyResultStatusTransitions(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	test := &Test{EvaluationType: EvaluationTypeHybrid, MergePolicy: MergeHumanAuthoritative}

	it := &Item{Status: ItemStatusPending}
	applyResult(test, it, ItemResult{Track: TrackAI, Score: score(3), DimensionScores: DimensionScores{"accuracy": 3}, Reason: "ok"}, now)
	assert.Equal(t, ItemStatusAICompleted, it.Status)
	assert.Equal(t, TrackAI, it.FinalEvaluationType)
	assert.Equal(t, 3.0, *it.FinalScore)
	assert.Equal(t, now, *it.AIEvaluatedAt)

	applyResult(test, it, ItemResult{Track: TrackHuman, Score: score(5), DimensionScores: DimensionScores{"accuracy": 5}, Reason: "great", EvaluatorID: "rev@example.com"}, now)
	assert.Equal(t, ItemStatusBothCompleted, it.Status)
	assert.Equal(t, TrackHuman, it.FinalEvaluationType)
	assert.Equal(t, 5.0, *it.FinalScore)
	assert.Equal(t, "great", it.FinalReason)
	assert.Equal(t, "rev@example.com", it.HumanEvaluatorID)

	// later AI re-run only replaces the AI record
	applyResult(test, it, ItemResult{Track: TrackAI, Score: score(1)}, now)
	assert.Equal(t, 1.0, *it.AIScore)
	assert.Equal(t, 5.0, *it.FinalScore)
}

func TestApplyResultFinalIsCopy(t *testing.T) {
	test := &Test{EvaluationType: EvaluationTypeAI}
	dims := DimensionScores{"accuracy": 4}
	it := &Item{}
	applyResult(test, it, ItemResult{Track: TrackAI, Score: score(4), DimensionScores: dims}, time.Now())

	dims["accuracy"] = 1
	it.AIDimensionScores["accuracy"] = 2
	assert.Equal(t, 4.0, it.FinalDimensionScores["accuracy"])
}

func TestDeriveStatusFailures(t *testing.T) {
	tests := []struct {
		name string
		typ  EvaluationType
		item Item
		want ItemStatus
	}{
		{"ai error on pending", EvaluationTypeAI, Item{AIError: "timeout"}, ItemStatusFailed},
		{"ai error with human record on ai test", EvaluationTypeAI, Item{AIError: "timeout", HumanScore: score(1)}, ItemStatusFailed},
		{"ai error with human record on hybrid test", EvaluationTypeHybrid, Item{AIError: "timeout", HumanScore: score(1)}, ItemStatusHumanCompleted},
		{"human error on manual test", EvaluationTypeManual, Item{HumanError: "rejected"}, ItemStatusFailed},
		{"ai record on manual test", EvaluationTypeManual, Item{AIScore: score(2)}, ItemStatusAICompleted},
		{"both records", EvaluationTypeAI, Item{AIScore: score(2), HumanScore: score(1)}, ItemStatusBothCompleted},
		{"nothing", EvaluationTypeHybrid, Item{}, ItemStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := tt.item
			assert.Equal(t, tt.want, deriveStatus(tt.typ, &it))
		})
	}
}

func TestSuccessfulAIRetryClearsError(t *testing.T) {
	test := &Test{EvaluationType: EvaluationTypeAI}
	it := &Item{}
	applyResult(test, it, ItemResult{Track: TrackAI, Error: "upstream 500"}, time.Now())
	require.Equal(t, ItemStatusFailed, it.Status)
	assert.Nil(t, it.FinalScore)

	applyResult(test, it, ItemResult{Track: TrackAI, Score: score(1)}, time.Now())
	assert.Equal(t, ItemStatusAICompleted, it.Status)
	assert.Empty(t, it.AIError)
}

func TestTally(t *testing.T) {
	counts := ItemCounts{
		ItemStatusPending:        2,
		ItemStatusAICompleted:    3,
		ItemStatusHumanCompleted: 4,
		ItemStatusBothCompleted:  1,
		ItemStatusFailed:         5,
	}
	tests := []struct {
		typ         EvaluationType
		wantSuccess int
	}{
		{EvaluationTypeAI, 4},
		{EvaluationTypeManual, 5},
		{EvaluationTypeHybrid, 5},
	}
	for _, tt := range tests {
		success, failed := tally(tt.typ, counts)
		assert.Equal(t, tt.wantSuccess, success, tt.typ)
		assert.Equal(t, 5, failed, tt.typ)
	}
	assert.Equal(t, 15, counts.Total())
}

func TestMaybeComplete(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	scored := []Item{{FinalScore: score(1), FinalDimensionScores: DimensionScores{"accuracy": 1}, FinalEvaluationType: TrackAI}}
	load := func() ([]Item, error) { return scored, nil }

	t.Run("not every item terminal", func(t *testing.T) {
		test := &Test{Status: TestStatusRunning, Total: 2, Processed: 1}
		done, err := maybeComplete(test, now, load)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, TestStatusRunning, test.Status)
		assert.Nil(t, test.ResultsSummary)
	})

	t.Run("not running", func(t *testing.T) {
		test := &Test{Status: TestStatusCreated, Total: 1, Processed: 1}
		done, err := maybeComplete(test, now, load)
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("empty test never completes", func(t *testing.T) {
		test := &Test{Status: TestStatusRunning}
		done, err := maybeComplete(test, now, load)
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("all terminal", func(t *testing.T) {
		test := &Test{
			Status: TestStatusRunning, Total: 2, Processed: 2, Success: 1, Failed: 1,
			EvaluationType: EvaluationTypeAI, ScoringMethod: ScoringBinary, Dimensions: []string{"accuracy"},
		}
		done, err := maybeComplete(test, now, load)
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, TestStatusCompleted, test.Status)
		assert.Equal(t, now, *test.CompletedAt)
		require.NotNil(t, test.ResultsSummary)
		assert.Equal(t, 1, test.ResultsSummary.TotalEvaluated)
		assert.Equal(t, 1, test.ResultsSummary.FailedCount)
	})

	t.Run("load error", func(t *testing.T) {
		test := &Test{Status: TestStatusRunning, Total: 1, Processed: 1}
		_, err := maybeComplete(test, now, func() ([]Item, error) { return nil, errors.New("db down") })
		assert.Error(t, err)
		assert.Equal(t, TestStatusRunning, test.Status)
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(TestStatusCreated, TestStatusRunning))
	assert.True(t, canTransition(TestStatusFailed, TestStatusRunning))
	assert.True(t, canTransition(TestStatusCreated, TestStatusFailed))
	assert.True(t, canTransition(TestStatusRunning, TestStatusInterrupted))
	assert.False(t, canTransition(TestStatusCompleted, TestStatusRunning))
	assert.False(t, canTransition(TestStatusInterrupted, TestStatusCreated))
	assert.False(t, canTransition(TestStatusCreated, TestStatusInterrupted))
}
