package accuracy_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rageval/src/core/accuracy"
)

func intPtr(v int) *int { return &v }

func TestAccessCodeFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := accuracy.NewAccessCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[A-Z0-9]{8}$`, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestCreateAssignmentRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	aiTest := f.start(t, accuracy.EvaluationTypeAI)
	_, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: aiTest.ID, ItemCount: 2}, "lead")
	assert.ErrorIs(t, err, accuracy.ErrInvalidState)

	test := f.start(t, accuracy.EvaluationTypeHybrid)
	_, err = f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 0}, "lead")
	assert.ErrorIs(t, err, accuracy.ErrValidation)
	_, err = f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 1, ExpirationDays: intPtr(-1)}, "lead")
	assert.ErrorIs(t, err, accuracy.ErrValidation)
	_, err = f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: 777, ItemCount: 1}, "lead")
	assert.ErrorIs(t, err, accuracy.ErrNotFound)

	// q1 already reviewed, q2 has a provisional AI score
	_, err = f.svc.SubmitItemResults(ctx, test.ID, []accuracy.ItemResult{humanResult("q1", 4), aiResult("q2", 3)})
	require.NoError(t, err)

	first, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{
		TestID: test.ID, EvaluatorName: "Sam", EvaluatorEmail: "sam@example.com", ItemCount: 2, ExpirationDays: intPtr(3),
	}, "lead")
	require.NoError(t, err)
	assert.Equal(t, []int64{f.item(t, test.ID, "q2").ID, f.item(t, test.ID, "q3").ID}, first.ItemIDs)
	assert.Equal(t, 2, first.TotalItems)
	assert.Equal(t, accuracy.AssignmentAssigned, first.Status)
	assert.True(t, first.IsActive)
	assert.Equal(t, "lead", first.CreatedBy)
	require.NotNil(t, first.ExpiresAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 3), *first.ExpiresAt)

	second, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 10}, "lead")
	require.NoError(t, err)
	assert.Equal(t, []int64{f.item(t, test.ID, "q4").ID, f.item(t, test.ID, "q5").ID}, second.ItemIDs)
	assert.Nil(t, second.ExpiresAt)
	assert.NotEqual(t, first.AccessCode, second.AccessCode)

	_, err = f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 1}, "lead")
	assert.ErrorIs(t, err, accuracy.ErrNoAssignableItems)

	listed, err := f.svc.ListAssignments(ctx, test.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestCreateAssignmentWithNothingAssignable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	test := f.start(t, accuracy.EvaluationTypeManual)

	_, err := f.svc.SubmitItemResults(ctx, test.ID, []accuracy.ItemResult{
		aiResult("q1", 2), humanResult("q1", 3), aiResult("q2", 2), humanResult("q2", 3),
	})
	require.NoError(t, err)
	items, _, err := f.svc.ListItems(ctx, accuracy.ItemQuery{TestID: test.ID})
	require.NoError(t, err)
	for _, it := range items {
		require.Equal(t, accuracy.ItemStatusBothCompleted, it.Status)
	}

	_, err = f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 5}, "lead")
	assert.ErrorIs(t, err, accuracy.ErrNoAssignableItems)

	listed, err := f.svc.ListAssignments(ctx, test.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestAccessCodeCollisionRerolls(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAAAAAA", "AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	next := 0
	gen := func() (string, error) {
		c := codes[next]
		next++
		return c, nil
	}
	f := newFixture(t, 4, accuracy.WithAccessCodeGenerator(gen))
	test := f.start(t, accuracy.EvaluationTypeManual)

	a, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", a.AccessCode)

	b, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", b.AccessCode)
	assert.Equal(t, 4, next)
}

func TestAccessCodeCollisionGivesUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, accuracy.WithAccessCodeGenerator(func() (string, error) { return "SAMECODE", nil }))
	test := f.start(t, accuracy.EvaluationTypeManual)

	_, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 1}, "")
	require.NoError(t, err)
	_, err = f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 1}, "")
	assert.ErrorIs(t, err, accuracy.ErrDuplicateAccessCode)

	listed, err := f.svc.ListAssignments(ctx, test.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestAssignmentSubmissionFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	test := f.start(t, accuracy.EvaluationTypeManual)

	a, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{
		TestID: test.ID, EvaluatorEmail: "rev@example.com", ItemCount: 2,
	}, "lead")
	require.NoError(t, err)

	opened, items, err := f.svc.OpenAssignment(ctx, a.AccessCode)
	require.NoError(t, err)
	assert.Equal(t, a.ID, opened.ID)
	require.Len(t, items, 2)
	assert.Equal(t, "q1", items[0].QuestionID)
	assert.Equal(t, "q2", items[1].QuestionID)

	dims := accuracy.DimensionScores{"accuracy": 4, "relevance": 5}
	got, err := f.svc.SubmitAssignmentResult(ctx, a.AccessCode, items[0].ID, 4, dims, "solid")
	require.NoError(t, err)
	assert.Equal(t, accuracy.AssignmentInProgress, got.Status)
	assert.Equal(t, 1, got.CompletedItems)
	require.NotNil(t, got.LastActivityAt)

	// a correction of the same item does not count twice
	got, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, items[0].ID, 5, dims, "revised")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedItems)

	it := f.item(t, test.ID, "q1")
	assert.Equal(t, accuracy.ItemStatusHumanCompleted, it.Status)
	assert.Equal(t, 5.0, *it.FinalScore)
	assert.Equal(t, "revised", it.FinalReason)
	assert.Equal(t, "rev@example.com", it.HumanEvaluatorID)

	outsider := f.item(t, test.ID, "q3")
	_, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, outsider.ID, 3, nil, "")
	assert.ErrorIs(t, err, accuracy.ErrNotFound)

	_, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, items[1].ID, 9, nil, "")
	assert.ErrorIs(t, err, accuracy.ErrValidation)

	got, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, items[1].ID, 3, nil, "fine")
	require.NoError(t, err)
	assert.Equal(t, accuracy.AssignmentCompleted, got.Status)
	assert.False(t, got.IsActive)
	assert.Equal(t, 2, got.CompletedItems)
	require.NotNil(t, got.CompletedAt)

	_, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, items[1].ID, 3, nil, "again")
	assert.ErrorIs(t, err, accuracy.ErrInvalidState)

	progress, err := f.svc.GetProgress(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Success)
	assert.Equal(t, accuracy.TestStatusRunning, progress.Status)

	_, _, err = f.svc.OpenAssignment(ctx, "NOPE0000")
	assert.ErrorIs(t, err, accuracy.ErrNotFound)
}

func TestAssignmentCompletesTest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	test := f.start(t, accuracy.EvaluationTypeManual, func(s *accuracy.TestSpec) {
		s.ScoringMethod = accuracy.ScoringBinary
		s.Dimensions = []string{"accuracy"}
	})
	a, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 2}, "")
	require.NoError(t, err)

	for i, id := range a.ItemIDs {
		_, err := f.svc.SubmitAssignmentResult(ctx, a.AccessCode, id, float64(i%2), accuracy.DimensionScores{"accuracy": float64(i % 2)}, "")
		require.NoError(t, err)
	}

	got, err := f.svc.GetTest(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, accuracy.TestStatusCompleted, got.Status)
	assert.Equal(t, map[string]int{"pass": 1, "fail": 1}, got.ResultsSummary.ScoreDistribution)
	assert.Equal(t, 0.5, got.ResultsSummary.OverallScore)
}

func TestAssignmentExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	test := f.start(t, accuracy.EvaluationTypeManual)
	a, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 2, ExpirationDays: intPtr(1)}, "")
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	_, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, a.ItemIDs[0], 3, nil, "")
	assert.ErrorIs(t, err, accuracy.ErrAssignmentExpired)
	assert.ErrorIs(t, err, accuracy.ErrInvalidState)

	listed, err := f.svc.ListAssignments(ctx, test.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, accuracy.AssignmentExpired, listed[0].Status)
	assert.False(t, listed[0].IsActive)

	_, _, err = f.svc.OpenAssignment(ctx, a.AccessCode)
	assert.ErrorIs(t, err, accuracy.ErrAssignmentExpired)

	// the expired slice becomes assignable again
	again, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 3}, "")
	require.NoError(t, err)
	assert.Len(t, again.ItemIDs, 3)
}

func TestResetClosesAssignments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	test := f.start(t, accuracy.EvaluationTypeHybrid)
	a, err := f.svc.CreateAssignment(ctx, accuracy.AssignmentRequest{TestID: test.ID, ItemCount: 2}, "")
	require.NoError(t, err)
	_, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, a.ItemIDs[0], 4, nil, "")
	require.NoError(t, err)

	_, err = f.svc.ResetTest(ctx, test.ID)
	require.NoError(t, err)

	listed, err := f.svc.ListAssignments(ctx, test.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsActive)

	_, err = f.svc.SubmitAssignmentResult(ctx, a.AccessCode, a.ItemIDs[1], 4, nil, "")
	assert.ErrorIs(t, err, accuracy.ErrInvalidState)

	for i := 1; i <= 3; i++ {
		it := f.item(t, test.ID, fmt.Sprintf("q%d", i))
		assert.Equal(t, accuracy.ItemStatusPending, it.Status)
	}
}
