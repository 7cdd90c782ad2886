package accuracy

import (
	"context"
	"errors"
	"time"
)

// SubmitItemResults merges a batch of track results into a running test's
// items, recomputes counters and completes the test when every item is terminal.
func (s *Service) SubmitItemResults(ctx context.Context, testID int64, results []ItemResult) (*SubmitOutcome, error) {
	var (
		outcome SubmitOutcome
		test    *Test
		unknown map[string]bool
	)
	err := s.inTx(ctx, func(tx Store) error {
		outcome = SubmitOutcome{}
		var err error
		test, err = tx.GetTest(ctx, testID, true)
		if err != nil {
			return err
		}
		if test.Status != TestStatusRunning {
			return invalidStatef("test %d is %s, results are only accepted while running", testID, test.Status)
		}
		if err := validateResults(test, results); err != nil {
			return err
		}
		now := s.now()
		unknown, err = s.applyBatch(ctx, tx, test, results, now)
		if err != nil {
			return err
		}
		for _, r := range results {
			if unknown[r.QuestionID] {
				outcome.Skipped++
			} else {
				outcome.Applied++
			}
		}
		outcome.Completed, err = s.settle(ctx, tx, test, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordBatch(results, unknown)
	if outcome.Completed {
		s.notifyCompleted(ctx, test)
	}
	return &outcome, nil
}

// applyBatch writes validated results and returns the unknown question ids it skipped
func (s *Service) applyBatch(ctx context.Context, tx Store, test *Test, results []ItemResult, now time.Time) (map[string]bool, error) {
	unknown := map[string]bool{}
	for _, r := range results {
		it, err := tx.GetItemByQuestion(ctx, test.ID, r.QuestionID)
		if errors.Is(err, ErrNotFound) {
			unknown[r.QuestionID] = true
			s.logger.Info("skipping result for unknown item", "test_id", test.ID, "question_id", r.QuestionID, "track", r.Track)
			continue
		}
		if err != nil {
			return nil, err
		}
		applyResult(test, it, r, now)
		if err := tx.UpdateItem(ctx, it); err != nil {
			return nil, err
		}
	}
	return unknown, nil
}

func (s *Service) recordBatch(results []ItemResult, unknown map[string]bool) {
	for _, r := range results {
		switch {
		case unknown[r.QuestionID]:
			s.metrics.ItemResult(string(r.Track), "skipped")
		case r.Error != "":
			s.metrics.ItemResult(string(r.Track), "error")
		default:
			s.metrics.ItemResult(string(r.Track), "applied")
		}
	}
}

// validateResults rejects the whole batch before any write
func validateResults(test *Test, results []ItemResult) error {
	declared := make(map[string]bool, len(test.Dimensions))
	for _, d := range test.Dimensions {
		declared[d] = true
	}
	for i, r := range results {
		if r.Track != TrackAI && r.Track != TrackHuman {
			return validationf("result %d: unknown track %q", i, r.Track)
		}
		if r.QuestionID == "" {
			return validationf("result %d: question_id is required", i)
		}
		if r.Error != "" {
			continue
		}
		if r.Score == nil {
			return validationf("result %d: either score or error is required", i)
		}
		if !test.ScoringMethod.InRange(*r.Score) {
			return validationf("result %d: score %v is outside the %s range", i, *r.Score, test.ScoringMethod)
		}
		for dim, v := range r.DimensionScores {
			if !declared[dim] {
				return validationf("result %d: dimension %q is not declared by the test", i, dim)
			}
			if !test.ScoringMethod.InRange(v) {
				return validationf("result %d: dimension %q score %v is outside the %s range", i, dim, v, test.ScoringMethod)
			}
		}
	}
	return nil
}
