package accuracy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CreateAssignment freezes up to ItemCount assignable items of a manual or
// hybrid test into a new reviewer assignment with a unique access code.
func (s *Service) CreateAssignment(ctx context.Context, req AssignmentRequest, actor string) (*Assignment, error) {
	if req.ItemCount <= 0 {
		return nil, validationf("item_count must be positive")
	}
	if req.ExpirationDays != nil && *req.ExpirationDays < 0 {
		return nil, validationf("expiration_days must not be negative")
	}

	var a *Assignment
	err := s.inTx(ctx, func(tx Store) error {
		test, err := tx.GetTest(ctx, req.TestID, true)
		if err != nil {
			return err
		}
		if !test.EvaluationType.AllowsHuman() {
			return invalidStatef("test %d has evaluation type %s and takes no human review", test.ID, test.EvaluationType)
		}
		if test.Status == TestStatusInterrupted {
			return invalidStatef("test %d is %s", test.ID, test.Status)
		}

		now := s.now()
		ids, err := s.assignableItems(ctx, tx, test.ID, req.ItemCount, now)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("%w: test %d", ErrNoAssignableItems, test.ID)
		}

		a = &Assignment{
			ID:               s.nextID(),
			TestID:           test.ID,
			EvaluatorName:    req.EvaluatorName,
			EvaluatorEmail:   req.EvaluatorEmail,
			ItemIDs:          ids,
			CompletedItemIDs: []int64{},
			TotalItems:       len(ids),
			Status:           AssignmentAssigned,
			IsActive:         true,
			AssignedAt:       now,
			CreatedBy:        actor,
		}
		if req.ExpirationDays != nil && *req.ExpirationDays > 0 {
			exp := now.AddDate(0, 0, *req.ExpirationDays)
			a.ExpiresAt = &exp
		}
		return s.insertWithFreshCode(ctx, tx, a)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AssignmentEvent("created")
	s.logger.Info("assignment created", "test_id", a.TestID, "assignment_id", a.ID, "items", a.TotalItems)
	return a, nil
}

// assignableItems picks pending or ai_completed items, oldest sequence first,
// that no active unexpired assignment holds.
func (s *Service) assignableItems(ctx context.Context, tx Store, testID int64, limit int, now time.Time) ([]int64, error) {
	existing, err := tx.ListAssignments(ctx, testID)
	if err != nil {
		return nil, err
	}
	held := map[int64]bool{}
	for i := range existing {
		a := &existing[i]
		if !a.IsActive || a.expired(now) {
			continue
		}
		for _, id := range a.ItemIDs {
			held[id] = true
		}
	}

	items, _, err := tx.ListItems(ctx, ItemQuery{
		TestID:   testID,
		Statuses: []ItemStatus{ItemStatusPending, ItemStatusAICompleted},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, limit)
	for _, it := range items {
		if held[it.ID] {
			continue
		}
		ids = append(ids, it.ID)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// insertWithFreshCode re-rolls the access code until the store accepts it
func (s *Service) insertWithFreshCode(ctx context.Context, tx Store, a *Assignment) error {
	for roll := 0; roll < maxAccessCodeRolls; roll++ {
		code, err := s.newCode()
		if err != nil {
			return fmt.Errorf("failed to generate access code: %w", err)
		}
		a.AccessCode = code
		err = tx.CreateAssignment(ctx, a)
		if errors.Is(err, ErrDuplicateAccessCode) {
			s.logger.V(1).Info("access code collision, re-rolling", "roll", roll+1)
			continue
		}
		return err
	}
	return fmt.Errorf("no unique access code after %d attempts: %w", maxAccessCodeRolls, ErrDuplicateAccessCode)
}

// expireIfDue marks an overdue assignment expired in its own transaction so the
// state change survives the caller's rejection.
func (s *Service) expireIfDue(ctx context.Context, code string) error {
	expired := false
	err := s.inTx(ctx, func(tx Store) error {
		expired = false
		a, err := tx.GetAssignmentByCode(ctx, code, true)
		if err != nil {
			return err
		}
		if !a.expired(s.now()) || a.Status == AssignmentCompleted {
			return nil
		}
		if a.Status != AssignmentExpired || a.IsActive {
			a.Status = AssignmentExpired
			a.IsActive = false
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
			expired = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if expired {
		s.metrics.AssignmentEvent("expired")
		s.logger.Info("assignment expired", "access_code", code)
	}
	return nil
}

// OpenAssignment returns the assignment behind an access code together with its items
func (s *Service) OpenAssignment(ctx context.Context, code string) (*Assignment, []Item, error) {
	if err := s.expireIfDue(ctx, code); err != nil {
		return nil, nil, err
	}
	a, err := s.store.GetAssignmentByCode(ctx, code, false)
	if err != nil {
		return nil, nil, err
	}
	if a.Status == AssignmentExpired {
		return nil, nil, ErrAssignmentExpired
	}
	items, err := s.store.ListItemsByIDs(ctx, a.TestID, a.ItemIDs)
	if err != nil {
		return nil, nil, err
	}
	return a, items, nil
}

func (s *Service) ListAssignments(ctx context.Context, testID int64) ([]Assignment, error) {
	if _, err := s.store.GetTest(ctx, testID, false); err != nil {
		return nil, err
	}
	return s.store.ListAssignments(ctx, testID)
}

// SubmitAssignmentResult records a reviewer's verdict for one item of the
// assignment as a human-track result and advances the assignment's progress.
func (s *Service) SubmitAssignmentResult(ctx context.Context, code string, itemID int64, score float64, dims DimensionScores, reason string) (*Assignment, error) {
	if err := s.expireIfDue(ctx, code); err != nil {
		return nil, err
	}
	// lock order is test, then assignment
	peek, err := s.store.GetAssignmentByCode(ctx, code, false)
	if err != nil {
		return nil, err
	}

	var (
		a         *Assignment
		test      *Test
		completed bool
	)
	err = s.inTx(ctx, func(tx Store) error {
		var err error
		completed = false
		test, err = tx.GetTest(ctx, peek.TestID, true)
		if err != nil {
			return err
		}
		a, err = tx.GetAssignmentByCode(ctx, code, true)
		if err != nil {
			return err
		}
		switch {
		case a.Status == AssignmentExpired:
			return ErrAssignmentExpired
		case !a.IsActive:
			return ErrAssignmentClosed
		case !a.holds(itemID):
			return fmt.Errorf("%w: item %d is not part of assignment %s", ErrNotFound, itemID, code)
		}
		if test.Status != TestStatusRunning {
			return invalidStatef("test %d is %s, results are only accepted while running", test.ID, test.Status)
		}

		it, err := tx.GetItem(ctx, test.ID, itemID)
		if err != nil {
			return err
		}
		now := s.now()
		result := ItemResult{
			QuestionID:      it.QuestionID,
			Track:           TrackHuman,
			Score:           &score,
			DimensionScores: dims,
			Reason:          reason,
			EvaluatorID:     a.evaluatorID(),
			EvaluatedAt:     &now,
		}
		batch := []ItemResult{result}
		if err := validateResults(test, batch); err != nil {
			return err
		}
		if _, err := s.applyBatch(ctx, tx, test, batch, now); err != nil {
			return err
		}
		if completed, err = s.settle(ctx, tx, test, now); err != nil {
			return err
		}

		if !containsID(a.CompletedItemIDs, itemID) {
			a.CompletedItemIDs = append(a.CompletedItemIDs, itemID)
			a.CompletedItems = len(a.CompletedItemIDs)
		}
		a.LastActivityAt = &now
		if a.CompletedItems >= a.TotalItems {
			a.Status = AssignmentCompleted
			a.IsActive = false
			a.CompletedAt = &now
		} else {
			a.Status = AssignmentInProgress
		}
		return tx.UpdateAssignment(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ItemResult(string(TrackHuman), "applied")
	if a.Status == AssignmentCompleted {
		s.metrics.AssignmentEvent("completed")
	}
	if completed {
		s.notifyCompleted(ctx, test)
	}
	return a, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
