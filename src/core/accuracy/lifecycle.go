package accuracy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var transitions = map[TestStatus][]TestStatus{
	TestStatusCreated: {TestStatusRunning, TestStatusFailed},
	TestStatusRunning: {TestStatusCompleted, TestStatusFailed, TestStatusInterrupted, TestStatusCreated},
	TestStatusFailed:  {TestStatusRunning, TestStatusCreated},
}

func canTransition(from, to TestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateTest validates spec and materializes one pending item per question
// that has a candidate answer.
func (s *Service) CreateTest(ctx context.Context, spec TestSpec, actor string) (*Test, error) {
	test, err := s.newTest(spec, actor)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.ListQuestions(ctx, spec.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions of dataset %s: %w", spec.DatasetID, err)
	}

	seen := make(map[string]bool, len(questions))
	items := make([]Item, 0, len(questions))
	for _, q := range questions {
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true

		ans, err := s.answers.ResolveAnswer(ctx, q.ID, spec.Version)
		if errors.Is(err, ErrAnswerNotFound) {
			s.logger.V(1).Info("skipping question without candidate answer", "question_id", q.ID, "version", spec.Version)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve answer for question %s: %w", q.ID, err)
		}
		items = append(items, Item{
			ID:             s.nextID(),
			TestID:         test.ID,
			QuestionID:     q.ID,
			AnswerID:       ans.ID,
			Status:         ItemStatusPending,
			SequenceNumber: len(items) + 1,
		})
	}
	if len(items) == 0 {
		return nil, ErrNoItemsMaterialized
	}
	test.Total = len(items)

	err = s.inTx(ctx, func(tx Store) error {
		if err := tx.CreateTest(ctx, test); err != nil {
			return err
		}
		return tx.CreateItems(ctx, items)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TestTransition(string(TestStatusCreated))
	s.logger.Info("test created", "test_id", test.ID, "project_id", test.ProjectID, "items", test.Total,
		"evaluation_type", test.EvaluationType)
	return test, nil
}

func (s *Service) newTest(spec TestSpec, actor string) (*Test, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, validationf("name is required")
	}
	if spec.ProjectID == "" || spec.DatasetID == "" {
		return nil, validationf("project_id and dataset_id are required")
	}
	if !spec.EvaluationType.Valid() {
		return nil, validationf("unknown evaluation_type %q", spec.EvaluationType)
	}
	if !spec.ScoringMethod.Valid() {
		return nil, validationf("unknown scoring_method %q", spec.ScoringMethod)
	}
	policy := spec.MergePolicy
	if policy == "" {
		policy = MergeHumanAuthoritative
	}
	if !policy.Valid() {
		return nil, validationf("unknown merge_policy %q", spec.MergePolicy)
	}
	if len(spec.Dimensions) == 0 {
		return nil, validationf("dimension list is empty")
	}

	declared := make(map[string]bool, len(spec.Dimensions))
	for _, d := range spec.Dimensions {
		if strings.TrimSpace(d) == "" {
			return nil, validationf("dimension name is empty")
		}
		if declared[d] {
			return nil, validationf("dimension %q is declared twice", d)
		}
		declared[d] = true
	}

	weights := make(map[string]float64, len(spec.Dimensions))
	for _, d := range spec.Dimensions {
		weights[d] = 1
	}
	for d, w := range spec.Weights {
		if !declared[d] {
			return nil, validationf("weight given for undeclared dimension %q", d)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, validationf("weight of %q must be a non-negative number", d)
		}
		weights[d] = w
	}

	batch := BatchSettings{}
	if spec.BatchSettings != nil {
		if spec.BatchSettings.BatchSize < 0 || spec.BatchSettings.TimeoutSeconds < 0 {
			return nil, validationf("batch settings must be positive")
		}
		batch = *spec.BatchSettings
	}

	return &Test{
		ID:             s.nextID(),
		ProjectID:      spec.ProjectID,
		DatasetID:      spec.DatasetID,
		Name:           spec.Name,
		Description:    spec.Description,
		EvaluationType: spec.EvaluationType,
		ScoringMethod:  spec.ScoringMethod,
		MergePolicy:    policy,
		Dimensions:     append([]string(nil), spec.Dimensions...),
		Weights:        weights,
		PromptTemplate: spec.PromptTemplate,
		Version:        spec.Version,
		ModelConfig:    spec.ModelConfig,
		BatchSettings:  batch.withDefaults(),
		Status:         TestStatusCreated,
		CreatedBy:      actor,
		CreatedAt:      s.now(),
	}, nil
}

// StartTest moves a created or failed test to running
func (s *Service) StartTest(ctx context.Context, id int64) (*Test, error) {
	var (
		test      *Test
		completed bool
	)
	err := s.inTx(ctx, func(tx Store) error {
		var err error
		test, err = tx.GetTest(ctx, id, true)
		if err != nil {
			return err
		}
		if !canTransition(test.Status, TestStatusRunning) {
			return invalidStatef("test %d cannot start from %s", id, test.Status)
		}
		now := s.now()
		test.Status = TestStatusRunning
		test.StartedAt = &now
		test.CompletedAt = nil
		test.ErrorDetails = nil

		completed, err = s.settle(ctx, tx, test, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TestTransition(string(TestStatusRunning))
	s.logger.Info("test started", "test_id", id)
	if completed {
		s.notifyCompleted(ctx, test)
	}
	return test, nil
}

// FailTest marks a running or created test as failed and records details
func (s *Service) FailTest(ctx context.Context, id int64, details map[string]any) (*Test, error) {
	return s.terminate(ctx, id, TestStatusFailed, details)
}

// InterruptTest stops a running test. In-flight AI results are rejected afterwards.
func (s *Service) InterruptTest(ctx context.Context, id int64, reason string) (*Test, error) {
	details := map[string]any{"reason": reason}
	return s.terminate(ctx, id, TestStatusInterrupted, details)
}

func (s *Service) terminate(ctx context.Context, id int64, to TestStatus, details map[string]any) (*Test, error) {
	var test *Test
	err := s.inTx(ctx, func(tx Store) error {
		var err error
		test, err = tx.GetTest(ctx, id, true)
		if err != nil {
			return err
		}
		if !canTransition(test.Status, to) {
			return invalidStatef("test %d cannot move from %s to %s", id, test.Status, to)
		}
		now := s.now()
		test.Status = to
		test.CompletedAt = &now
		test.ErrorDetails = details
		return tx.UpdateTest(ctx, test)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.TestTransition(string(to))
	s.logger.Info("test terminated", "test_id", id, "status", to, "details", details)
	return test, nil
}

// ResetTest returns a created, running or failed test to created. Scored
// items are replaced by fresh pending ones and open assignments are closed.
func (s *Service) ResetTest(ctx context.Context, id int64) (*Test, error) {
	return s.reset(ctx, id, false)
}

// ForceResetTest also revives completed and interrupted tests
func (s *Service) ForceResetTest(ctx context.Context, id int64, actor string) (*Test, error) {
	s.logger.Info("force reset requested", "test_id", id, "actor", actor)
	return s.reset(ctx, id, true)
}

func (s *Service) reset(ctx context.Context, id int64, force bool) (*Test, error) {
	var (
		test     *Test
		replaced int
		closed   int
	)
	err := s.inTx(ctx, func(tx Store) error {
		var err error
		replaced, closed = 0, 0
		test, err = tx.GetTest(ctx, id, true)
		if err != nil {
			return err
		}
		revive := test.Status == TestStatusCompleted || test.Status == TestStatusInterrupted
		if test.Status != TestStatusCreated && !canTransition(test.Status, TestStatusCreated) && !(force && revive) {
			return invalidStatef("test %d cannot be reset from %s", id, test.Status)
		}

		items, _, err := tx.ListItems(ctx, ItemQuery{TestID: id})
		if err != nil {
			return err
		}
		var (
			stale []int64
			fresh []Item
		)
		for _, it := range items {
			if it.Status == ItemStatusPending && it.AIError == "" && it.HumanError == "" &&
				it.AIScore == nil && it.HumanScore == nil {
				continue
			}
			stale = append(stale, it.ID)
			fresh = append(fresh, Item{
				ID:             s.nextID(),
				TestID:         id,
				QuestionID:     it.QuestionID,
				AnswerID:       it.AnswerID,
				Status:         ItemStatusPending,
				SequenceNumber: it.SequenceNumber,
				Metadata:       it.Metadata,
			})
		}
		if len(stale) > 0 {
			if err := tx.DeleteItems(ctx, id, stale); err != nil {
				return err
			}
			if err := tx.CreateItems(ctx, fresh); err != nil {
				return err
			}
		}
		replaced = len(stale)

		assignments, err := tx.ListAssignments(ctx, id)
		if err != nil {
			return err
		}
		for i := range assignments {
			a := &assignments[i]
			if !a.IsActive {
				continue
			}
			a.IsActive = false
			a.Status = AssignmentExpired
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
			closed++
		}

		test.Status = TestStatusCreated
		test.Processed, test.Success, test.Failed = 0, 0, 0
		test.Total = len(items)
		test.ResultsSummary = nil
		test.ErrorDetails = nil
		test.StartedAt = nil
		test.CompletedAt = nil
		return tx.UpdateTest(ctx, test)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.TestTransition(string(TestStatusCreated))
	s.logger.Info("test reset", "test_id", id, "items_replaced", replaced, "assignments_closed", closed, "force", force)
	return test, nil
}

// settle recomputes counters from the store, runs maybeComplete and persists the test.
// It reports whether the test just completed.
func (s *Service) settle(ctx context.Context, tx Store, test *Test, now time.Time) (bool, error) {
	counts, err := tx.CountItems(ctx, test.ID)
	if err != nil {
		return false, err
	}
	applyCounts(test, counts)

	completed, err := maybeComplete(test, now, func() ([]Item, error) {
		items, _, err := tx.ListItems(ctx, ItemQuery{TestID: test.ID, Statuses: successStatuses(test.EvaluationType)})
		return items, err
	})
	if err != nil {
		return false, err
	}
	if err := tx.UpdateTest(ctx, test); err != nil {
		return false, err
	}
	return completed, nil
}

func applyCounts(test *Test, counts ItemCounts) {
	test.Total = counts.Total()
	test.Success, test.Failed = tally(test.EvaluationType, counts)
	test.Processed = test.Success + test.Failed
}

// maybeComplete completes a running test once every item is terminal and
// freezes the results summary computed over the successful items.
func maybeComplete(test *Test, now time.Time, successful func() ([]Item, error)) (bool, error) {
	if test.Status != TestStatusRunning || test.Total == 0 || test.Processed < test.Total {
		return false, nil
	}
	items, err := successful()
	if err != nil {
		return false, fmt.Errorf("failed to load scored items: %w", err)
	}
	test.Status = TestStatusCompleted
	test.CompletedAt = &now
	test.ResultsSummary = Summarize(test, items)
	return true, nil
}
