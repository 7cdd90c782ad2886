package accuracy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"rageval/src/log"
	"rageval/src/metrics"
)

const defaultTxTries = 3

// Service is the evaluation test controller. Every write runs as one store
// transaction and is retried when the store reports a conflict.
type Service struct {
	store     Store
	questions QuestionStore
	answers   AnswerStore
	node      *snowflake.Node
	metrics   *metrics.Metrics
	hooks     []CompletionHook
	now       func() time.Time
	newCode   func() (string, error)
	txTries   uint
	txBackoff time.Duration
	logger    logr.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCompletionHook registers a hook called after a test commits as completed
func WithCompletionHook(h CompletionHook) Option {
	return func(s *Service) { s.hooks = append(s.hooks, h) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAccessCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

// WithTransactionRetry sets how many times a conflicting transaction is attempted
// and the initial backoff between attempts.
func WithTransactionRetry(tries uint, initial time.Duration) Option {
	return func(s *Service) {
		s.txTries = tries
		s.txBackoff = initial
	}
}

func WithSnowflakeNode(node *snowflake.Node) Option {
	return func(s *Service) { s.node = node }
}

func NewService(store Store, questions QuestionStore, answers AnswerStore, opts ...Option) (*Service, error) {
	s := &Service{
		store:     store,
		questions: questions,
		answers:   answers,
		now:       time.Now,
		newCode:   NewAccessCode,
		txTries:   defaultTxTries,
		txBackoff: 20 * time.Millisecond,
		logger:    log.WithName("accuracy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.node == nil {
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, fmt.Errorf("failed to create snowflake node: %w", err)
		}
		s.node = node
	}
	return s, nil
}

func (s *Service) nextID() int64 {
	return s.node.Generate().Int64()
}

// inTx runs fn in a store transaction, retrying on ErrPersistenceConflict
func (s *Service) inTx(ctx context.Context, fn func(tx Store) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.txBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.store.Transaction(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrPersistenceConflict) {
			s.metrics.TransactionConflict()
			s.logger.V(1).Info("transaction conflict, retrying", "attempt", attempt, "error", err.Error())
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.txTries))
	return err
}

// notifyCompleted runs completion hooks after commit. Hook failures are logged only.
func (s *Service) notifyCompleted(ctx context.Context, test *Test) {
	if test == nil {
		return
	}
	s.metrics.TestTransition(string(TestStatusCompleted))
	s.logger.Info("test completed", "test_id", test.ID, "success", test.Success, "failed", test.Failed,
		"overall_score", test.ResultsSummary.OverallScore)
	for _, h := range s.hooks {
		if err := h.OnTestCompleted(ctx, test); err != nil {
			s.logger.Error(err, "completion hook failed", "test_id", test.ID)
		}
	}
}

func (s *Service) GetTest(ctx context.Context, id int64) (*Test, error) {
	return s.store.GetTest(ctx, id, false)
}

func (s *Service) GetProgress(ctx context.Context, id int64) (*Progress, error) {
	test, err := s.store.GetTest(ctx, id, false)
	if err != nil {
		return nil, err
	}
	p := &Progress{
		TestID:      test.ID,
		Status:      test.Status,
		Total:       test.Total,
		Processed:   test.Processed,
		Success:     test.Success,
		Failed:      test.Failed,
		StartedAt:   test.StartedAt,
		CompletedAt: test.CompletedAt,
	}
	if test.Total > 0 {
		p.ProgressPercent = round2(float64(test.Processed) / float64(test.Total) * 100)
	}
	if test.StartedAt != nil {
		end := s.now()
		if test.CompletedAt != nil {
			end = *test.CompletedAt
		}
		d := int64(end.Sub(*test.StartedAt).Seconds())
		p.DurationSeconds = &d
	}
	return p, nil
}

func (s *Service) ListTests(ctx context.Context, projectID string) ([]Test, error) {
	return s.store.ListTests(ctx, projectID)
}

// RunningTests lists the tests of a project that are currently running
func (s *Service) RunningTests(ctx context.Context, projectID string) ([]Test, error) {
	return s.store.ListTests(ctx, projectID, TestStatusRunning)
}

func (s *Service) ListItems(ctx context.Context, q ItemQuery) ([]Item, int64, error) {
	if _, err := s.store.GetTest(ctx, q.TestID, false); err != nil {
		return nil, 0, err
	}
	for _, st := range q.Statuses {
		if !st.Valid() {
			return nil, 0, validationf("unknown item status %q", st)
		}
	}
	if q.MinScore != nil && q.MaxScore != nil && *q.MinScore > *q.MaxScore {
		return nil, 0, validationf("min_score is greater than max_score")
	}
	if q.Offset < 0 || q.Limit < 0 {
		return nil, 0, validationf("offset and limit must not be negative")
	}
	return s.store.ListItems(ctx, q)
}

// DeleteTest removes a test with its items and assignments
func (s *Service) DeleteTest(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx Store) error {
		if _, err := tx.GetTest(ctx, id, true); err != nil {
			return err
		}
		return tx.DeleteTest(ctx, id)
	})
}
