package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/panjf2000/ants/v2"

	"rageval/src/core/accuracy"
	"rageval/src/log"
	"rageval/src/metrics"
)

const DefaultPause = time.Second

// Request is one item to be scored by the judge
type Request struct {
	ItemID          int64
	QuestionID      string
	Question        string
	ReferenceAnswer string
	CandidateAnswer string
}

// Result is the judge outcome of one request. Err is set when the item failed.
type Result struct {
	ItemID          int64
	QuestionID      string
	Score           float64
	DimensionScores accuracy.DimensionScores
	Reason          string
	Raw             json.RawMessage
	EvaluatedAt     time.Time
	Err             error
}

// ItemResult converts the outcome into an AI track submission
func (r Result) ItemResult() accuracy.ItemResult {
	at := r.EvaluatedAt
	if r.Err != nil {
		return accuracy.ItemResult{
			QuestionID:  r.QuestionID,
			Track:       accuracy.TrackAI,
			Error:       r.Err.Error(),
			EvaluatedAt: &at,
		}
	}
	score := r.Score
	return accuracy.ItemResult{
		QuestionID:      r.QuestionID,
		Track:           accuracy.TrackAI,
		Score:           &score,
		DimensionScores: r.DimensionScores,
		Reason:          r.Reason,
		RawResponse:     r.Raw,
		EvaluatedAt:     &at,
	}
}

// Options configures one EvaluateBatch run
type Options struct {
	Dimensions     []string
	ScoringMethod  accuracy.ScoringMethod
	PromptTemplate string
	Model          string
	BatchSize      int
	// Timeout bounds every judge call independently
	Timeout time.Duration
	// OnSubBatch receives each sub-batch's results as soon as it finishes.
	// An error stops the run before the next sub-batch.
	OnSubBatch func(ctx context.Context, results []Result) error
}

// Scorer drives a Judge over batches of items
type Scorer struct {
	judge   Judge
	pause   time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
	logger  logr.Logger
}

type Option func(*Scorer)

// WithPause sets the delay between sub-batches
func WithPause(d time.Duration) Option {
	return func(s *Scorer) { s.pause = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) { s.metrics = m }
}

func New(judge Judge, opts ...Option) *Scorer {
	s := &Scorer{
		judge:  judge,
		pause:  DefaultPause,
		now:    time.Now,
		logger: log.WithName("scorer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EvaluateBatch scores reqs in sub-batches of opts.BatchSize, running each
// sub-batch concurrently. Per-item failures are reported in Result.Err; the
// returned error is only set when the run stopped early.
func (s *Scorer) EvaluateBatch(ctx context.Context, reqs []Request, opts Options) ([]Result, error) {
	if !opts.ScoringMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown scoring method %q", accuracy.ErrValidation, opts.ScoringMethod)
	}
	size := opts.BatchSize
	if size <= 0 {
		size = accuracy.DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(accuracy.DefaultTimeoutSeconds) * time.Second
	}

	results := make([]Result, 0, len(reqs))
	for start := 0; start < len(reqs); start += size {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if start > 0 && s.pause > 0 {
			if err := sleep(ctx, s.pause); err != nil {
				return results, err
			}
		}

		end := min(start+size, len(reqs))
		batch := s.evaluateSubBatch(ctx, reqs[start:end], opts)
		results = append(results, batch...)
		s.logger.V(1).Info("sub-batch scored", "from", start, "to", end, "total", len(reqs))

		if opts.OnSubBatch != nil {
			if err := opts.OnSubBatch(ctx, batch); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// evaluateSubBatch runs one judge call per request on a pool sized to the sub-batch
func (s *Scorer) evaluateSubBatch(ctx context.Context, batch []Request, opts Options) []Result {
	results := make([]Result, len(batch))

	pool, err := ants.NewPool(len(batch))
	if err != nil {
		for i, req := range batch {
			results[i] = s.failed(req, fmt.Errorf("create judge pool: %w", err))
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range batch {
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = s.failed(batch[i], fmt.Errorf("judge panicked: %v", r))
				}
			}()
			results[i] = s.scoreOne(ctx, batch[i], opts)
		})
		if err != nil {
			wg.Done()
			results[i] = s.failed(batch[i], fmt.Errorf("submit judge task: %w", err))
		}
	}
	wg.Wait()
	return results
}

func (s *Scorer) scoreOne(ctx context.Context, req Request, opts Options) Result {
	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	started := time.Now()
	j, err := s.judge.Score(callCtx, JudgeRequest{
		Question:        req.Question,
		ReferenceAnswer: req.ReferenceAnswer,
		CandidateAnswer: req.CandidateAnswer,
		Dimensions:      opts.Dimensions,
		ScoringMethod:   opts.ScoringMethod,
		PromptTemplate:  opts.PromptTemplate,
		Model:           opts.Model,
	})
	if err == nil {
		err = checkJudgement(j, opts)
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.metrics.ObserveJudgeCall(outcome, time.Since(started))
		s.logger.Info("judge call failed", "question_id", req.QuestionID, "error", err.Error())
		return s.failed(req, err)
	}
	s.metrics.ObserveJudgeCall("ok", time.Since(started))

	return Result{
		ItemID:          req.ItemID,
		QuestionID:      req.QuestionID,
		Score:           j.Score,
		DimensionScores: declaredOnly(j.DimensionScores, opts.Dimensions),
		Reason:          j.Reason,
		Raw:             j.Raw,
		EvaluatedAt:     s.now(),
	}
}

func (s *Scorer) failed(req Request, err error) Result {
	if !errors.Is(err, accuracy.ErrUpstreamScoring) {
		err = fmt.Errorf("%w: %w", accuracy.ErrUpstreamScoring, err)
	}
	return Result{
		ItemID:      req.ItemID,
		QuestionID:  req.QuestionID,
		EvaluatedAt: s.now(),
		Err:         err,
	}
}

// checkJudgement rejects verdicts outside the scoring method's range
func checkJudgement(j *Judgement, opts Options) error {
	if j == nil {
		return errors.New("empty judgement")
	}
	if !opts.ScoringMethod.InRange(j.Score) {
		return fmt.Errorf("score %v outside %s range", j.Score, opts.ScoringMethod)
	}
	declared := map[string]bool{}
	for _, d := range opts.Dimensions {
		declared[d] = true
	}
	for dim, v := range j.DimensionScores {
		if declared[dim] && !opts.ScoringMethod.InRange(v) {
			return fmt.Errorf("dimension %q score %v outside %s range", dim, v, opts.ScoringMethod)
		}
	}
	return nil
}

func declaredOnly(scores map[string]float64, dims []string) accuracy.DimensionScores {
	out := make(accuracy.DimensionScores, len(dims))
	for _, d := range dims {
		if v, ok := scores[d]; ok {
			out[d] = v
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
