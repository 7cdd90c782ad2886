package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"rageval/src/core/accuracy"
	"rageval/src/core/scorer"
	"rageval/src/log"
)

const TaskTypeAIEvaluation = "accuracy_ai_evaluation"

type EvaluationPayload struct {
	TestID int64 `json:"test_id"`
	// RetryFailed also rescores items whose last AI attempt failed
	RetryFailed bool `json:"retry_failed"`
}

// EvaluationReport summarizes one driver run
type EvaluationReport struct {
	Queued  int
	Scored  int
	Failed  int
	Skipped int
	Stopped bool
}

type EvaluationTask struct {
	tests     *accuracy.Service
	questions accuracy.QuestionStore
	answers   accuracy.AnswerStore
	scorer    *scorer.Scorer
	logger    logr.Logger
}

func NewEvaluationTask(
	tests *accuracy.Service,
	questions accuracy.QuestionStore,
	answers accuracy.AnswerStore,
	sc *scorer.Scorer,
) *EvaluationTask {
	return &EvaluationTask{
		tests:     tests,
		questions: questions,
		answers:   answers,
		scorer:    sc,
		logger:    log.WithName("evaluation-task"),
	}
}

var errTestStopped = errors.New("test is no longer running")

func (task *EvaluationTask) HandleEvaluationTask(ctx context.Context, payload json.RawMessage) error {
	var p EvaluationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal evaluation payload: %w", err)
	}
	_, err := task.Run(ctx, p, nil)
	return err
}

// Run scores every item of a running test that has no AI record yet and
// submits each sub-batch as it lands. It can be re-run after a crash and
// returns without error once the test leaves the running state.
func (task *EvaluationTask) Run(ctx context.Context, p EvaluationPayload, progress func(done, total int)) (*EvaluationReport, error) {
	test, err := task.tests.GetTest(ctx, p.TestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get test %d: %w", p.TestID, err)
	}
	if !test.EvaluationType.UsesAI() {
		return nil, fmt.Errorf("%w: test %d is %s and has no AI track", accuracy.ErrInvalidState, test.ID, test.EvaluationType)
	}

	report := &EvaluationReport{}
	if test.Status != accuracy.TestStatusRunning {
		task.logger.Info("test is not running, nothing to score", "test_id", test.ID, "status", test.Status)
		report.Stopped = true
		return report, nil
	}

	items, _, err := task.tests.ListItems(ctx, accuracy.ItemQuery{TestID: test.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	reqs, unresolved, err := task.requests(ctx, test, items, p.RetryFailed)
	if err != nil {
		return nil, err
	}
	report.Queued = len(reqs) + len(unresolved)
	task.logger.Info("scoring test", "test_id", test.ID, "items", len(reqs), "unresolved", len(unresolved))

	submit := func(ctx context.Context, results []accuracy.ItemResult) error {
		if len(results) == 0 {
			return nil
		}
		out, err := task.tests.SubmitItemResults(ctx, test.ID, results)
		if errors.Is(err, accuracy.ErrInvalidState) {
			return errTestStopped
		}
		if err != nil {
			return err
		}
		report.Skipped += out.Skipped
		return nil
	}
	tick := func() {
		if progress != nil {
			progress(report.Scored+report.Failed, report.Queued)
		}
	}

	if len(unresolved) > 0 {
		if err := submit(ctx, unresolved); err != nil {
			return task.finish(report, test.ID, err)
		}
		report.Failed += len(unresolved)
		tick()
	}

	_, err = task.scorer.EvaluateBatch(ctx, reqs, scorer.Options{
		Dimensions:     test.Dimensions,
		ScoringMethod:  test.ScoringMethod,
		PromptTemplate: test.PromptTemplate,
		Model:          test.ModelConfig.ModelName,
		BatchSize:      test.BatchSettings.BatchSize,
		Timeout:        test.BatchSettings.Timeout(),
		OnSubBatch: func(ctx context.Context, batch []scorer.Result) error {
			results := make([]accuracy.ItemResult, len(batch))
			failed := 0
			for i, r := range batch {
				results[i] = r.ItemResult()
				if r.Err != nil {
					failed++
				}
			}
			if err := submit(ctx, results); err != nil {
				return err
			}
			report.Failed += failed
			report.Scored += len(batch) - failed
			tick()
			return nil
		},
	})
	return task.finish(report, test.ID, err)
}

func (task *EvaluationTask) finish(report *EvaluationReport, testID int64, err error) (*EvaluationReport, error) {
	if errors.Is(err, errTestStopped) {
		task.logger.Info("test left running state, discarding remaining work", "test_id", testID)
		report.Stopped = true
		return report, nil
	}
	if err != nil {
		return report, err
	}
	task.logger.Info("test scored", "test_id", testID, "scored", report.Scored, "failed", report.Failed)
	return report, nil
}

// requests resolves question and answer text for the items still owed an AI
// score. Items whose text cannot be resolved come back as failed results.
func (task *EvaluationTask) requests(ctx context.Context, test *accuracy.Test, items []accuracy.Item, retryFailed bool) ([]scorer.Request, []accuracy.ItemResult, error) {
	questions, err := task.questions.ListQuestions(ctx, test.DatasetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list questions: %w", err)
	}
	byID := make(map[string]accuracy.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var reqs []scorer.Request
	var unresolved []accuracy.ItemResult
	for _, it := range items {
		if it.AIScore != nil || (it.AIError != "" && !retryFailed) {
			continue
		}
		q, ok := byID[it.QuestionID]
		if !ok {
			unresolved = append(unresolved, unresolvedResult(it, "question no longer exists"))
			continue
		}
		answer, err := task.answers.GetAnswer(ctx, it.AnswerID)
		if errors.Is(err, accuracy.ErrAnswerNotFound) {
			unresolved = append(unresolved, unresolvedResult(it, "answer no longer exists"))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get answer %s: %w", it.AnswerID, err)
		}
		reqs = append(reqs, scorer.Request{
			ItemID:          it.ID,
			QuestionID:      it.QuestionID,
			Question:        q.Text,
			ReferenceAnswer: q.ReferenceAnswer,
			CandidateAnswer: answer.Text,
		})
	}
	return reqs, unresolved, nil
}

func unresolvedResult(it accuracy.Item, msg string) accuracy.ItemResult {
	return accuracy.ItemResult{QuestionID: it.QuestionID, Track: accuracy.TrackAI, Error: msg}
}
