package scorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rageval/src/core/accuracy"
)

type judgeFunc func(ctx context.Context, req JudgeRequest) (*Judgement, error)

func (f judgeFunc) Score(ctx context.Context, req JudgeRequest) (*Judgement, error) {
	return f(ctx, req)
}

func requests(n int) []Request {
	out := make([]Request, n)
	for i := range out {
		out[i] = Request{
			ItemID:          int64(i + 1),
			QuestionID:      fmt.Sprintf("q%d", i+1),
			Question:        fmt.Sprintf("question %d", i+1),
			ReferenceAnswer: "ref",
			CandidateAnswer: "candidate",
		}
	}
	return out
}

func fiveScale(batch int) Options {
	return Options{
		Dimensions:    []string{"accuracy", "relevance"},
		ScoringMethod: accuracy.ScoringFiveScale,
		BatchSize:     batch,
		Timeout:       time.Second,
	}
}

func TestEvaluateBatchBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &Judgement{Score: 4, DimensionScores: map[string]float64{"accuracy": 4, "relevance": 5}}, nil
	})

	s := New(judge, WithPause(0))
	results, err := s.EvaluateBatch(context.Background(), requests(7), fiveScale(3))
	require.NoError(t, err)
	require.Len(t, results, 7)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("q%d", i+1), r.QuestionID)
		assert.Equal(t, int64(i+1), r.ItemID)
		assert.Equal(t, 4.0, r.Score)
	}
}

func TestEvaluateBatchIsolatesFailures(t *testing.T) {
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		switch req.Question {
		case "question 2":
			return nil, errors.New("upstream 500")
		case "question 3":
			return &Judgement{Score: 7}, nil
		case "question 4":
			panic("boom")
		}
		return &Judgement{Score: 3}, nil
	})

	results, err := New(judge, WithPause(0)).EvaluateBatch(context.Background(), requests(5), fiveScale(10))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[4].Err)
	for _, i := range []int{1, 2, 3} {
		assert.ErrorIs(t, results[i].Err, accuracy.ErrUpstreamScoring, "result %d", i)
	}

	r := results[1].ItemResult()
	assert.Equal(t, accuracy.TrackAI, r.Track)
	assert.Nil(t, r.Score)
	assert.NotEmpty(t, r.Error)
}

func TestEvaluateBatchTimeout(t *testing.T) {
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		if req.Question == "question 1" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Judgement{Score: 5}, nil
	})

	opts := fiveScale(2)
	opts.Timeout = 20 * time.Millisecond
	results, err := New(judge, WithPause(0)).EvaluateBatch(context.Background(), requests(2), opts)
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.ErrorIs(t, results[0].Err, accuracy.ErrUpstreamScoring)
	assert.NoError(t, results[1].Err)
}

func TestEvaluateBatchDropsUndeclaredDimensions(t *testing.T) {
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		return &Judgement{
			Score:           4,
			DimensionScores: map[string]float64{"accuracy": 4, "style": 99},
			Reason:          "ok",
		}, nil
	})

	results, err := New(judge, WithPause(0)).EvaluateBatch(context.Background(), requests(1), fiveScale(1))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, accuracy.DimensionScores{"accuracy": 4}, results[0].DimensionScores)

	r := results[0].ItemResult()
	require.NotNil(t, r.Score)
	assert.Equal(t, 4.0, *r.Score)
	assert.Equal(t, "ok", r.Reason)
}

func TestEvaluateBatchRejectsDeclaredDimensionOutOfRange(t *testing.T) {
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		return &Judgement{Score: 1, DimensionScores: map[string]float64{"accuracy": 3}}, nil
	})

	opts := fiveScale(1)
	opts.ScoringMethod = accuracy.ScoringBinary
	results, err := New(judge, WithPause(0)).EvaluateBatch(context.Background(), requests(1), opts)
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, accuracy.ErrUpstreamScoring)
}

func TestEvaluateBatchCallbackStopsRun(t *testing.T) {
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		return &Judgement{Score: 2}, nil
	})

	stop := errors.New("test interrupted")
	var mu sync.Mutex
	var seen [][]Result
	opts := fiveScale(2)
	opts.OnSubBatch = func(ctx context.Context, results []Result) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, results)
		if len(seen) == 2 {
			return stop
		}
		return nil
	}

	results, err := New(judge, WithPause(0)).EvaluateBatch(context.Background(), requests(6), opts)
	assert.ErrorIs(t, err, stop)
	assert.Len(t, results, 4)
	assert.Len(t, seen, 2)
}

func TestEvaluateBatchHonoursCancellationBetweenSubBatches(t *testing.T) {
	judge := judgeFunc(func(ctx context.Context, req JudgeRequest) (*Judgement, error) {
		return &Judgement{Score: 2}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	opts := fiveScale(1)
	opts.OnSubBatch = func(context.Context, []Result) error {
		cancel()
		return nil
	}
	results, err := New(judge, WithPause(time.Hour)).EvaluateBatch(ctx, requests(3), opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
}

func TestEvaluateBatchRejectsUnknownScoringMethod(t *testing.T) {
	opts := fiveScale(1)
	opts.ScoringMethod = "ten_scale"
	_, err := New(judgeFunc(nil)).EvaluateBatch(context.Background(), requests(1), opts)
	assert.ErrorIs(t, err, accuracy.ErrValidation)
}
