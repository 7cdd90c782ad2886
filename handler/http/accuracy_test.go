package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rageval/src/core/accuracy"
	jobctrl "rageval/src/infrastructure/job"
	"rageval/src/storage/memstore"
)

type fakeQueue struct {
	calls []int64
	retry []bool
}

func (q *fakeQueue) EnqueueAIEvaluation(ctx context.Context, testID int64, retryFailed bool) (*jobctrl.Job, error) {
	q.calls = append(q.calls, testID)
	q.retry = append(q.retry, retryFailed)
	return &jobctrl.Job{ID: int64(len(q.calls)), TaskType: jobctrl.TaskTypeAIEvaluation, Status: jobctrl.JobStatusPending}, nil
}

type server struct {
	router *gin.Engine
	svc    *accuracy.Service
	queue  *fakeQueue
}

func newServer(t *testing.T, questions int) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	data := memstore.NewDataset()
	for i := 1; i <= questions; i++ {
		data.AddQuestion("ds", accuracy.Question{ID: fmt.Sprintf("q%d", i), Text: fmt.Sprintf("question %d", i), ReferenceAnswer: "ref"})
		data.AddAnswer(accuracy.Answer{ID: fmt.Sprintf("a%d", i), QuestionID: fmt.Sprintf("q%d", i), Text: "answer", CreatedAt: time.Now()})
	}
	svc, err := accuracy.NewService(memstore.New(), data, data, accuracy.WithTransactionRetry(3, time.Millisecond))
	require.NoError(t, err)

	s := &server{router: gin.New(), svc: svc, queue: &fakeQueue{}}
	NewAccuracyHandler(svc, s.queue).RegisterRoutes(s.router)
	return s
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserIDHeader, "alice")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *server) createTest(t *testing.T, typ accuracy.EvaluationType) accuracy.Test {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/accuracy/tests", accuracy.TestSpec{
		ProjectID:      "p1",
		DatasetID:      "ds",
		Name:           "nightly",
		EvaluationType: typ,
		ScoringMethod:  accuracy.ScoringFiveScale,
		Dimensions:     []string{"accuracy"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[accuracy.Test](t, w)
}

func testPath(id int64, suffix string) string {
	return "/api/v1/accuracy/tests/" + strconv.FormatInt(id, 10) + suffix
}

func TestCreateAndStartManualTest(t *testing.T) {
	s := newServer(t, 2)
	test := s.createTest(t, accuracy.EvaluationTypeManual)
	assert.Equal(t, accuracy.TestStatusCreated, test.Status)
	assert.Equal(t, 2, test.Total)
	assert.Equal(t, "alice", test.CreatedBy)

	w := s.do(t, http.MethodPost, testPath(test.ID, "/start"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[startResponse](t, w)
	assert.Equal(t, accuracy.TestStatusRunning, resp.Test.Status)
	assert.Nil(t, resp.JobID)
	assert.Empty(t, s.queue.calls)

	w = s.do(t, http.MethodPost, testPath(test.ID, "/items"), submitRequest{Results: []accuracy.ItemResult{
		{QuestionID: "q1", Track: accuracy.TrackHuman, Score: ptr(4.0), DimensionScores: accuracy.DimensionScores{"accuracy": 4}},
		{QuestionID: "q2", Track: accuracy.TrackHuman, Score: ptr(2.0), DimensionScores: accuracy.DimensionScores{"accuracy": 2}},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[accuracy.SubmitOutcome](t, w)
	assert.Equal(t, 2, out.Applied)
	assert.True(t, out.Completed)

	w = s.do(t, http.MethodGet, testPath(test.ID, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[accuracy.Test](t, w)
	assert.Equal(t, accuracy.TestStatusCompleted, got.Status)
	require.NotNil(t, got.ResultsSummary)
	assert.InDelta(t, 3.0, got.ResultsSummary.OverallScore, 1e-9)

	items := decode[itemsResponse](t, s.do(t, http.MethodGet, testPath(test.ID, "/items?min_score=3"), nil))
	require.Len(t, items.Items, 1)
	assert.Equal(t, "q1", items.Items[0].QuestionID)
	assert.Equal(t, "alice", items.Items[0].HumanEvaluatorID)
	assert.EqualValues(t, 1, items.Total)
}

func TestStartAITestEnqueuesEvaluation(t *testing.T) {
	s := newServer(t, 1)
	test := s.createTest(t, accuracy.EvaluationTypeAI)

	w := s.do(t, http.MethodPost, testPath(test.ID, "/start"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[startResponse](t, w)
	require.NotNil(t, resp.JobID)
	assert.Equal(t, []int64{test.ID}, s.queue.calls)

	w = s.do(t, http.MethodPost, testPath(test.ID, "/ai-evaluation"), enqueueRequest{RetryFailed: true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []bool{false, true}, s.queue.retry)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t, 1)
	test := s.createTest(t, accuracy.EvaluationTypeManual)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad id", http.MethodGet, "/api/v1/accuracy/tests/abc", nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing test", http.MethodGet, testPath(42, ""), nil, http.StatusNotFound, "NOT_FOUND"},
		{"invalid spec", http.MethodPost, "/api/v1/accuracy/tests", accuracy.TestSpec{Name: "x"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"submit before start", http.MethodPost, testPath(test.ID, "/items"), submitRequest{Results: []accuracy.ItemResult{
			{QuestionID: "q1", Track: accuracy.TrackHuman, Score: ptr(3.0)},
		}}, http.StatusConflict, "INVALID_STATE"},
		{"ai evaluation on manual test", http.MethodPost, testPath(test.ID, "/ai-evaluation"), nil, http.StatusConflict, "INVALID_STATE"},
		{"unknown review code", http.MethodGet, "/api/v1/accuracy/review/NOPE", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad limit", http.MethodGet, testPath(test.ID, "/items?limit=ten"), nil, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestSendErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{accuracy.ErrAssignmentExpired, http.StatusGone, "ASSIGNMENT_EXPIRED"},
		{accuracy.ErrAssignmentClosed, http.StatusConflict, "INVALID_STATE"},
		{accuracy.ErrNoItemsMaterialized, http.StatusBadRequest, "VALIDATION_ERROR"},
		{fmt.Errorf("wrapped: %w", accuracy.ErrNoAssignableItems), http.StatusUnprocessableEntity, "NO_ASSIGNABLE_ITEMS"},
		{accuracy.ErrPersistenceConflict, http.StatusServiceUnavailable, "CONFLICT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		sendError(c, http.StatusInternalServerError, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.code, decode[ErrorResponse](t, w).Code)
	}
}

func TestAssignmentReviewFlow(t *testing.T) {
	s := newServer(t, 3)
	test := s.createTest(t, accuracy.EvaluationTypeManual)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, testPath(test.ID, "/start"), nil).Code)

	w := s.do(t, http.MethodPost, testPath(test.ID, "/assignments"), map[string]any{
		"evaluator_name":  "Rev",
		"evaluator_email": "rev@example.com",
		"item_count":      2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	a := decode[accuracy.Assignment](t, w)
	assert.Equal(t, test.ID, a.TestID)
	assert.Equal(t, 2, a.TotalItems)
	assert.Equal(t, "alice", a.CreatedBy)

	w = s.do(t, http.MethodGet, "/api/v1/accuracy/review/"+a.AccessCode, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	review := decode[reviewResponse](t, w)
	require.Len(t, review.Items, 2)

	for i, it := range review.Items {
		path := "/api/v1/accuracy/review/" + a.AccessCode + "/items/" + strconv.FormatInt(it.ID, 10)
		w = s.do(t, http.MethodPost, path, map[string]any{"score": 5, "reason": "ok"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[accuracy.Assignment](t, w)
		assert.Equal(t, i+1, got.CompletedItems)
	}

	w = s.do(t, http.MethodPost, "/api/v1/accuracy/review/"+a.AccessCode+"/items/"+strconv.FormatInt(review.Items[0].ID, 10), map[string]any{"score": 5})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/accuracy/review/"+a.AccessCode+"/items/1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list := decode[[]accuracy.Assignment](t, s.do(t, http.MethodGet, testPath(test.ID, "/assignments"), nil))
	require.Len(t, list, 1)
	assert.Equal(t, accuracy.AssignmentCompleted, list[0].Status)

	p := decode[accuracy.Progress](t, s.do(t, http.MethodGet, testPath(test.ID, "/progress"), nil))
	assert.Equal(t, 2, p.Processed)
	assert.Equal(t, 3, p.Total)
}

func TestInterruptAndForceReset(t *testing.T) {
	s := newServer(t, 1)
	test := s.createTest(t, accuracy.EvaluationTypeManual)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, testPath(test.ID, "/start"), nil).Code)

	w := s.do(t, http.MethodPost, testPath(test.ID, "/interrupt"), interruptRequest{Reason: "operator"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, accuracy.TestStatusInterrupted, decode[accuracy.Test](t, w).Status)

	w = s.do(t, http.MethodPost, testPath(test.ID, "/reset"), nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, testPath(test.ID, "/reset?force=true"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, accuracy.TestStatusCreated, decode[accuracy.Test](t, w).Status)

	tests := decode[[]accuracy.Test](t, s.do(t, http.MethodGet, "/api/v1/accuracy/projects/p1/tests", nil))
	require.Len(t, tests, 1)

	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, testPath(test.ID, ""), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, testPath(test.ID, ""), nil).Code)
}

func ptr(v float64) *float64 { return &v }
