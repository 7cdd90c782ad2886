package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"rageval/src/core/accuracy"
	jobctrl "rageval/src/infrastructure/job"
	"rageval/src/log"
)

// UserIDHeader carries the caller identity set by the gateway
const UserIDHeader = "X-User-ID"

// AIEvaluationQueue schedules the AI track of a running test
type AIEvaluationQueue interface {
	EnqueueAIEvaluation(ctx context.Context, testID int64, retryFailed bool) (*jobctrl.Job, error)
}

type AccuracyHandler struct {
	svc   *accuracy.Service
	queue AIEvaluationQueue
}

// NewAccuracyHandler builds the handler. queue may be nil, in which case the
// AI track has to be driven out of band (for example by the evaluate command).
func NewAccuracyHandler(svc *accuracy.Service, queue AIEvaluationQueue) *AccuracyHandler {
	return &AccuracyHandler{svc: svc, queue: queue}
}

func (h *AccuracyHandler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/api/v1/accuracy")

	g.POST("/tests", h.CreateTest)
	g.GET("/projects/:projectId/tests", h.ListTests)
	g.GET("/projects/:projectId/running-tests", h.RunningTests)

	g.GET("/tests/:id", h.GetTest)
	g.DELETE("/tests/:id", h.DeleteTest)
	g.GET("/tests/:id/progress", h.GetProgress)
	g.POST("/tests/:id/start", h.StartTest)
	g.POST("/tests/:id/fail", h.FailTest)
	g.POST("/tests/:id/interrupt", h.InterruptTest)
	g.POST("/tests/:id/reset", h.ResetTest)
	g.POST("/tests/:id/ai-evaluation", h.EnqueueAIEvaluation)

	g.GET("/tests/:id/items", h.ListItems)
	g.POST("/tests/:id/items", h.SubmitItemResults)

	g.GET("/tests/:id/assignments", h.ListAssignments)
	g.POST("/tests/:id/assignments", h.CreateAssignment)

	g.GET("/review/:code", h.OpenAssignment)
	g.POST("/review/:code/items/:itemId", h.SubmitAssignmentResult)
}

type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// sendError maps domain errors to a status; unknown errors keep the given status
func sendError(c *gin.Context, status int, err error) {
	var code string
	switch {
	case errors.Is(err, accuracy.ErrAssignmentExpired):
		code = "ASSIGNMENT_EXPIRED"
		status = http.StatusGone
	case errors.Is(err, accuracy.ErrValidation):
		code = "VALIDATION_ERROR"
		status = http.StatusBadRequest
	case errors.Is(err, accuracy.ErrNotFound):
		code = "NOT_FOUND"
		status = http.StatusNotFound
	case errors.Is(err, accuracy.ErrInvalidState):
		code = "INVALID_STATE"
		status = http.StatusConflict
	case errors.Is(err, accuracy.ErrNoAssignableItems):
		code = "NO_ASSIGNABLE_ITEMS"
		status = http.StatusUnprocessableEntity
	case errors.Is(err, accuracy.ErrPersistenceConflict):
		code = "CONFLICT"
		status = http.StatusServiceUnavailable
	case status == http.StatusBadRequest:
		code = "BAD_REQUEST"
	default:
		code = "INTERNAL_ERROR"
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		log.Error(err, "request failed", "path", c.FullPath())
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, errors.New("invalid "+name))
		return 0, false
	}
	return id, true
}

func actor(c *gin.Context) string {
	return c.GetHeader(UserIDHeader)
}

func (h *AccuracyHandler) CreateTest(c *gin.Context) {
	var spec accuracy.TestSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	test, err := h.svc.CreateTest(c.Request.Context(), spec, actor(c))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusCreated, test)
}

func (h *AccuracyHandler) ListTests(c *gin.Context) {
	tests, err := h.svc.ListTests(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, tests)
}

func (h *AccuracyHandler) RunningTests(c *gin.Context) {
	tests, err := h.svc.RunningTests(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, tests)
}

func (h *AccuracyHandler) GetTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	test, err := h.svc.GetTest(c.Request.Context(), id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, test)
}

func (h *AccuracyHandler) DeleteTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteTest(c.Request.Context(), id); err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccuracyHandler) GetProgress(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.GetProgress(c.Request.Context(), id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, p)
}

type startResponse struct {
	Test  *accuracy.Test `json:"test"`
	JobID *int64         `json:"job_id,omitempty"`
}

func (h *AccuracyHandler) StartTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	test, err := h.svc.StartTest(ctx, id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	resp := startResponse{Test: test}
	if h.queue != nil && test.EvaluationType.UsesAI() && test.Status == accuracy.TestStatusRunning {
		job, err := h.queue.EnqueueAIEvaluation(ctx, test.ID, false)
		if err != nil {
			sendError(c, http.StatusInternalServerError, err)
			return
		}
		resp.JobID = &job.ID
	}
	sendJSON(c, http.StatusOK, resp)
}

type enqueueRequest struct {
	RetryFailed bool `json:"retry_failed"`
}

// EnqueueAIEvaluation resumes the AI track of a running test
func (h *AccuracyHandler) EnqueueAIEvaluation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req enqueueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, err)
			return
		}
	}
	if h.queue == nil {
		sendError(c, http.StatusServiceUnavailable, errors.New("job queue is not configured"))
		return
	}
	ctx := c.Request.Context()
	test, err := h.svc.GetTest(ctx, id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if !test.EvaluationType.UsesAI() || test.Status != accuracy.TestStatusRunning {
		sendError(c, http.StatusConflict, accuracy.ErrInvalidState)
		return
	}
	job, err := h.queue.EnqueueAIEvaluation(ctx, id, req.RetryFailed)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusAccepted, job)
}

type failRequest struct {
	Details map[string]any `json:"details"`
}

func (h *AccuracyHandler) FailTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	test, err := h.svc.FailTest(c.Request.Context(), id, req.Details)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, test)
}

type interruptRequest struct {
	Reason string `json:"reason"`
}

func (h *AccuracyHandler) InterruptTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req interruptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, err)
			return
		}
	}
	test, err := h.svc.InterruptTest(c.Request.Context(), id, req.Reason)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, test)
}

// ResetTest resets a test; ?force=true also revives completed and interrupted tests
func (h *AccuracyHandler) ResetTest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var (
		test *accuracy.Test
		err  error
	)
	if force, _ := strconv.ParseBool(c.Query("force")); force {
		test, err = h.svc.ForceResetTest(c.Request.Context(), id, actor(c))
	} else {
		test, err = h.svc.ResetTest(c.Request.Context(), id)
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, test)
}

type itemsResponse struct {
	Items []accuracy.Item `json:"items"`
	Total int64           `json:"total"`
}

func (h *AccuracyHandler) ListItems(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	q := accuracy.ItemQuery{TestID: id}
	for _, raw := range c.QueryArray("status") {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				q.Statuses = append(q.Statuses, accuracy.ItemStatus(st))
			}
		}
	}
	var err error
	if q.MinScore, err = queryFloat(c, "min_score"); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	if q.MaxScore, err = queryFloat(c, "max_score"); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	if q.Offset, err = queryInt(c, "offset"); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	items, total, err := h.svc.ListItems(c.Request.Context(), q)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []accuracy.Item{}
	}
	sendJSON(c, http.StatusOK, itemsResponse{Items: items, Total: total})
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errors.New("invalid " + key)
	}
	return &v, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return v, nil
}

type submitRequest struct {
	Results []accuracy.ItemResult `json:"results" binding:"required"`
}

func (h *AccuracyHandler) SubmitItemResults(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	// human verdicts posted without an evaluator are attributed to the caller
	for i := range req.Results {
		if req.Results[i].Track == accuracy.TrackHuman && req.Results[i].EvaluatorID == "" {
			req.Results[i].EvaluatorID = actor(c)
		}
	}
	out, err := h.svc.SubmitItemResults(c.Request.Context(), id, req.Results)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, out)
}

func (h *AccuracyHandler) ListAssignments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.svc.ListAssignments(c.Request.Context(), id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, list)
}

func (h *AccuracyHandler) CreateAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req accuracy.AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	req.TestID = id
	a, err := h.svc.CreateAssignment(c.Request.Context(), req, actor(c))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusCreated, a)
}

type reviewResponse struct {
	Assignment *accuracy.Assignment `json:"assignment"`
	Items      []accuracy.Item      `json:"items"`
}

func (h *AccuracyHandler) OpenAssignment(c *gin.Context) {
	a, items, err := h.svc.OpenAssignment(c.Request.Context(), c.Param("code"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, reviewResponse{Assignment: a, Items: items})
}

type reviewRequest struct {
	Score           *float64                 `json:"score" binding:"required"`
	DimensionScores accuracy.DimensionScores `json:"dimension_scores"`
	Reason          string                   `json:"reason"`
}

func (h *AccuracyHandler) SubmitAssignmentResult(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	a, err := h.svc.SubmitAssignmentResult(c.Request.Context(), c.Param("code"), itemID, *req.Score, req.DimensionScores, req.Reason)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	sendJSON(c, http.StatusOK, a)
}
