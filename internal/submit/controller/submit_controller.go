package controller

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"minoj/internal/common/http/middleware"
	"minoj/internal/submit/repository"
	"minoj/internal/submit/service"
	pkgerrors "minoj/pkg/errors"
	"minoj/pkg/utils/logger"
	"minoj/pkg/utils/response"
)

const statusPollInterval = 500 * time.Millisecond

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
	upgrader      websocket.Upgrader
}

func NewSubmitController(submitService *service.SubmitService) *SubmitController {
	return &SubmitController{
		submitService: submitService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the submission endpoints on the given router
// group. The group must run the auth middleware.
func (h *SubmitController) RegisterRoutes(rg *gin.RouterGroup, adminOnly gin.HandlerFunc) {
	rg.POST("/submissions", h.Create)
	rg.GET("/submissions", h.List)
	rg.GET("/submissions/:id", h.Get)
	rg.GET("/submissions/:id/log", h.GetLog)
	rg.GET("/submissions/:id/ws", h.WatchStatus)
	rg.PUT("/submissions/:id/rejudge", adminOnly, h.Rejudge)
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid request parameters")
		return
	}

	submissionID, err := h.submitService.Submit(c.Request.Context(), viewer, service.SubmitInput{
		ProblemID: req.ProblemID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, SubmitResponse{
		SubmissionID: submissionID,
		Status:       string(repository.StatusPending),
	})
}

// Get returns the score/counts view of one submission.
func (h *SubmitController) Get(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	submission, err := h.submitService.GetSubmission(c.Request.Context(), viewer, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission))
}

// GetLog returns the full per-test log of one submission.
func (h *SubmitController) GetLog(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	submission, tests, err := h.submitService.GetLog(c.Request.Context(), viewer, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]TestRecordResponse, 0, len(tests))
	for _, test := range tests {
		items = append(items, TestRecordResponse{
			Ordinal:  test.Ordinal,
			Result:   test.Result,
			TimeMs:   test.TimeMs,
			MemoryKB: test.MemoryKB,
		})
	}
	response.Success(c, LogResponse{
		Submission: toSubmissionResponse(submission),
		Tests:      items,
	})
}

// List returns one page of submissions filtered by user and/or problem.
func (h *SubmitController) List(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	input, err := parseListQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	page, err := h.submitService.List(c.Request.Context(), viewer, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]ListItemResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, ListItemResponse{
			SubmissionID: item.SubmissionID,
			Status:       string(item.Status),
			Score:        item.Score,
			Counts:       item.Counts,
		})
	}
	response.SuccessWithPagination(c, items, page.Total, int(input.Page), int(input.PageSize), int(page.TotalPages))
}

// Rejudge pushes one submission back through the judge pipeline.
func (h *SubmitController) Rejudge(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}

	if err := h.submitService.Rejudge(c.Request.Context(), viewer, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{
		SubmissionID: c.Param("id"),
		Status:       string(repository.StatusPending),
	})
}

// WatchStatus streams submission status over a websocket until the
// submission leaves the pending state. Each poll tick pushes the current
// score/counts view; the final frame carries the terminal status.
func (h *SubmitController) WatchStatus(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		response.ErrorWithCode(c, pkgerrors.Unauthorized, "")
		return
	}
	submissionID := c.Param("id")

	// Authorization and existence are checked before the upgrade so the
	// client gets a proper HTTP error instead of a dropped socket.
	if _, err := h.submitService.GetSubmission(c.Request.Context(), viewer, submissionID); err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := c.Request.Context()
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		submission, err := h.submitService.GetSubmission(ctx, viewer, submissionID)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"error": pkgerrors.GetCode(err).Message()})
			return
		}
		if err := conn.WriteJSON(toSubmissionResponse(submission)); err != nil {
			return
		}
		if submission.Status != repository.StatusPending {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func viewerFrom(c *gin.Context) (service.Viewer, bool) {
	userID, role, ok := middleware.CurrentUser(c)
	if !ok {
		return service.Viewer{}, false
	}
	return service.Viewer{UserID: userID, Role: role}, true
}

func parseListQuery(c *gin.Context) (service.ListInput, error) {
	var input service.ListInput

	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			return input, pkgerrors.ValidationError("user_id", "must be a positive integer")
		}
		input.UserID = &userID
	}
	if raw := strings.TrimSpace(c.Query("problem_id")); raw != "" {
		problemID := raw
		input.ProblemID = &problemID
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := repository.Status(raw)
		switch status {
		case repository.StatusPending, repository.StatusSuccess, repository.StatusError:
			input.Status = &status
		default:
			return input, pkgerrors.ValidationError("status", "must be pending, success or error")
		}
	}
	if raw := c.DefaultQuery("page", "1"); raw != "" {
		page, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || page <= 0 {
			return input, pkgerrors.ValidationError("page", "must be a positive integer")
		}
		input.Page = page
	}
	if raw := c.DefaultQuery("page_size", "20"); raw != "" {
		pageSize, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || pageSize <= 0 || pageSize > 100 {
			return input, pkgerrors.ValidationError("page_size", "must be between 1 and 100")
		}
		input.PageSize = pageSize
	}
	return input, nil
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	ProblemID string `json:"problem_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// SubmissionResponse defines the score/counts view payload.
type SubmissionResponse struct {
	SubmissionID   string    `json:"submission_id"`
	UserID         int64     `json:"user_id"`
	ProblemID      string    `json:"problem_id"`
	Language       string    `json:"language"`
	Status         string    `json:"status"`
	Score          *int64    `json:"score"`
	Counts         *int64    `json:"counts"`
	SubmissionTime time.Time `json:"submission_time"`
}

// TestRecordResponse defines one per-test log entry.
type TestRecordResponse struct {
	Ordinal  int64  `json:"ordinal"`
	Result   string `json:"result"`
	TimeMs   int64  `json:"time_ms"`
	MemoryKB int64  `json:"memory_kb"`
}

// LogResponse defines the full log payload.
type LogResponse struct {
	Submission SubmissionResponse   `json:"submission"`
	Tests      []TestRecordResponse `json:"tests"`
}

// ListItemResponse defines one listing row.
type ListItemResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Score        *int64 `json:"score"`
	Counts       *int64 `json:"counts"`
}

func toSubmissionResponse(submission *repository.Submission) SubmissionResponse {
	return SubmissionResponse{
		SubmissionID:   submission.SubmissionID,
		UserID:         submission.UserID,
		ProblemID:      submission.ProblemID,
		Language:       submission.Language,
		Status:         string(submission.Status),
		Score:          submission.Score,
		Counts:         submission.Counts,
		SubmissionTime: submission.SubmissionTime,
	}
}
