package controller

import (
	"github.com/gin-gonic/gin"

	"minoj/internal/problem/repository"
	"minoj/internal/problem/service"
	pkgerrors "minoj/pkg/errors"
	"minoj/pkg/utils/response"
)

// ProblemController handles the admin problem and language endpoints.
type ProblemController struct {
	problemService *service.ProblemService
}

// NewProblemController creates a new ProblemController.
func NewProblemController(problemService *service.ProblemService) *ProblemController {
	return &ProblemController{problemService: problemService}
}

// RegisterRoutes mounts the problem routes. Mutating endpoints are
// restricted to admins.
func (h *ProblemController) RegisterRoutes(rg *gin.RouterGroup, adminOnly gin.HandlerFunc) {
	rg.GET("/problems/:id", h.Get)
	rg.GET("/languages", h.ListLanguages)
	rg.POST("/problems", adminOnly, h.Create)
	rg.PUT("/languages/:name", adminOnly, h.UpsertLanguage)
}

// Create handles problem creation.
func (h *ProblemController) Create(c *gin.Context) {
	var req CreateProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid request parameters")
		return
	}

	testCases := make([]repository.TestCase, 0, len(req.TestCases))
	for _, testCase := range req.TestCases {
		testCases = append(testCases, repository.TestCase{
			Input:  testCase.Input,
			Output: testCase.Output,
		})
	}

	err := h.problemService.CreateProblem(c.Request.Context(), service.CreateProblemInput{
		ProblemID:     req.ProblemID,
		Title:         req.Title,
		Difficulty:    req.Difficulty,
		TimeLimitMs:   req.TimeLimitMs,
		MemoryLimitMB: req.MemoryLimitMB,
		TestCases:     testCases,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, CreateProblemResponse{ProblemID: req.ProblemID})
}

// Get handles a single problem query. Testcase contents are not exposed.
func (h *ProblemController) Get(c *gin.Context) {
	problem, err := h.problemService.GetProblem(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, ProblemResponse{
		ProblemID:     problem.ProblemID,
		Title:         problem.Title,
		Difficulty:    string(problem.Difficulty),
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitMB: problem.MemoryLimitMB,
		TestCount:     len(problem.TestCases),
	})
}

// UpsertLanguage handles language registry updates.
func (h *ProblemController) UpsertLanguage(c *gin.Context) {
	var req UpsertLanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid request parameters")
		return
	}

	err := h.problemService.UpsertLanguage(c.Request.Context(), service.UpsertLanguageInput{
		Name:           c.Param("name"),
		Extension:      req.Extension,
		CompileCommand: req.CompileCommand,
		RunCommand:     req.RunCommand,
		TimeLimitMs:    req.TimeLimitMs,
		MemoryLimitMB:  req.MemoryLimitMB,
		Image:          req.Image,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, nil)
}

// ListLanguages handles the language registry listing.
func (h *ProblemController) ListLanguages(c *gin.Context) {
	languages, err := h.problemService.ListLanguages(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]LanguageResponse, 0, len(languages))
	for _, language := range languages {
		items = append(items, LanguageResponse{
			Name:          language.Name,
			Extension:     language.Extension,
			TimeLimitMs:   language.TimeLimitMs,
			MemoryLimitMB: language.MemoryLimitMB,
		})
	}
	response.Success(c, items)
}

// CreateProblemRequest defines the problem creation payload.
type CreateProblemRequest struct {
	ProblemID     string            `json:"problem_id" binding:"required"`
	Title         string            `json:"title" binding:"required"`
	Difficulty    string            `json:"difficulty"`
	TimeLimitMs   *int64            `json:"time_limit_ms"`
	MemoryLimitMB *int64            `json:"memory_limit_mb"`
	TestCases     []TestCaseRequest `json:"testcases" binding:"required"`
}

// TestCaseRequest defines one testcase of a problem creation payload.
type TestCaseRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// CreateProblemResponse defines the problem creation response payload.
type CreateProblemResponse struct {
	ProblemID string `json:"problem_id"`
}

// ProblemResponse defines the problem query response payload.
type ProblemResponse struct {
	ProblemID     string `json:"problem_id"`
	Title         string `json:"title"`
	Difficulty    string `json:"difficulty"`
	TimeLimitMs   *int64 `json:"time_limit_ms,omitempty"`
	MemoryLimitMB *int64 `json:"memory_limit_mb,omitempty"`
	TestCount     int    `json:"test_count"`
}

// LanguageResponse defines one entry of the language listing payload.
type LanguageResponse struct {
	Name          string `json:"name"`
	Extension     string `json:"extension"`
	TimeLimitMs   int64  `json:"time_limit_ms"`
	MemoryLimitMB int64  `json:"memory_limit_mb"`
}

// UpsertLanguageRequest defines the language registry payload.
type UpsertLanguageRequest struct {
	Extension      string `json:"extension" binding:"required"`
	CompileCommand string `json:"compile_command"`
	RunCommand     string `json:"run_command" binding:"required"`
	TimeLimitMs    int64  `json:"time_limit_ms" binding:"required"`
	MemoryLimitMB  int64  `json:"memory_limit_mb" binding:"required"`
	Image          string `json:"image"`
}
