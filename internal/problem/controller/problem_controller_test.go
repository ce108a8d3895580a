package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"minoj/internal/common/db"
	"minoj/internal/problem/repository"
	"minoj/internal/problem/service"
	pkgerrors "minoj/pkg/errors"
)

type fakeProblemRepo struct {
	problems map[string]*repository.Problem
}

func (r *fakeProblemRepo) GetByID(ctx context.Context, tx db.Transaction, problemID string) (*repository.Problem, error) {
	problem, ok := r.problems[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return problem, nil
}

func (r *fakeProblemRepo) Exists(ctx context.Context, tx db.Transaction, problemID string) (bool, error) {
	_, ok := r.problems[problemID]
	return ok, nil
}

func (r *fakeProblemRepo) Create(ctx context.Context, tx db.Transaction, problem *repository.Problem) error {
	return nil
}

type fakeLanguageRepo struct {
	languages []repository.Language
}

func (r *fakeLanguageRepo) GetByName(ctx context.Context, tx db.Transaction, name string) (*repository.Language, error) {
	for _, language := range r.languages {
		if language.Name == name {
			return &language, nil
		}
	}
	return nil, repository.ErrLanguageNotFound
}

func (r *fakeLanguageRepo) List(ctx context.Context, tx db.Transaction) ([]repository.Language, error) {
	return r.languages, nil
}

func (r *fakeLanguageRepo) Upsert(ctx context.Context, tx db.Transaction, language *repository.Language) error {
	r.languages = append(r.languages, *language)
	return nil
}

func newTestRouter(t *testing.T, problems *fakeProblemRepo, languages *fakeLanguageRepo) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, err := service.NewProblemService(problems, languages)
	if err != nil {
		t.Fatalf("NewProblemService: %v", err)
	}
	router := gin.New()
	allowAll := func(c *gin.Context) { c.Next() }
	NewProblemController(svc).RegisterRoutes(router.Group("/api/v1"), allowAll)
	return router
}

func TestListLanguagesEndpoint(t *testing.T) {
	languages := &fakeLanguageRepo{languages: []repository.Language{
		{Name: "cpp", Extension: "cpp", CompileCommand: "g++ -O2 -o {exe} {src}", RunCommand: "./{exe}", TimeLimitMs: 1000, MemoryLimitMB: 256},
		{Name: "python3", Extension: "py", RunCommand: "python3 {src}", TimeLimitMs: 3000, MemoryLimitMB: 512},
	}}
	router := newTestRouter(t, &fakeProblemRepo{problems: map[string]*repository.Problem{}}, languages)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/languages", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Code pkgerrors.ErrorCode `json:"code"`
		Data []LanguageResponse  `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != pkgerrors.Success {
		t.Fatalf("code = %d, want %d", body.Code, pkgerrors.Success)
	}
	if len(body.Data) != 2 {
		t.Fatalf("got %d languages, want 2", len(body.Data))
	}
	got := body.Data[0]
	if got.Name != "cpp" || got.Extension != "cpp" || got.TimeLimitMs != 1000 || got.MemoryLimitMB != 256 {
		t.Fatalf("unexpected first entry: %+v", got)
	}
}

func TestGetProblemEndpointHidesTestCases(t *testing.T) {
	timeLimit := int64(2000)
	problems := &fakeProblemRepo{problems: map[string]*repository.Problem{
		"p1001": {
			ProblemID:   "p1001",
			Title:       "A + B",
			Difficulty:  repository.DifficultyEasy,
			TimeLimitMs: &timeLimit,
			TestCases: []repository.TestCase{
				{Input: "1 2\n", Output: "3\n"},
				{Input: "4 5\n", Output: "9\n"},
			},
		},
	}}
	router := newTestRouter(t, problems, &fakeLanguageRepo{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/problems/p1001", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Data ProblemResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.ProblemID != "p1001" || body.Data.TestCount != 2 {
		t.Fatalf("unexpected payload: %+v", body.Data)
	}
	if strings.Contains(rec.Body.String(), "1 2") {
		t.Fatalf("testcase contents leaked: %s", rec.Body.String())
	}
}
