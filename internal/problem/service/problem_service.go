package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"minoj/internal/problem/repository"
	pkgerrors "minoj/pkg/errors"
)

// ProblemService handles the admin surface of the problem and language
// registries. The judge path reads the repositories directly.
type ProblemService struct {
	problems  repository.ProblemRepository
	languages repository.LanguageRepository
}

func NewProblemService(problems repository.ProblemRepository, languages repository.LanguageRepository) (*ProblemService, error) {
	if problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if languages == nil {
		return nil, fmt.Errorf("language repository is required")
	}
	return &ProblemService{problems: problems, languages: languages}, nil
}

// CreateProblemInput represents input for problem creation.
type CreateProblemInput struct {
	ProblemID     string
	Title         string
	Difficulty    string
	TimeLimitMs   *int64
	MemoryLimitMB *int64
	TestCases     []repository.TestCase
}

// CreateProblem validates and stores a new problem with its testcases.
func (s *ProblemService) CreateProblem(ctx context.Context, input CreateProblemInput) error {
	if strings.TrimSpace(input.ProblemID) == "" {
		return pkgerrors.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return pkgerrors.ValidationError("title", "required")
	}
	if len(input.TestCases) == 0 {
		return pkgerrors.New(pkgerrors.TestCaseInvalid).WithMessage("at least one testcase is required")
	}
	for i, testCase := range input.TestCases {
		if testCase.Output == "" {
			return pkgerrors.New(pkgerrors.TestCaseInvalid).WithMessagef("testcase %d has no expected output", i+1)
		}
	}

	difficulty := repository.Difficulty(input.Difficulty)
	switch difficulty {
	case "":
		difficulty = repository.DifficultyMedium
	case repository.DifficultyEasy, repository.DifficultyMedium, repository.DifficultyHard:
	default:
		return pkgerrors.ValidationError("difficulty", "must be easy, medium or hard")
	}
	if input.TimeLimitMs != nil && *input.TimeLimitMs <= 0 {
		return pkgerrors.ValidationError("time_limit_ms", "must be positive")
	}
	if input.MemoryLimitMB != nil && *input.MemoryLimitMB <= 0 {
		return pkgerrors.ValidationError("memory_limit_mb", "must be positive")
	}

	err := s.problems.Create(ctx, nil, &repository.Problem{
		ProblemID:     input.ProblemID,
		Title:         input.Title,
		Difficulty:    difficulty,
		TimeLimitMs:   input.TimeLimitMs,
		MemoryLimitMB: input.MemoryLimitMB,
		TestCases:     input.TestCases,
	})
	if err != nil {
		if errors.Is(err, repository.ErrProblemExists) {
			return pkgerrors.New(pkgerrors.RecordAlreadyExists).WithMessage("problem id already exists")
		}
		return pkgerrors.Wrap(fmt.Errorf("create problem failed: %w", err), pkgerrors.DatabaseError)
	}
	return nil
}

// GetProblem returns one problem with its testcases.
func (s *ProblemService) GetProblem(ctx context.Context, problemID string) (*repository.Problem, error) {
	if strings.TrimSpace(problemID) == "" {
		return nil, pkgerrors.ValidationError("problem_id", "required")
	}
	problem, err := s.problems.GetByID(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	return problem, nil
}

// UpsertLanguageInput represents a language registry entry.
type UpsertLanguageInput struct {
	Name           string
	Extension      string
	CompileCommand string
	RunCommand     string
	TimeLimitMs    int64
	MemoryLimitMB  int64
	Image          string
}

// UpsertLanguage creates or replaces a language registry entry.
func (s *ProblemService) UpsertLanguage(ctx context.Context, input UpsertLanguageInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.ValidationError("name", "required")
	}
	if strings.TrimSpace(input.Extension) == "" {
		return pkgerrors.ValidationError("extension", "required")
	}
	if strings.TrimSpace(input.RunCommand) == "" {
		return pkgerrors.ValidationError("run_command", "required")
	}
	if input.TimeLimitMs <= 0 {
		return pkgerrors.ValidationError("time_limit_ms", "must be positive")
	}
	if input.MemoryLimitMB <= 0 {
		return pkgerrors.ValidationError("memory_limit_mb", "must be positive")
	}

	err := s.languages.Upsert(ctx, nil, &repository.Language{
		Name:           input.Name,
		Extension:      input.Extension,
		CompileCommand: input.CompileCommand,
		RunCommand:     input.RunCommand,
		TimeLimitMs:    input.TimeLimitMs,
		MemoryLimitMB:  input.MemoryLimitMB,
		Image:          input.Image,
	})
	if err != nil {
		return pkgerrors.Wrap(fmt.Errorf("upsert language failed: %w", err), pkgerrors.DatabaseError)
	}
	return nil
}

// ListLanguages returns all registered languages.
func (s *ProblemService) ListLanguages(ctx context.Context) ([]repository.Language, error) {
	languages, err := s.languages.List(ctx, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list languages failed: %w", err), pkgerrors.DatabaseError)
	}
	return languages, nil
}
