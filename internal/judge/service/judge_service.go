package service

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"minoj/internal/judge/sandbox"
	problemrepo "minoj/internal/problem/repository"
	appErr "minoj/pkg/errors"
	"minoj/pkg/utils/logger"
)

// Runner is the sandbox surface the judge needs. *sandbox.Runner
// implements it; tests substitute fakes.
type Runner interface {
	Compile(ctx context.Context, req sandbox.CompileRequest) (bool, error)
	RunTest(ctx context.Context, req sandbox.TestRequest) (sandbox.TestResult, error)
}

// Service judges one submission end to end: materialize the source,
// compile when the language requires it, then run every testcase in
// order inside the sandbox.
type Service struct {
	runner    Runner
	languages problemrepo.LanguageRepository
	problems  problemrepo.ProblemRepository
	workRoot  string
}

// Config holds service dependencies and settings.
type Config struct {
	Runner    Runner
	Languages problemrepo.LanguageRepository
	Problems  problemrepo.ProblemRepository
	WorkRoot  string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Runner == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("runner is required")
	}
	if cfg.Languages == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("language repository is required")
	}
	if cfg.Problems == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("problem repository is required")
	}
	if cfg.WorkRoot == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("work root is required")
	}
	return &Service{
		runner:    cfg.Runner,
		languages: cfg.Languages,
		problems:  cfg.Problems,
		workRoot:  cfg.WorkRoot,
	}, nil
}

// Request identifies the submission to judge.
type Request struct {
	SubmissionID string
	ProblemID    string
	Language     string
	Code         string
}

const executableName = "program"

// Judge runs the full pipeline and returns one result per testcase, in
// testcase order. Any returned error means the submission could not be
// judged and must go to ERROR.
func (s *Service) Judge(ctx context.Context, req Request) ([]sandbox.TestResult, error) {
	if req.SubmissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if req.Code == "" {
		return nil, appErr.ValidationError("code", "required")
	}

	language, err := s.languages.GetByName(ctx, nil, req.Language)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LanguageNotSupported, "resolve language %s", req.Language)
	}
	problem, err := s.problems.GetByID(ctx, nil, req.ProblemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ProblemNotFound, "resolve problem %s", req.ProblemID)
	}
	if len(problem.TestCases) == 0 {
		return nil, appErr.New(appErr.TestCaseInvalid).WithMessage("problem has no testcases")
	}

	workDir := filepath.Join(s.workRoot, "submission-"+req.SubmissionID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create work dir")
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn(ctx, "remove judge work dir failed",
				zap.String("submission_id", req.SubmissionID), zap.Error(err))
		}
	}()

	sourceName := "code." + language.Extension
	if err := os.WriteFile(filepath.Join(workDir, sourceName), []byte(req.Code), 0644); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "write source file")
	}

	if language.CompileCommand != "" {
		ok, err := s.compile(ctx, req.SubmissionID, workDir, language, sourceName)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Info(ctx, "compilation failed",
				zap.String("submission_id", req.SubmissionID), zap.String("language", language.Name))
			return compileErrorResults(len(problem.TestCases)), nil
		}
	}

	runCmd, err := sandbox.RenderCommand(language.RunCommand, sourceName, executableName)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "render run command")
	}
	limits := effectiveLimits(problem, language)

	results := make([]sandbox.TestResult, 0, len(problem.TestCases))
	for i, testCase := range problem.TestCases {
		result, err := s.runner.RunTest(ctx, sandbox.TestRequest{
			SubmissionID: req.SubmissionID,
			TestID:       strconv.Itoa(i + 1),
			WorkDir:      workDir,
			Cmd:          runCmd,
			Profile:      language.Image,
			Input:        testCase.Input,
			Expected:     testCase.Output,
			Limits:       limits,
		})
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxCreateFailed, "run testcase %d", i+1)
		}
		results = append(results, result)
	}

	logger.Info(ctx, "submission judged",
		zap.String("submission_id", req.SubmissionID),
		zap.Int("tests", len(results)))
	return results, nil
}

func (s *Service) compile(ctx context.Context, submissionID, workDir string, language *problemrepo.Language, sourceName string) (bool, error) {
	cmd, err := sandbox.RenderCommand(language.CompileCommand, sourceName, executableName)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.JudgeSystemError, "render compile command")
	}
	ok, err := s.runner.Compile(ctx, sandbox.CompileRequest{
		SubmissionID: submissionID,
		WorkDir:      workDir,
		Cmd:          cmd,
		Profile:      language.Image,
	})
	if err != nil {
		return false, appErr.Wrapf(err, appErr.SandboxCreateFailed, "compile submission")
	}
	return ok, nil
}

// effectiveLimits merges the problem's overrides over the language
// defaults.
func effectiveLimits(problem *problemrepo.Problem, language *problemrepo.Language) sandbox.ResourceLimit {
	timeLimitMs := language.TimeLimitMs
	if problem.TimeLimitMs != nil {
		timeLimitMs = *problem.TimeLimitMs
	}
	memoryLimitMB := language.MemoryLimitMB
	if problem.MemoryLimitMB != nil {
		memoryLimitMB = *problem.MemoryLimitMB
	}
	return sandbox.ResourceLimit{
		CPUTimeMs:  timeLimitMs,
		WallTimeMs: timeLimitMs,
		MemoryMB:   memoryLimitMB,
		StackMB:    memoryLimitMB,
		OutputMB:   64,
		PIDs:       64,
		CPUCores:   1,
	}
}

func compileErrorResults(testCount int) []sandbox.TestResult {
	results := make([]sandbox.TestResult, testCount)
	for i := range results {
		results[i] = sandbox.TestResult{Verdict: sandbox.VerdictCE}
	}
	return results
}
