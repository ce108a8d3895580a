package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"minoj/internal/common/db"
	"minoj/internal/judge/sandbox"
	problemrepo "minoj/internal/problem/repository"
	appErr "minoj/pkg/errors"
)

type fakeRunner struct {
	compileOK    bool
	compileCalls int
	runRequests  []sandbox.TestRequest
	results      []sandbox.TestResult
	sourceSeen   bool
}

func (f *fakeRunner) Compile(ctx context.Context, req sandbox.CompileRequest) (bool, error) {
	f.compileCalls++
	return f.compileOK, nil
}

func (f *fakeRunner) RunTest(ctx context.Context, req sandbox.TestRequest) (sandbox.TestResult, error) {
	if _, err := os.Stat(filepath.Join(req.WorkDir, "code.py")); err == nil {
		f.sourceSeen = true
	}
	idx := len(f.runRequests)
	f.runRequests = append(f.runRequests, req)
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return sandbox.TestResult{Verdict: sandbox.VerdictAC}, nil
}

type fakeLanguages struct {
	languages map[string]*problemrepo.Language
}

func (f *fakeLanguages) GetByName(ctx context.Context, tx db.Transaction, name string) (*problemrepo.Language, error) {
	if language, ok := f.languages[name]; ok {
		return language, nil
	}
	return nil, problemrepo.ErrLanguageNotFound
}

func (f *fakeLanguages) List(ctx context.Context, tx db.Transaction) ([]problemrepo.Language, error) {
	return nil, nil
}

func (f *fakeLanguages) Upsert(ctx context.Context, tx db.Transaction, language *problemrepo.Language) error {
	return nil
}

type fakeProblems struct {
	problems map[string]*problemrepo.Problem
}

func (f *fakeProblems) GetByID(ctx context.Context, tx db.Transaction, problemID string) (*problemrepo.Problem, error) {
	if problem, ok := f.problems[problemID]; ok {
		return problem, nil
	}
	return nil, problemrepo.ErrProblemNotFound
}

func (f *fakeProblems) Exists(ctx context.Context, tx db.Transaction, problemID string) (bool, error) {
	_, ok := f.problems[problemID]
	return ok, nil
}

func (f *fakeProblems) Create(ctx context.Context, tx db.Transaction, problem *problemrepo.Problem) error {
	return nil
}

func newTestService(t *testing.T, runner Runner, languages *fakeLanguages, problems *fakeProblems) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Runner:    runner,
		Languages: languages,
		Problems:  problems,
		WorkRoot:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	return svc
}

func pythonLanguage() *problemrepo.Language {
	return &problemrepo.Language{
		Name:          "python3",
		Extension:     "py",
		RunCommand:    "python3 {src}",
		TimeLimitMs:   2000,
		MemoryLimitMB: 256,
		Image:         "python",
	}
}

func cppLanguage() *problemrepo.Language {
	return &problemrepo.Language{
		Name:           "cpp",
		Extension:      "cpp",
		CompileCommand: "g++ -O2 -o {exe} {src}",
		RunCommand:     "./{exe}",
		TimeLimitMs:    1000,
		MemoryLimitMB:  128,
		Image:          "gcc",
	}
}

func twoTestProblem() *problemrepo.Problem {
	return &problemrepo.Problem{
		ProblemID: "p1",
		Title:     "sum",
		TestCases: []problemrepo.TestCase{
			{Input: "1 2", Output: "3"},
			{Input: "2 3", Output: "5"},
		},
	}
}

func TestJudgeRunsAllTestsInOrder(t *testing.T) {
	runner := &fakeRunner{
		results: []sandbox.TestResult{
			{Verdict: sandbox.VerdictAC, TimeMs: 10, MemoryKB: 1024},
			{Verdict: sandbox.VerdictWA, TimeMs: 12, MemoryKB: 2048},
		},
	}
	languages := &fakeLanguages{languages: map[string]*problemrepo.Language{"python3": pythonLanguage()}}
	problems := &fakeProblems{problems: map[string]*problemrepo.Problem{"p1": twoTestProblem()}}
	svc := newTestService(t, runner, languages, problems)

	results, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-1",
		ProblemID:    "p1",
		Language:     "python3",
		Code:         "print(sum(map(int, input().split())))",
	})
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Verdict != sandbox.VerdictAC || results[1].Verdict != sandbox.VerdictWA {
		t.Fatalf("unexpected verdicts: %v %v", results[0].Verdict, results[1].Verdict)
	}
	if runner.compileCalls != 0 {
		t.Fatalf("interpreter language must not compile, got %d calls", runner.compileCalls)
	}
	if !runner.sourceSeen {
		t.Fatal("source file was not materialized before running tests")
	}

	if len(runner.runRequests) != 2 {
		t.Fatalf("expected 2 run requests, got %d", len(runner.runRequests))
	}
	first := runner.runRequests[0]
	if first.TestID != "1" || first.Input != "1 2" || first.Expected != "3" {
		t.Fatalf("unexpected first request: %+v", first)
	}
	if first.Profile != "python" {
		t.Fatalf("profile = %s, want python", first.Profile)
	}

	// workdir is removed on the way out
	if _, err := os.Stat(first.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("work dir still present: %v", err)
	}
}

func TestJudgeCompileFailureGivesCompilationErrorForAllTests(t *testing.T) {
	runner := &fakeRunner{compileOK: false}
	languages := &fakeLanguages{languages: map[string]*problemrepo.Language{"cpp": cppLanguage()}}
	problems := &fakeProblems{problems: map[string]*problemrepo.Problem{"p1": twoTestProblem()}}
	svc := newTestService(t, runner, languages, problems)

	results, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-1",
		ProblemID:    "p1",
		Language:     "cpp",
		Code:         "int main( {}",
	})
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if runner.compileCalls != 1 {
		t.Fatalf("expected one compile call, got %d", runner.compileCalls)
	}
	if len(runner.runRequests) != 0 {
		t.Fatalf("tests must not run after a compile failure, got %d", len(runner.runRequests))
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, result := range results {
		if result.Verdict != sandbox.VerdictCE {
			t.Fatalf("result %d verdict = %s, want CE", i, result.Verdict)
		}
	}
}

func TestJudgeUnknownLanguageFails(t *testing.T) {
	runner := &fakeRunner{}
	languages := &fakeLanguages{languages: map[string]*problemrepo.Language{}}
	problems := &fakeProblems{problems: map[string]*problemrepo.Problem{"p1": twoTestProblem()}}
	svc := newTestService(t, runner, languages, problems)

	_, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-1",
		ProblemID:    "p1",
		Language:     "cobol",
		Code:         "x",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if appErr.GetCode(err) != appErr.LanguageNotSupported {
		t.Fatalf("code = %d, want LanguageNotSupported", appErr.GetCode(err))
	}
}

func TestJudgeProblemLimitsOverrideLanguageDefaults(t *testing.T) {
	timeLimit := int64(5000)
	problem := twoTestProblem()
	problem.TimeLimitMs = &timeLimit

	runner := &fakeRunner{}
	languages := &fakeLanguages{languages: map[string]*problemrepo.Language{"python3": pythonLanguage()}}
	problems := &fakeProblems{problems: map[string]*problemrepo.Problem{"p1": problem}}
	svc := newTestService(t, runner, languages, problems)

	if _, err := svc.Judge(context.Background(), Request{
		SubmissionID: "sub-1",
		ProblemID:    "p1",
		Language:     "python3",
		Code:         "pass",
	}); err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	limits := runner.runRequests[0].Limits
	if limits.WallTimeMs != 5000 {
		t.Fatalf("wall time = %d, want problem override 5000", limits.WallTimeMs)
	}
	if limits.MemoryMB != 256 {
		t.Fatalf("memory = %d, want language default 256", limits.MemoryMB)
	}
}

func TestAggregate(t *testing.T) {
	results := []sandbox.TestResult{
		{Verdict: sandbox.VerdictAC, TimeMs: 10, MemoryKB: 100},
		{Verdict: sandbox.VerdictWA, TimeMs: 20, MemoryKB: 200},
		{Verdict: sandbox.VerdictAC, TimeMs: 30, MemoryKB: 300},
	}
	score, counts, tests := Aggregate(results)
	if counts != 30 {
		t.Fatalf("counts = %d, want 30", counts)
	}
	if score != 20 {
		t.Fatalf("score = %d, want 20", score)
	}
	if len(tests) != 3 {
		t.Fatalf("expected 3 test records, got %d", len(tests))
	}
	for i, test := range tests {
		if test.Ordinal != int64(i+1) {
			t.Fatalf("ordinal = %d, want %d", test.Ordinal, i+1)
		}
	}
	if tests[1].Result != "WA" || tests[1].TimeMs != 20 || tests[1].MemoryKB != 200 {
		t.Fatalf("unexpected second record: %+v", tests[1])
	}
}

func TestAggregateEmpty(t *testing.T) {
	score, counts, tests := Aggregate(nil)
	if score != 0 || counts != 0 || len(tests) != 0 {
		t.Fatalf("score=%d counts=%d tests=%d, want all zero", score, counts, len(tests))
	}
}
