package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Working files created inside each per-submission directory.
const (
	StdinFileName  = "in.txt"
	StdoutFileName = "out.txt"
	StderrFileName = "err.txt"
)

// Compile step budget. Compilation is not charged against the problem
// limits.
const (
	CompileWallTimeMs = 5000
	CompileMemoryMB   = 128
	CompileCPUCores   = 2
	CompileOutputMB   = 64
	CompilePIDs       = 64
)

// RenderCommand substitutes the {src} and {exe} placeholders in a command
// template and splits the result into an argv. Placeholders that are not
// recognized stay literal.
func RenderCommand(template, src, exe string) ([]string, error) {
	rendered := strings.ReplaceAll(template, "{src}", src)
	rendered = strings.ReplaceAll(rendered, "{exe}", exe)
	parts, err := shlex.Split(rendered)
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", rendered, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command after rendering %q", template)
	}
	return parts, nil
}

// Runner drives compile and per-test execution through the engine.
type Runner struct {
	engine Engine
}

func NewRunner(engine Engine) *Runner {
	return &Runner{engine: engine}
}

// CompileRequest describes one compilation task.
type CompileRequest struct {
	SubmissionID string
	WorkDir      string
	Cmd          []string
	Profile      string
}

// Compile runs the compiler inside the jail. A non-zero compiler exit is
// reported through ok=false, not an error; errors mean the sandbox itself
// failed.
func (r *Runner) Compile(ctx context.Context, req CompileRequest) (bool, error) {
	res, err := r.engine.Run(ctx, RunSpec{
		SubmissionID: req.SubmissionID,
		TestID:       "compile",
		WorkDir:      req.WorkDir,
		Cmd:          req.Cmd,
		StdoutPath:   filepath.Join(req.WorkDir, StdoutFileName),
		StderrPath:   filepath.Join(req.WorkDir, StderrFileName),
		Profile:      req.Profile,
		Limits: ResourceLimit{
			WallTimeMs: CompileWallTimeMs,
			MemoryMB:   CompileMemoryMB,
			CPUCores:   CompileCPUCores,
			OutputMB:   CompileOutputMB,
			PIDs:       CompilePIDs,
		},
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0 && !res.TimedOut, nil
}

// TestRequest describes one execution of the compiled program against a
// single testcase.
type TestRequest struct {
	SubmissionID string
	TestID       string
	WorkDir      string
	Cmd          []string
	Profile      string
	Input        string
	Expected     string
	Limits       ResourceLimit
}

// RunTest executes one testcase and classifies the outcome. The testcase
// input goes to the program's stdin with a trailing newline; stdout is
// compared against the expected output after trimming.
func (r *Runner) RunTest(ctx context.Context, req TestRequest) (TestResult, error) {
	stdinPath := filepath.Join(req.WorkDir, StdinFileName)
	stdoutPath := filepath.Join(req.WorkDir, StdoutFileName)
	stderrPath := filepath.Join(req.WorkDir, StderrFileName)

	if err := os.WriteFile(stdinPath, []byte(req.Input+"\n"), 0644); err != nil {
		return TestResult{}, fmt.Errorf("write test input: %w", err)
	}

	res, err := r.engine.Run(ctx, RunSpec{
		SubmissionID: req.SubmissionID,
		TestID:       req.TestID,
		WorkDir:      req.WorkDir,
		Cmd:          req.Cmd,
		StdinPath:    stdinPath,
		StdoutPath:   stdoutPath,
		StderrPath:   stderrPath,
		Profile:      req.Profile,
		Limits:       req.Limits,
	})
	if err != nil {
		return TestResult{}, err
	}

	output, err := os.ReadFile(stdoutPath)
	if err != nil && !os.IsNotExist(err) {
		return TestResult{}, fmt.Errorf("read test output: %w", err)
	}

	return Classify(res, req.Limits, string(output), req.Expected), nil
}
