package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRenderCommand(t *testing.T) {
	cases := []struct {
		name     string
		template string
		src      string
		exe      string
		want     []string
		wantErr  bool
	}{
		{
			name:     "compile template",
			template: "g++ -O2 -o {exe} {src}",
			src:      "code.cpp",
			exe:      "a.out",
			want:     []string{"g++", "-O2", "-o", "a.out", "code.cpp"},
		},
		{
			name:     "run template without placeholders",
			template: "./a.out",
			want:     []string{"./a.out"},
		},
		{
			name:     "interpreter with src",
			template: "python3 {src}",
			src:      "code.py",
			want:     []string{"python3", "code.py"},
		},
		{
			name:     "unknown placeholder stays literal",
			template: "run {bin} {src}",
			src:      "code.c",
			want:     []string{"run", "{bin}", "code.c"},
		},
		{
			name:     "quoted argument",
			template: `sh -c "{exe} < input"`,
			exe:      "./prog",
			want:     []string{"sh", "-c", "./prog < input"},
		},
		{
			name:     "empty template",
			template: "   ",
			wantErr:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RenderCommand(tc.template, tc.src, tc.exe)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("argv = %v, want %v", got, tc.want)
			}
		})
	}
}

// fakeEngine records run specs and plays back canned results, writing
// canned stdout into the spec's stdout path.
type fakeEngine struct {
	specs   []RunSpec
	results []RunResult
	stdout  []string
	err     error
}

func (f *fakeEngine) Run(ctx context.Context, runSpec RunSpec) (RunResult, error) {
	if f.err != nil {
		return RunResult{}, f.err
	}
	idx := len(f.specs)
	f.specs = append(f.specs, runSpec)
	if idx < len(f.stdout) && runSpec.StdoutPath != "" {
		if err := os.WriteFile(runSpec.StdoutPath, []byte(f.stdout[idx]), 0644); err != nil {
			return RunResult{}, err
		}
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return RunResult{}, nil
}

func TestRunTestWritesStdinWithNewline(t *testing.T) {
	workDir := t.TempDir()
	engine := &fakeEngine{
		results: []RunResult{{ExitCode: 0, WallTimeMs: 10}},
		stdout:  []string{"3\n"},
	}
	runner := NewRunner(engine)

	got, err := runner.RunTest(context.Background(), TestRequest{
		SubmissionID: "sub-1",
		TestID:       "1",
		WorkDir:      workDir,
		Cmd:          []string{"./a.out"},
		Input:        "1 2",
		Expected:     "3",
		Limits:       ResourceLimit{WallTimeMs: 1000},
	})
	if err != nil {
		t.Fatalf("run test failed: %v", err)
	}
	if got.Verdict != VerdictAC {
		t.Fatalf("verdict = %s, want AC", got.Verdict)
	}

	stdin, err := os.ReadFile(filepath.Join(workDir, StdinFileName))
	if err != nil {
		t.Fatalf("read stdin file: %v", err)
	}
	if string(stdin) != "1 2\n" {
		t.Fatalf("stdin = %q, want %q", stdin, "1 2\n")
	}

	if len(engine.specs) != 1 {
		t.Fatalf("expected one engine run, got %d", len(engine.specs))
	}
	spec := engine.specs[0]
	if spec.StdoutPath != filepath.Join(workDir, StdoutFileName) {
		t.Fatalf("stdout path = %s", spec.StdoutPath)
	}
	if spec.StderrPath != filepath.Join(workDir, StderrFileName) {
		t.Fatalf("stderr path = %s", spec.StderrPath)
	}
}

func TestRunTestMissingOutputIsWrongAnswer(t *testing.T) {
	workDir := t.TempDir()
	engine := &fakeEngine{results: []RunResult{{ExitCode: 0}}}
	runner := NewRunner(engine)

	got, err := runner.RunTest(context.Background(), TestRequest{
		SubmissionID: "sub-1",
		TestID:       "1",
		WorkDir:      workDir,
		Cmd:          []string{"./a.out"},
		Expected:     "42",
	})
	if err != nil {
		t.Fatalf("run test failed: %v", err)
	}
	if got.Verdict != VerdictWA {
		t.Fatalf("verdict = %s, want WA", got.Verdict)
	}
}

func TestCompileOutcome(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		engine := &fakeEngine{results: []RunResult{{ExitCode: 0}}}
		runner := NewRunner(engine)
		ok, err := runner.Compile(context.Background(), CompileRequest{
			SubmissionID: "sub-1",
			WorkDir:      t.TempDir(),
			Cmd:          []string{"g++", "-o", "a.out", "code.cpp"},
		})
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}
		if !ok {
			t.Fatal("expected compile success")
		}
		limits := engine.specs[0].Limits
		if limits.WallTimeMs != CompileWallTimeMs || limits.MemoryMB != CompileMemoryMB || limits.CPUCores != CompileCPUCores {
			t.Fatalf("unexpected compile limits: %+v", limits)
		}
	})

	t.Run("compiler error", func(t *testing.T) {
		engine := &fakeEngine{results: []RunResult{{ExitCode: 1}}}
		runner := NewRunner(engine)
		ok, err := runner.Compile(context.Background(), CompileRequest{
			SubmissionID: "sub-1",
			WorkDir:      t.TempDir(),
			Cmd:          []string{"g++", "code.cpp"},
		})
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}
		if ok {
			t.Fatal("expected compile failure")
		}
	})
}
