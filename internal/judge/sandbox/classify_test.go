package sandbox

import "testing"

func TestClassify(t *testing.T) {
	limits := ResourceLimit{WallTimeMs: 2000, MemoryMB: 256}

	cases := []struct {
		name     string
		res      RunResult
		output   string
		expected string
		want     Verdict
		wantTime int64
	}{
		{
			name:     "accepted",
			res:      RunResult{ExitCode: 0, WallTimeMs: 120},
			output:   "42\n",
			expected: "42",
			want:     VerdictAC,
			wantTime: 120,
		},
		{
			name:     "accepted with surrounding whitespace",
			res:      RunResult{ExitCode: 0, WallTimeMs: 80},
			output:   "  hello world \n\n",
			expected: "hello world",
			want:     VerdictAC,
			wantTime: 80,
		},
		{
			name:     "wrong answer",
			res:      RunResult{ExitCode: 0, WallTimeMs: 100},
			output:   "43",
			expected: "42",
			want:     VerdictWA,
			wantTime: 100,
		},
		{
			name:     "wrong answer on interior whitespace",
			res:      RunResult{ExitCode: 0},
			output:   "4 2",
			expected: "42",
			want:     VerdictWA,
		},
		{
			name:     "timeout reports the limit as duration",
			res:      RunResult{ExitCode: 137, TimedOut: true, WallTimeMs: 2310},
			want:     VerdictTLE,
			wantTime: 2000,
		},
		{
			name: "timeout wins over matching output",
			res:  RunResult{ExitCode: 0, TimedOut: true, WallTimeMs: 2100},
			output:   "42",
			expected: "42",
			want:     VerdictTLE,
			wantTime: 2000,
		},
		{
			name:     "sigkill as raw signal",
			res:      RunResult{ExitCode: 9, WallTimeMs: 50},
			want:     VerdictMLE,
			wantTime: 50,
		},
		{
			name: "sigkill as shell exit code",
			res:  RunResult{ExitCode: 137},
			want: VerdictMLE,
		},
		{
			name: "oom kill",
			res:  RunResult{ExitCode: 1, OomKilled: true},
			want: VerdictMLE,
		},
		{
			name: "segfault",
			res:  RunResult{ExitCode: 139},
			want: VerdictRE,
		},
		{
			name: "raw segfault signal",
			res:  RunResult{ExitCode: 11},
			want: VerdictRE,
		},
		{
			name: "hangup",
			res:  RunResult{ExitCode: 129},
			want: VerdictRE,
		},
		{
			name: "fpe",
			res:  RunResult{ExitCode: 136},
			want: VerdictRE,
		},
		{
			name: "plain nonzero exit is unknown",
			res:  RunResult{ExitCode: 2},
			want: VerdictUNK,
		},
		{
			name: "unrecognized signal is unknown",
			res:  RunResult{ExitCode: 134},
			want: VerdictUNK,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.res, limits, tc.output, tc.expected)
			if got.Verdict != tc.want {
				t.Fatalf("verdict = %s, want %s", got.Verdict, tc.want)
			}
			if tc.wantTime != 0 && got.TimeMs != tc.wantTime {
				t.Fatalf("time = %d, want %d", got.TimeMs, tc.wantTime)
			}
		})
	}
}

func TestClassifyKeepsMemory(t *testing.T) {
	got := Classify(RunResult{ExitCode: 0, MemoryKB: 10240}, ResourceLimit{}, "x", "x")
	if got.MemoryKB != 10240 {
		t.Fatalf("memory = %d, want 10240", got.MemoryKB)
	}
}
