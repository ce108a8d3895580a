package sandbox

import (
	"strings"
	"syscall"
)

// Classify maps one raw run outcome to a verdict.
//
// Timeouts win over everything else and report the time limit itself as
// the measured duration. A clean exit is decided by whitespace-trimmed
// byte comparison of the produced and expected output. Abnormal exits
// are decided by the terminating signal alone; exit codes above 128 are
// folded back to the raw signal number first. Anything unrecognized is
// UNK rather than a guess.
func Classify(res RunResult, limits ResourceLimit, output, expected string) TestResult {
	tr := TestResult{
		TimeMs:   res.WallTimeMs,
		MemoryKB: res.MemoryKB,
	}

	if res.TimedOut {
		tr.Verdict = VerdictTLE
		tr.TimeMs = limits.WallTimeMs
		return tr
	}

	if res.ExitCode == 0 {
		if strings.TrimSpace(output) == strings.TrimSpace(expected) {
			tr.Verdict = VerdictAC
		} else {
			tr.Verdict = VerdictWA
		}
		return tr
	}

	if res.OomKilled {
		tr.Verdict = VerdictMLE
		return tr
	}

	switch normalizeSignal(res.ExitCode) {
	case int(syscall.SIGKILL):
		// The oom killer delivers SIGKILL; a kill without an oom event
		// still counts as blowing the memory budget.
		tr.Verdict = VerdictMLE
	case int(syscall.SIGHUP), int(syscall.SIGSEGV), int(syscall.SIGFPE):
		tr.Verdict = VerdictRE
	default:
		tr.Verdict = VerdictUNK
	}
	return tr
}

// normalizeSignal folds shell-style 128+signal exit codes back to the
// raw signal number.
func normalizeSignal(exitCode int) int {
	if exitCode > 128 {
		return exitCode - 128
	}
	return exitCode
}
