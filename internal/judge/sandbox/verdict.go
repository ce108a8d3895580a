package sandbox

// Verdict represents the outcome of executing one test.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictUNK Verdict = "UNK"
)

// TestResult contains per-test execution outcomes.
type TestResult struct {
	Verdict  Verdict
	TimeMs   int64
	MemoryKB int64
}
