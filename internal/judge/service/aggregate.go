package service

import (
	"minoj/internal/judge/sandbox"
	submitrepo "minoj/internal/submit/repository"
)

// PointsPerTest is the score value of one accepted testcase.
const PointsPerTest = 10

// Aggregate folds per-test results into the submission score, the
// maximum attainable counts and the persisted test log. Ordinals start
// at 1 and follow testcase order.
func Aggregate(results []sandbox.TestResult) (score, counts int64, tests []submitrepo.TestRecord) {
	counts = PointsPerTest * int64(len(results))
	tests = make([]submitrepo.TestRecord, 0, len(results))
	for i, result := range results {
		if result.Verdict == sandbox.VerdictAC {
			score += PointsPerTest
		}
		tests = append(tests, submitrepo.TestRecord{
			Ordinal:  int64(i + 1),
			Result:   string(result.Verdict),
			TimeMs:   result.TimeMs,
			MemoryKB: result.MemoryKB,
		})
	}
	return score, counts, tests
}
