// Package sandbox executes untrusted programs inside a process jail and
// maps the raw outcome to a verdict.
package sandbox

// ResourceLimit describes hard limits enforced by the sandbox.
type ResourceLimit struct {
	CPUTimeMs  int64
	WallTimeMs int64
	MemoryMB   int64
	StackMB    int64
	OutputMB   int64
	PIDs       int64

	// CPUCores is the cgroup cpu quota in whole cores. Zero means one.
	CPUCores int64
}

// RunSpec is the unified execution specification for one task.
type RunSpec struct {
	SubmissionID string
	TestID       string
	WorkDir      string
	Cmd          []string
	Env          []string
	StdinPath    string
	StdoutPath   string
	StderrPath   string
	Profile      string
	Limits       ResourceLimit
}

// IsolationProfile describes the jail setup for one class of languages.
// The language registry's image field selects a profile by name.
type IsolationProfile struct {
	Name           string `yaml:"name"`
	RootFS         string `yaml:"rootFS"`
	SeccompProfile string `yaml:"seccompProfile"`
	DisableNetwork bool   `yaml:"disableNetwork"`
}

// RunResult captures raw sandbox execution data.
type RunResult struct {
	ExitCode   int
	TimedOut   bool
	WallTimeMs int64
	MemoryKB   int64
	OomKilled  bool
}
