package sandbox

import (
	"context"
	"fmt"
)

// Engine executes a RunSpec inside an isolated process jail.
type Engine interface {
	Run(ctx context.Context, runSpec RunSpec) (RunResult, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	// CgroupRoot is the cgroup v2 directory run leaves are created under.
	CgroupRoot string

	// HelperPath is the sandbox-init binary applied inside the jail.
	HelperPath string

	// Profiles maps profile names to isolation setups. The empty profile
	// name resolves to DefaultProfile.
	Profiles map[string]IsolationProfile

	// DefaultProfile is used when a run spec names no profile.
	DefaultProfile IsolationProfile

	EnableSeccomp    bool
	EnableCgroup     bool
	EnableNamespaces bool
}

func (c Config) resolveProfile(name string) (IsolationProfile, error) {
	if name == "" {
		return c.DefaultProfile, nil
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	return IsolationProfile{}, fmt.Errorf("unknown isolation profile %q", name)
}

func validateRunSpec(runSpec RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.TestID == "" {
		return fmt.Errorf("test id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}
