//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"minoj/pkg/utils/logger"
)

const memorySampleInterval = 50 * time.Millisecond

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroup limits are enabled")
	}
	return &linuxEngine{cfg: cfg}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec RunSpec) (RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return RunResult{}, err
	}

	isoProfile, err := e.cfg.resolveProfile(runSpec.Profile)
	if err != nil {
		return RunResult{}, err
	}

	cgroupPath := ""
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.TestID)
		if err != nil {
			return RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			cgroupCleanup()
			return RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}
	defer cgroupCleanup()

	initReq := initRequest{
		RunSpec:       runSpec,
		Isolation:     isoProfile,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	}
	stdinPipe, err := jsonToPipe(initReq)
	if err != nil {
		return RunResult{}, fmt.Errorf("encode init request: %w", err)
	}
	defer stdinPipe.Close()

	cmd := exec.CommandContext(ctx, e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(isoProfile, e.cfg.EnableNamespaces)
	cmd.Stdin = stdinPipe

	var helperStderr bytes.Buffer
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, fmt.Errorf("start helper: %w", err)
	}

	if e.cfg.EnableCgroup {
		if err := addProcessToCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}

	var timedOut atomic.Bool
	var peakKB atomic.Int64
	done := make(chan struct{})

	go func() {
		wallLimit := time.Duration(runSpec.Limits.WallTimeMs) * time.Millisecond
		var wallTimer <-chan time.Time
		if wallLimit > 0 {
			wallTimer = time.After(wallLimit)
		}
		ticker := time.NewTicker(memorySampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				killProcessGroup(cmd.Process.Pid)
				killCgroup(cgroupPath)
				return
			case <-wallTimer:
				timedOut.Store(true)
				killProcessGroup(cmd.Process.Pid)
				killCgroup(cgroupPath)
				return
			case <-ticker.C:
				if kb := samplePeakKB(cgroupPath, cmd.Process.Pid); kb > peakKB.Load() {
					peakKB.Store(kb)
				}
			case <-done:
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	// One final sample so short-lived processes still report a peak.
	if kb := samplePeakKB(cgroupPath, cmd.Process.Pid); kb > peakKB.Load() {
		peakKB.Store(kb)
	}

	// The helper is the process group leader; nothing it spawned may
	// outlive the run.
	killProcessGroup(cmd.Process.Pid)

	if waitErr != nil && helperStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox helper stderr", zap.String("stderr", helperStderr.String()))
	}

	runResult := RunResult{
		ExitCode:   exitCodeOf(waitErr, cmd.ProcessState),
		TimedOut:   timedOut.Load() || errors.Is(waitErr, context.DeadlineExceeded),
		WallTimeMs: time.Since(start).Milliseconds(),
		MemoryKB:   peakKB.Load(),
		OomKilled:  wasOomKilled(cgroupPath),
	}
	return runResult, nil
}

// exitCodeOf maps a wait outcome to an exit code, encoding a terminating
// signal as 128+signal the way shells do.
func exitCodeOf(err error, state *os.ProcessState) int {
	if state != nil {
		if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// samplePeakKB reads the peak RSS of the run, preferring the cgroup
// counter and falling back to /proc VmHWM.
func samplePeakKB(cgroupPath string, pid int) int64 {
	if cgroupPath != "" {
		if val, err := readCgroupInt(cgroupPath, "memory.peak"); err == nil && val > 0 {
			return val / 1024
		}
	}
	return procVmHWMKB(pid)
}

func procVmHWMKB(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmHWM:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return val
	}
	return 0
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func jsonToPipe(req initRequest) (io.ReadCloser, error) {
	reader, writer := io.Pipe()
	go func() {
		enc := json.NewEncoder(writer)
		err := enc.Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader, nil
}

func buildSysProcAttr(profile IsolationProfile, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}

type initRequest struct {
	RunSpec       RunSpec
	Isolation     IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
