//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// createRunCgroup makes a fresh cgroup v2 leaf for one test run.
func createRunCgroup(root, submissionID, testID string) (string, func(), error) {
	if root == "" {
		return "", func() {}, fmt.Errorf("cgroup root is required")
	}
	runDir := fmt.Sprintf("%s-%d", testID, time.Now().UnixNano())
	cgroupPath := filepath.Join(root, submissionID, runDir)
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		_ = os.RemoveAll(cgroupPath)
	}
	return cgroupPath, cleanup, nil
}

// applyCgroupLimits pins the run to one CPU worth of quota and caps
// memory so that memory plus swap never exceeds twice the limit.
func applyCgroupLimits(cgroupPath string, limits ResourceLimit) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryMB > 0 {
		memBytes := strconv.FormatInt(limits.MemoryMB*1024*1024, 10)
		if err := writeCgroupValue(cgroupPath, "memory.max", memBytes); err != nil {
			return err
		}
		if err := writeCgroupValue(cgroupPath, "memory.swap.max", memBytes); err != nil {
			return err
		}
	}
	cores := limits.CPUCores
	if cores <= 0 {
		cores = 1
	}
	quota := strconv.FormatInt(cores*100000, 10)
	return writeCgroupValue(cgroupPath, "cpu.max", quota+" 100000")
}

func addProcessToCgroup(cgroupPath string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return writeCgroupValue(cgroupPath, "cgroup.procs", strconv.Itoa(pid))
}

func killCgroup(cgroupPath string) {
	if cgroupPath == "" {
		return
	}
	killPath := filepath.Join(cgroupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return
	}
	_ = os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, fmt.Errorf("read cgroup value: %w", err)
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cgroup value: %w", err)
	}
	return parsed, nil
}

func writeCgroupValue(cgroupPath, name, value string) error {
	if err := os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0640); err != nil {
		return fmt.Errorf("write cgroup %s: %w", name, err)
	}
	return nil
}
