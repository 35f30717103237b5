package pty

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// KillTree kills pid and every descendant, children first.
func KillTree(pid int) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	if children, err := proc.Children(); err == nil {
		for _, child := range children {
			_ = KillTree(int(child.Pid))
		}
	}
	return proc.Kill()
}

// KillStale kills a process left behind by an earlier host instance, but
// only when its executable name still matches one of names. A recycled pid
// belonging to an unrelated program is left alone. It reports whether a
// process was killed.
func KillStale(pid int, names ...string) (bool, error) {
	alive, err := process.PidExists(int32(pid))
	if err != nil || !alive {
		return false, err
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false, nil
	}
	name, err := proc.Name()
	if err != nil {
		return false, nil
	}
	if !matchesName(name, names) {
		return false, nil
	}

	if err := KillTree(pid); err != nil {
		return false, err
	}
	return true, nil
}

func matchesName(name string, names []string) bool {
	base := strings.TrimSuffix(strings.ToLower(filepath.Base(name)), ".exe")
	for _, n := range names {
		want := strings.TrimSuffix(strings.ToLower(filepath.Base(n)), ".exe")
		if base == want {
			return true
		}
	}
	return false
}
