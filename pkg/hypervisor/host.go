package hypervisor

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Host describes the machine guests run on.
type Host struct {
	CPUs           uint64
	MemoryBytes    uint64
	AvailableBytes uint64
}

// ProbeHost reports the host's CPU count, physical memory and the space
// available on the filesystem holding dir.
func ProbeHost(dir string) (Host, error) {
	mem, err := physicalMemory()
	if err != nil {
		return Host{}, fmt.Errorf("hypervisor: probe memory: %w", err)
	}
	avail, err := AvailableBytes(dir)
	if err != nil {
		return Host{}, err
	}
	return Host{
		CPUs:           uint64(runtime.NumCPU()),
		MemoryBytes:    mem,
		AvailableBytes: avail,
	}, nil
}

// AvailableBytes returns the space available to unprivileged users on the
// filesystem holding dir.
func AvailableBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("hypervisor: statfs %s: %w", dir, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// FallbackLimits are used where the engine cannot report its own: at least
// one CPU and 128 MiB, at most the host's CPUs and memory.
func FallbackLimits() Limits {
	mem, _ := physicalMemory()
	return Limits{
		MinCPUs:        1,
		MaxCPUs:        uint64(runtime.NumCPU()),
		MinMemoryBytes: 128 * 1024 * 1024,
		MaxMemoryBytes: mem,
	}
}
