package launch

import (
	"fmt"

	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// DefaultStorageGiB is the storage size used for new instances.
const DefaultStorageGiB = 64

// MinStorageGiB is the smallest disk an instance may be edited down to.
const MinStorageGiB = 32

// Recommended derives the defaults for a new instance: one CPU fewer than
// the host has and half of its memory, clamped to the engine limits.
func Recommended(l hypervisor.Limits, h hypervisor.Host) Config {
	cpus := uint64(0)
	if h.CPUs > 0 {
		cpus = h.CPUs - 1
	}
	cpus = clamp(cpus, l.MinCPUs, l.MaxCPUs)

	mem := (h.MemoryBytes / 2) &^ (1024*1024 - 1)
	mem = clamp(mem, l.MinMemoryBytes, l.MaxMemoryBytes)

	return Config{
		CPUCores:   cpus,
		MemoryGiB:  mem / GiB,
		StorageGiB: DefaultStorageGiB,
	}
}

// Bounds is the inclusive range of each field an edit may choose.
type Bounds struct {
	MinCPUs, MaxCPUs             uint64
	MinMemoryGiB, MaxMemoryGiB   uint64
	MinStorageGiB, MaxStorageGiB uint64
}

// EditBounds computes the ranges offered when editing an instance.
func EditBounds(l hypervisor.Limits, h hypervisor.Host) Bounds {
	b := Bounds{
		MinCPUs:       l.MinCPUs,
		MaxCPUs:       l.MaxCPUs,
		MinMemoryGiB:  ceilGiB(l.MinMemoryBytes),
		MaxMemoryGiB:  l.MaxMemoryBytes / GiB,
		MinStorageGiB: MinStorageGiB,
		MaxStorageGiB: h.AvailableBytes / GiB,
	}
	if h.CPUs > 0 && h.CPUs < b.MaxCPUs {
		b.MaxCPUs = h.CPUs
	}
	if h.MemoryBytes > 0 && h.MemoryBytes/GiB < b.MaxMemoryGiB {
		b.MaxMemoryGiB = h.MemoryBytes / GiB
	}
	return b
}

func clamp(v, lo, hi uint64) uint64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func ceilGiB(b uint64) uint64 {
	return (b + GiB - 1) / GiB
}

// Check returns an error wrapping ErrOutOfBounds naming the first field of
// c outside b.
func (b Bounds) Check(c Config) error {
	fields := []struct {
		name      string
		v, lo, hi uint64
	}{
		{"cpu cores", c.CPUCores, b.MinCPUs, b.MaxCPUs},
		{"memory GiB", c.MemoryGiB, b.MinMemoryGiB, b.MaxMemoryGiB},
		{"storage GiB", c.StorageGiB, b.MinStorageGiB, b.MaxStorageGiB},
	}
	for _, f := range fields {
		if f.v < f.lo || f.v > f.hi {
			return fmt.Errorf("%w: %s %d not in [%d, %d]", ErrOutOfBounds, f.name, f.v, f.lo, f.hi)
		}
	}
	return nil
}
