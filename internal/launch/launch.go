// Package launch holds the per-instance launch configuration and its
// fixed-layout binary encoding.
package launch

import "fmt"

// Config is the persisted CPU/memory/storage sizing of one instance.
type Config struct {
	// CPUCores is the number of virtual CPUs.
	CPUCores uint64

	// MemoryGiB is the guest memory size in gibibytes.
	MemoryGiB uint64

	// StorageGiB is the disk image size in gibibytes.
	StorageGiB uint64
}

func (c Config) String() string {
	return fmt.Sprintf("cpus=%d memory=%dGiB storage=%dGiB", c.CPUCores, c.MemoryGiB, c.StorageGiB)
}

// MemoryBytes returns the memory size in bytes.
func (c Config) MemoryBytes() uint64 {
	return c.MemoryGiB * GiB
}

// GiB is the number of bytes in one gibibyte.
const GiB = 1024 * 1024 * 1024
