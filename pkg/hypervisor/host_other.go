//go:build !darwin && !linux

package hypervisor

func physicalMemory() (uint64, error) {
	return 0, ErrUnsupportedPlatform
}
