package hypervisor

import "runtime"

// SupportedPlatform returns true if the current platform can install macOS
// guests.
func SupportedPlatform() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// NewEngine is defined per platform in engine_darwin.go and engine_stub.go.
