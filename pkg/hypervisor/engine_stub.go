//go:build !darwin || !arm64

package hypervisor

import (
	"context"
	"runtime"
)

type stubEngine struct{}

// NewEngine returns an engine whose operations fail with
// ErrUnsupportedPlatform. Limits still reports usable bounds so sizing
// can be computed and edited off-host.
func NewEngine() (Engine, error) {
	return stubEngine{}, nil
}

func (stubEngine) Info() Info {
	return Info{Name: "unsupported", Arch: runtime.GOARCH}
}

func (stubEngine) Limits() Limits {
	return FallbackLimits()
}

func (stubEngine) FetchRestoreImage(context.Context, string, ProgressFunc) error {
	return ErrUnsupportedPlatform
}

func (stubEngine) Install(context.Context, *InstallRequest, ProgressFunc) error {
	return ErrUnsupportedPlatform
}

func (stubEngine) Start(context.Context, *StartRequest) (Machine, error) {
	return nil, ErrUnsupportedPlatform
}
