package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	// ErrAlreadyInProgress is returned when a pipeline is asked to start
	// while an operation is still running.
	ErrAlreadyInProgress = errors.New("provision: already in progress")

	// ErrInvalidRequest is returned for requests that cannot name a bundle.
	ErrInvalidRequest = errors.New("provision: invalid request")
)

// StepError reports the stage at which provisioning stopped.
type StepError struct {
	Stage Stage
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision: %s: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IOError is a copy, move or delete failure.
type IOError struct {
	Op  string // "copy", "move", "remove", "mkdir"
	Src string
	Dst string
	Err error
}

func (e *IOError) Error() string {
	if e.Dst == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Src, e.Err)
	}
	return fmt.Sprintf("%s %s to %s: %v", e.Op, e.Src, e.Dst, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ioError builds an IOError. Path errors from os are unwrapped to their
// cause so the message names each path once.
func ioError(op, src, dst string, err error) *IOError {
	switch e := err.(type) {
	case *fs.PathError:
		err = e.Err
	case *os.LinkError:
		err = e.Err
	}
	return &IOError{Op: op, Src: src, Dst: dst, Err: err}
}

// FetchKind classifies a restore image download failure.
type FetchKind int

const (
	// FetchEngine is a failure reported by the virtualization engine.
	FetchEngine FetchKind = iota
	// FetchNetwork means the transfer could not be made or completed.
	FetchNetwork
	// FetchBadResponse means the server answered with a non-200 status.
	FetchBadResponse
	// FetchMissingFile means the download finished but its file is gone.
	FetchMissingFile
)

func (k FetchKind) String() string {
	switch k {
	case FetchEngine:
		return "engine"
	case FetchNetwork:
		return "network"
	case FetchBadResponse:
		return "bad response"
	case FetchMissingFile:
		return "missing local file"
	default:
		return fmt.Sprintf("FetchKind(%d)", int(k))
	}
}

// FetchError is a restore image download failure.
type FetchError struct {
	Kind   FetchKind
	Source string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.Source, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// IncompleteBundleError means the disk image was created but the launch
// metadata could not be written. The bundle is left on disk as is.
type IncompleteBundleError struct {
	Bundle string
	Err    error
}

func (e *IncompleteBundleError) Error() string {
	return fmt.Sprintf("bundle %s has a disk image but no metadata: %v", e.Bundle, e.Err)
}

func (e *IncompleteBundleError) Unwrap() error { return e.Err }
