package diskutil

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawn is matched by every SpawnError.
	ErrSpawn = errors.New("diskutil: could not start helper")

	// ErrExit is matched by every ExitError.
	ErrExit = errors.New("diskutil: helper failed")
)

// SpawnError means the helper process never ran (missing binary,
// permission denied, ...).
type SpawnError struct {
	Op     string
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("diskutil: %s: start %s: %v", e.Op, e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// ExitError means the helper ran and exited with a non-zero status.
type ExitError struct {
	Op   string
	Path string
	Code int

	// Diagnostic is the last non-empty line the helper printed, or a
	// generic message when it printed nothing.
	Diagnostic string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("diskutil: %s %s: exit code %d: %s", e.Op, e.Path, e.Code, e.Diagnostic)
}

func (e *ExitError) Is(target error) bool { return target == ErrExit }
