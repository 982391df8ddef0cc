package launch

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched by every DecodeError.
var ErrMalformed = errors.New("launch: malformed metadata")

// ErrOutOfBounds is returned by Bounds.Check.
var ErrOutOfBounds = errors.New("launch: value out of bounds")

// DecodeError reports a structural problem in an encoded Config.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("launch: malformed metadata at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}
