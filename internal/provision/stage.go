package provision

import "fmt"

// Stage is a step of the provisioning state machine.
type Stage int

const (
	AcquiringDestination Stage = iota
	CopyingOrDownloadingImage
	CreatingAuxiliaryFiles
	Installing
	CleaningUp
	Complete
	Failed
)

var stageNames = [...]string{
	AcquiringDestination:      "acquiring destination",
	CopyingOrDownloadingImage: "obtaining restore image",
	CreatingAuxiliaryFiles:    "creating auxiliary files",
	Installing:                "installing",
	CleaningUp:                "cleaning up",
	Complete:                  "complete",
	Failed:                    "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Terminal reports whether no further states follow s.
func (s Stage) Terminal() bool {
	return s == Complete || s == Failed
}

// State is one observation of an in-flight provisioning operation.
type State struct {
	Stage Stage

	// Fraction is the completion in [0, 1] while downloading or
	// installing. A local image copy reports no fraction and sets
	// Indeterminate instead.
	Fraction      float64
	Indeterminate bool

	// Err is the reason for Failed.
	Err error
}

func (s State) String() string {
	switch {
	case s.Stage == Failed:
		return fmt.Sprintf("%s: %v", s.Stage, s.Err)
	case s.Indeterminate:
		return fmt.Sprintf("%s (copying)", s.Stage)
	case s.Stage == CopyingOrDownloadingImage || s.Stage == Installing:
		return fmt.Sprintf("%s %.0f%%", s.Stage, s.Fraction*100)
	default:
		return s.Stage.String()
	}
}

// Observer receives every state of an operation, in order, from a single
// goroutine at a time.
type Observer func(State)
