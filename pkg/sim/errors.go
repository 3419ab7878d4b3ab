package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-disloc/pkg/force"
	"github.com/dd0wney/cluso-disloc/pkg/integrator"
	"github.com/dd0wney/cluso-disloc/pkg/mobility"
	"github.com/dd0wney/cluso-disloc/pkg/network"
)

var (
	// ErrFinalized is returned by Step after a fatal error or Finalize.
	ErrFinalized = errors.New("sim: run is finalized")

	// ErrInvalidConfig wraps configuration problems found by New.
	ErrInvalidConfig = errors.New("sim: invalid configuration")
)

// StepError reports a step that ended the run. The network is back at its
// state before the step.
type StepError struct {
	Step  uint64
	Time  float64
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sim: step %d at t=%g: %v", e.Step, e.Time, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// failureReason classifies a fatal cause for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, integrator.ErrStepRetriesExceeded):
		return "retries_exceeded"
	case errors.Is(err, network.ErrInvariant):
		return "invariant"
	case errors.Is(err, force.ErrNonFiniteForce), errors.Is(err, mobility.ErrNonFiniteVelocity):
		return "non_finite"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
