package nuisance

import (
	"errors"
	"fmt"

	"github.com/sartorproj/simplik/optim"
)

var (
	// ErrFitDivergence is matched by errors returned when the seed iteration
	// moves away from a fixed point.
	ErrFitDivergence = errors.New("nuisance fit diverged")
	// ErrOptimizerFailure is matched by errors returned when the bounded
	// refinement stops with a non-benign status.
	ErrOptimizerFailure = errors.New("nuisance optimizer failed")
)

// DivergenceError reports a growing distance between successive seed
// iterates.
type DivergenceError struct {
	Round    int
	Distance float64
	Previous float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("nuisance fit diverged in round %d: distance %g after %g", e.Round, e.Distance, e.Previous)
}

func (e *DivergenceError) Is(target error) bool {
	return target == ErrFitDivergence
}

// OptimizerError carries the last point reached by the bounded solver.
type OptimizerError struct {
	Theta  []float64
	Status optim.Status
	Err    error
}

func (e *OptimizerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nuisance optimizer failed (%v): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("nuisance optimizer failed: %v", e.Status)
}

func (e *OptimizerError) Is(target error) bool {
	return target == ErrOptimizerFailure
}

func (e *OptimizerError) Unwrap() error {
	return e.Err
}
