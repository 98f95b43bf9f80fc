package propagate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonConvergence is matched by every ConvergenceError with errors.Is.
var ErrNonConvergence = errors.New("fixed-point iteration did not converge")

// ConvergenceError aborts one run: the re-pass cap was hit at Time
// while Blocks were still changing their flows.
type ConvergenceError struct {
	Time   float64
	Blocks []string
	Passes int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("no convergence at t=%g after %d passes: %s",
		e.Time, e.Passes, strings.Join(e.Blocks, ", "))
}

func (e *ConvergenceError) Is(target error) bool { return target == ErrNonConvergence }
