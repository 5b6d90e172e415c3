// Package ghostmap implements symbolic maps for exhaustive symbolic
// verification together with the invariant inference that merges divergent
// program states at loop heads.
//
// A map is a finite list of precisely known entries plus invariants over
// every other entry. The Engine folds a set of successor states back into a
// single entry state and the Driver repeats execution and merging until a
// fixed point is reached.
package ghostmap

import (
	"fmt"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width16   = 16
	Width32   = 32
	Width64   = 64
)

// LengthWidth is the width of every map length.
const LengthWidth = Width64

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

var (
	// ErrContradiction is returned when constraints required by a map
	// operation make the state unsatisfiable. The path must be discarded.
	ErrContradiction = errors.New("ghostmap: contradiction")

	// ErrUnsupportedPigeonhole is returned when a map has fewer present known
	// items than its partner in some state during relational search.
	ErrUnsupportedPigeonhole = errors.New("ghostmap: unsupported pigeonhole case")

	// ErrReplayMismatch is the cause of every ReplayError.
	ErrReplayMismatch = errors.New("ghostmap: replay mismatch")

	// ErrNotConverged is returned when the driver hits its iteration cap.
	ErrNotConverged = errors.New("ghostmap: fixed point not reached")

	// ErrMapDepth is returned when map expressions nest deeper than allowed.
	ErrMapDepth = errors.New("ghostmap: map expression depth exceeded")

	// ErrMapNotFound is returned for an unknown map handle.
	ErrMapNotFound = errors.New("ghostmap: map not found")
)

// SymbolicError is returned when an operation requires a concrete value
// but receives a symbolic one.
type SymbolicError struct {
	Op   string
	What string
	Expr Expr
}

// Error returns the error as a string.
func (e *SymbolicError) Error() string {
	return fmt.Sprintf("ghostmap: %s: %s must be concrete: %s", e.Op, e.What, e.Expr)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
