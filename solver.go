package ghostmap

import (
	"github.com/pkg/errors"
)

// Solver represents a logical constraint solver. Implementations must be
// safe for concurrent use.
type Solver interface {
	// Returns the satisfiability of the set of constraints. If the formula
	// is satisfiable, a valid value is returned for each array passed in.
	Solve(constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}

// Satisfiable returns true if the state's constraints together with extra
// can all hold at once.
func (s *State) Satisfiable(extra ...Expr) (bool, error) {
	constraints := s.Constraints()
	for _, expr := range extra {
		if IsConstantTrue(expr) {
			continue
		} else if IsConstantFalse(expr) {
			return false, nil
		}
		constraints = append(constraints, expr)
	}
	if len(constraints) == 0 {
		return true, nil
	}

	s.Metrics.solverQuery()
	sat, _, err := s.solver.Solve(constraints, nil)
	if err != nil {
		return false, errors.Wrap(err, "solve")
	}
	return sat, nil
}

// CanBeTrue returns true if cond holds in at least one model.
func (s *State) CanBeTrue(cond Expr) (bool, error) {
	if c, ok := cond.(*ConstantExpr); ok {
		return c.IsTrue(), nil
	}
	return s.Satisfiable(cond)
}

// CanBeFalse returns true if cond fails in at least one model.
func (s *State) CanBeFalse(cond Expr) (bool, error) {
	if c, ok := cond.(*ConstantExpr); ok {
		return c.IsFalse(), nil
	}
	return s.Satisfiable(Not(cond))
}

// DefinitelyTrue returns true if cond holds in every model.
func (s *State) DefinitelyTrue(cond Expr) (bool, error) {
	ok, err := s.CanBeFalse(cond)
	return !ok && err == nil, err
}

// DefinitelyFalse returns true if cond fails in every model.
func (s *State) DefinitelyFalse(cond Expr) (bool, error) {
	ok, err := s.CanBeTrue(cond)
	return !ok && err == nil, err
}

// EvalUpto returns up to n distinct values expr can take.
func (s *State) EvalUpto(expr Expr, n int) ([]*ConstantExpr, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return []*ConstantExpr{c}, nil
	}

	var results []*ConstantExpr
	constraints := s.Constraints()
	for len(results) < n {
		arrays := FindArrays(append(constraints, expr)...)

		s.Metrics.solverQuery()
		sat, values, err := s.solver.Solve(constraints, arrays)
		if err != nil {
			return nil, errors.Wrap(err, "eval")
		} else if !sat {
			break
		}

		value, err := NewExprEvaluator(arrays, values).Evaluate(expr)
		if err != nil {
			return nil, errors.Wrap(err, "eval")
		}
		results = append(results, value)
		constraints = append(constraints, Ne(expr, value))
	}
	return results, nil
}

// GetIfConstant returns the only value expr can take, or nil if it can
// take more than one. Returns ErrContradiction if the state is unsatisfiable.
func (s *State) GetIfConstant(expr Expr) (*ConstantExpr, error) {
	values, err := s.EvalUpto(expr, 2)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, errors.Wrapf(ErrContradiction, "no value for %s", expr)
	case 1:
		return values[0], nil
	default:
		return nil, nil
	}
}

// AreEqual returns true if a and b are structurally identical or provably equal.
func (s *State) AreEqual(a, b Expr) (bool, error) {
	if CompareExpr(a, b) == 0 {
		return true, nil
	}
	return s.DefinitelyTrue(Eq(a, b))
}
