package ghostmap

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var stateID int64

// State represents one program path: its constraints and the versions of
// every symbolic map it can see. Clone is cheap; all fields are persistent.
//
// A State is not safe for concurrent use. Clone it per goroutine.
type State struct {
	id     int64
	parent *State

	solver Solver
	config Config

	// Constraints collected so far, as a list of Expr.
	constraints *immutable.List

	// Map versions keyed by Handle.
	maps *immutable.SortedMap

	// Trail of map operations, as a list of Record.
	trail     *immutable.List
	recording bool

	// Nesting level of map expressions under evaluation.
	depth int

	Logger  zerolog.Logger
	Metrics *Metrics
}

// NewState returns a new, unconstrained state with no maps.
func NewState(solver Solver, config Config) *State {
	return &State{
		id:          atomic.AddInt64(&stateID, 1),
		solver:      solver,
		config:      config,
		constraints: immutable.NewList(),
		maps:        immutable.NewSortedMap(&handleComparer{}),
		trail:       immutable.NewList(),
		recording:   config.Record,
		Logger:      zerolog.Nop(),
	}
}

// ID returns an autoincrementing ID assigned on creation.
func (s *State) ID() int64 { return s.id }

// Parent returns the state this one was forked from, if any.
func (s *State) Parent() *State { return s.parent }

// Solver returns the solver used by the state.
func (s *State) Solver() Solver { return s.solver }

// Config returns the configuration the state was created with.
func (s *State) Config() Config { return s.config }

// Clone returns an independent copy of the state. Mutations to either copy
// are invisible to the other.
func (s *State) Clone() *State {
	other := *s
	other.id = atomic.AddInt64(&stateID, 1)
	other.depth = 0
	return &other
}

// Fork returns a child copy of the given state with the additional constraint.
func (s *State) Fork(constraint Expr) (*State, error) {
	child := s.Clone()
	child.parent = s
	if constraint != nil {
		if err := child.AddConstraints(constraint); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// Constraints returns a copy of the path constraints.
func (s *State) Constraints() []Expr {
	a := make([]Expr, 0, s.constraints.Len())
	itr := s.constraints.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(Expr))
	}
	return a
}

// addConstraint appends expr without checking satisfiability. Logical
// conjunctions are split into separate constraints.
func (s *State) addConstraint(expr Expr) {
	if IsConstantTrue(expr) {
		return
	}
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND && ExprWidth(expr) == WidthBool {
		s.addConstraint(expr.LHS)
		s.addConstraint(expr.RHS)
		return
	}
	s.constraints = s.constraints.Append(expr)
}

// AddConstraints adds exprs to the state and checks the result is still
// satisfiable. Returns ErrContradiction otherwise.
func (s *State) AddConstraints(exprs ...Expr) error {
	changed := false
	for _, expr := range exprs {
		assert(ExprWidth(expr) == WidthBool, "constraint must be boolean: %s", expr)
		if IsConstantTrue(expr) {
			continue
		}
		s.addConstraint(expr)
		changed = true
	}
	if !changed {
		return nil
	}

	if sat, err := s.Satisfiable(); err != nil {
		return err
	} else if !sat {
		return errors.Wrapf(ErrContradiction, "state #%d", s.id)
	}
	return nil
}

// Handles returns the handles of every map in the state in ascending order.
func (s *State) Handles() []Handle {
	var a []Handle
	itr := s.maps.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(Handle))
	}
	return a
}

// Map returns the current version of the map with handle h.
func (s *State) Map(h Handle) (*Map, error) {
	if v, ok := s.maps.Get(h); ok {
		return v.(*Map), nil
	}
	return nil, errors.Wrapf(ErrMapNotFound, "handle #%d", h)
}

// setMap stores m as the current version of h.
func (s *State) setMap(h Handle, m *Map) {
	s.maps = s.maps.Set(h, m)
}

// mutableMap returns a private copy of h's current version. Changes are
// visible only after storing it back with setMap.
func (s *State) mutableMap(h Handle) (*Map, error) {
	m, err := s.Map(h)
	if err != nil {
		return nil, err
	}
	return m.clone(), nil
}

// Dump returns the constraints and maps of the state as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "STATE #%d\n", s.id)
	fmt.Fprintln(&buf, "=========")

	fmt.Fprintln(&buf, "== MAPS")
	itr := s.maps.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		m := v.(*Map)
		fmt.Fprintf(&buf, "#%d %s length=%s havoced=%v\n", k.(Handle), m.meta.Name, m.length, m.everHavoced)
		for _, item := range m.KnownItems() {
			fmt.Fprintf(&buf, "  + ITEM: K=%s; V=%s; P=%s\n", item.Key, item.Value, item.Present)
		}
		for _, inv := range m.Invariants() {
			fmt.Fprintf(&buf, "  + INV: %s\n", inv.Expr)
		}
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.Constraints() {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// handleComparer compares two map handles. Implements immutable.Comparer.
type handleComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a Handle.
func (c *handleComparer) Compare(a, b interface{}) int {
	return compareUint64(uint64(a.(Handle)), uint64(b.(Handle)))
}
