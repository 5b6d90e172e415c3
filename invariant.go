package ghostmap

import (
	"github.com/pkg/errors"
)

// Invariant is one conjunction of a map's invariant. Expr is a boolean
// expression over the map's KEY, VALUE & PRESENT placeholders and may
// contain deferred map expressions. Tag identifies invariants added by an
// inferred fact so reapplying the fact replaces them.
type Invariant struct {
	Expr Expr
	Tag  string
}

// Bind returns the invariant instantiated on item. Map expressions are left
// unexpanded.
func (inv Invariant) Bind(meta *MapMeta, item MapItem) Expr {
	expr := SubstituteSymbol(inv.Expr, meta.Key, item.Key)
	expr = SubstituteSymbol(expr, meta.Value, item.Value)
	return SubstituteSymbol(expr, meta.Present, item.Present)
}

// arrayInvariant returns the invariant of an array map: exactly the keys
// below length are present.
func arrayInvariant(meta *MapMeta, length Expr) Invariant {
	return Invariant{Expr: Iff(UltWide(meta.Key, length), meta.Present)}
}

// applyInvariant evaluates a single conjunction on item in the state.
func (s *State) applyInvariant(meta *MapMeta, inv Invariant, item MapItem) (Expr, error) {
	return s.EvalMapExpr(inv.Bind(meta, item))
}

// invariantOf evaluates the conjunction of every invariant of m on item.
func (s *State) invariantOf(m *Map, item MapItem) (Expr, error) {
	invs := m.Invariants()
	exprs := make([]Expr, 0, len(invs))
	for _, inv := range invs {
		expr, err := s.applyInvariant(m.meta, inv, item)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return And(exprs...), nil
}

// EvalMapExpr expands every MapHas and MapGet node of expr into gets on the
// referenced maps of s. Nodes bound to a version read that version of the
// map. Gets may add known items and constraints to s.
func (s *State) EvalMapExpr(expr Expr) (Expr, error) {
	if expr == nil || !ContainsMapExpr(expr) {
		return expr, nil
	}

	if s.config.MaxMapDepth > 0 && s.depth >= s.config.MaxMapDepth {
		return nil, errors.Wrapf(ErrMapDepth, "depth %d: %s", s.depth, expr)
	}
	s.depth++
	defer func() { s.depth-- }()

	var err error
	result := RewriteExpr(expr, func(e Expr) Expr {
		if err != nil {
			return e
		}

		switch e := e.(type) {
		case *MapHasExpr:
			var key, value, v, present Expr
			if key, err = s.EvalMapExpr(e.Key); err != nil {
				return e
			}
			if e.Value == nil {
				if _, present, err = s.getVersion(e.Handle, e.Version, key, nil); err != nil {
					return e
				}
				return present
			}
			if value, err = s.EvalMapExpr(e.Value); err != nil {
				return e
			}
			if v, present, err = s.getVersion(e.Handle, e.Version, key, value); err != nil {
				return e
			}
			return And(present, Eq(v, value))

		case *MapGetExpr:
			var key, v Expr
			if key, err = s.EvalMapExpr(e.Key); err != nil {
				return e
			}
			if v, _, err = s.getVersion(e.Handle, e.Version, key, nil); err != nil {
				return e
			}
			if ExprWidth(v) != e.Width {
				err = errors.Errorf("mapget #%d: width mismatch: %d != %d", e.Handle, ExprWidth(v), e.Width)
				return e
			}
			return v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// pinVersions returns expr with unbound map expressions on handles in
// versions bound to that version.
func pinVersions(expr Expr, versions map[Handle]uint64) Expr {
	return RewriteExpr(expr, func(e Expr) Expr {
		switch e := e.(type) {
		case *MapHasExpr:
			if id, ok := versions[e.Handle]; ok && e.Version == 0 {
				return &MapHasExpr{Handle: e.Handle, Key: pinVersions(e.Key, versions), Value: pinVersions(e.Value, versions), Version: id}
			}
		case *MapGetExpr:
			if id, ok := versions[e.Handle]; ok && e.Version == 0 {
				return &MapGetExpr{Handle: e.Handle, Key: pinVersions(e.Key, versions), Width: e.Width, Version: id}
			}
		}
		return nil
	})
}

// mapHandles returns the handles referenced by map expressions in expr.
func mapHandles(expr Expr) []Handle {
	var a []Handle
	seen := make(map[Handle]bool)
	WalkExpr(exprVisitorFunc(func(e Expr) bool {
		var h Handle
		switch e := e.(type) {
		case *MapHasExpr:
			h = e.Handle
		case *MapGetExpr:
			h = e.Handle
		default:
			return true
		}
		if !seen[h] {
			seen[h] = true
			a = append(a, h)
		}
		return true
	}), expr)
	return a
}
