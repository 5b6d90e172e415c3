package ghostmap

import (
	"github.com/pkg/errors"
)

// MergeOne folds the versions of map h in states back into the ancestor's
// version. Invariants of the ancestor that some known item of a state
// violates are weakened with a disjunction describing that item. Invariants
// added by inferred facts are dropped; the facts are inferred again for the
// merged state. The result is the flattened ancestor version with the
// weakened invariants; changed is false if the map is unchanged in every
// state.
func MergeOne(ancestor *State, states []*State, h Handle) (m *Map, changed bool, err error) {
	am, err := ancestor.Map(h)
	if err != nil {
		return nil, false, err
	}

	var diverged []*State
	for _, s := range states {
		sm, err := s.Map(h)
		if err != nil {
			return nil, false, err
		} else if !sm.Equal(am) {
			diverged = append(diverged, s.flattened())
		}
	}
	if len(diverged) == 0 {
		return am, false, nil
	}

	meta := am.meta
	ancestor.Logger.Debug().Str("map", meta.Name).Int("states", len(diverged)).Msg("merge map")
	ancestorVars := FreeVariables(ancestor.Constraints()...)

	var invs []Invariant
	for _, inv := range am.Invariants() {
		if inv.Tag != "" {
			continue
		}

		expr := inv.Expr
		for _, s := range diverged {
			sm, err := s.Map(h)
			if err != nil {
				return nil, false, err
			}

			for _, item := range sm.KnownItems() {
				conj, err := s.applyInvariant(meta, Invariant{Expr: expr}, item)
				if err != nil {
					return nil, false, err
				}
				if ok, err := s.CanBeFalse(Implies(item.Present, conj)); err != nil {
					return nil, false, err
				} else if !ok {
					continue
				}

				disjunct, err := itemConstraints(s, meta, item, ancestorVars)
				if err != nil {
					return nil, false, errors.Wrapf(err, "merge %s", meta.Name)
				}
				ancestor.Logger.Debug().Str("map", meta.Name).Stringer("item", item).Stringer("disjunct", disjunct).Msg("weaken invariant")
				expr = Or(expr, disjunct)
				changed = true
			}
		}
		invs = append(invs, Invariant{Expr: expr})
	}
	return am.Flatten().WithInvariants(invs), changed, nil
}

// flattened returns a copy of s with every map flattened.
func (s *State) flattened() *State {
	other := s.Clone()
	for _, h := range s.Handles() {
		m, _ := s.Map(h)
		other.setMap(h, m.Flatten())
	}
	return other
}

// itemConstraints returns what s knows about item, rewritten over the
// placeholders of meta.
func itemConstraints(s *State, meta *MapMeta, item MapItem, ancestorVars map[uint64]*Array) (Expr, error) {
	keys, err := findConstraints(s, item.Key, meta.Key, ancestorVars)
	if err != nil {
		return nil, err
	}
	values, err := findConstraints(s, item.Value, meta.Value, ancestorVars)
	if err != nil {
		return nil, err
	}

	// Constraints on one component may mention the other.
	result := And(append(keys, values...)...)
	if IsSymbolic(item.Key) {
		result = Replace(result, item.Key, meta.Key)
	}
	if IsSymbolic(item.Value) {
		result = Replace(result, item.Value, meta.Value)
	}
	return result, nil
}

// findConstraints returns the constraints of s on expr as constraints on
// placeholder. A constant expr yields an equality. Otherwise the result is
// every constraint that mentions expr and otherwise only reads variables
// that existed before divergence.
func findConstraints(s *State, expr, placeholder Expr, ancestorVars map[uint64]*Array) ([]Expr, error) {
	c, err := s.GetIfConstant(expr)
	if err != nil {
		return nil, err
	} else if c != nil {
		return []Expr{Eq(placeholder, c)}, nil
	}

	exprVars := FreeVariables(expr)
	var results []Expr
	for _, constraint := range s.Constraints() {
		if !Contains(constraint, expr) {
			continue
		}
		ok := true
		for id := range FreeVariables(constraint) {
			if exprVars[id] == nil && ancestorVars[id] == nil {
				ok = false
				break
			}
		}
		if ok {
			results = append(results, Replace(constraint, expr, placeholder))
		}
	}
	return results, nil
}
