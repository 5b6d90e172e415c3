package ghostmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FactKind is the kind of an inferred fact.
type FactKind int

// Fact kinds.
const (
	LengthLTE FactKind = iota // length of the first map <= length of the second
	LengthVar                 // length of the map must be forgotten
	CrossVal                  // entries of the first map are in the second, with a known value
	CrossKey                  // entries of the first map are in the second
)

var factKinds = [...]string{
	LengthLTE: "LENGTH_LTE",
	LengthVar: "LENGTH_VAR",
	CrossVal:  "CROSS_VAL",
	CrossKey:  "CROSS_KEY",
}

// String returns the name of the kind.
func (k FactKind) String() string {
	if k >= 0 && int(k) < len(factKinds) {
		return factKinds[k]
	}
	return fmt.Sprintf("FactKind<%d>", k)
}

// IsCross returns true for relations between map entries.
func (k FactKind) IsCross() bool { return k == CrossVal || k == CrossKey }

// applyOrder returns the position of the kind when applying facts. Lengths
// are forgotten before cross facts freeze the maps they reference.
func (k FactKind) applyOrder() int {
	switch k {
	case LengthVar:
		return 0
	case CrossVal, CrossKey:
		return 1
	default:
		return 2
	}
}

// Fact is a property found to hold in every merged state.
//
// Handles lists the map the fact constrains first. Cross facts list the
// related map second, followed by maps their functions read. Guard,
// KeyFunc & ValueFunc are expressions over the first map's KEY & VALUE
// placeholders.
type Fact struct {
	Kind      FactKind
	Handles   []Handle
	Guard     Expr
	KeyFunc   Expr
	ValueFunc Expr
}

// Key returns a string identifying the fact across iterations.
func (f *Fact) Key() string {
	var buf strings.Builder
	buf.WriteString(f.Kind.String())
	for _, h := range f.Handles {
		fmt.Fprintf(&buf, " #%d", h)
	}
	if f.Kind.IsCross() {
		fmt.Fprintf(&buf, " guard=%s key=%s", f.Guard, f.KeyFunc)
		if f.ValueFunc != nil {
			fmt.Fprintf(&buf, " value=%s", f.ValueFunc)
		}
	}
	return buf.String()
}

// String returns the string representation of the fact.
func (f *Fact) String() string { return f.Key() }

// Apply adds the fact to s: lengths are constrained on the state and cross
// facts become an invariant of the first map.
func (f *Fact) Apply(s *State) error {
	switch f.Kind {
	case LengthVar:
		m, err := s.mutableMap(f.Handles[0])
		if err != nil {
			return err
		}
		m.length = NewSymbol("map_length", LengthWidth)
		s.setMap(f.Handles[0], m)
		return nil

	case LengthLTE:
		a, err := s.Map(f.Handles[0])
		if err != nil {
			return err
		}
		b, err := s.Map(f.Handles[1])
		if err != nil {
			return err
		}
		return errors.Wrapf(s.AddConstraints(Ule(a.length, b.length)), "apply %s", f)

	case CrossVal, CrossKey:
		return f.applyCross(s)

	default:
		return errors.Errorf("apply: invalid fact kind: %s", f.Kind)
	}
}

func (f *Fact) applyCross(s *State) error {
	h := f.Handles[0]
	m, err := s.mutableMap(h)
	if err != nil {
		return err
	}

	pred := crossPredicate(m.meta, f.Handles[1], f.Guard, f.KeyFunc, f.ValueFunc)
	expr := Implies(m.meta.Present, pred(m.meta.Key, m.meta.Value))

	// Related maps are read at their current version. Later changes to
	// them are layered over it and do not affect the relation.
	versions := make(map[Handle]uint64)
	for _, other := range mapHandles(expr) {
		om, err := s.Map(other)
		if err != nil {
			return err
		}
		versions[other] = om.id
	}

	tag := f.Key()
	m.invariants = dropInvariant(m.invariants, tag)
	m.invariants = append(m.invariants, Invariant{Expr: pinVersions(expr, versions), Tag: tag})
	s.setMap(h, m)
	return nil
}

// dropInvariant returns invs without the invariant tagged tag.
func dropInvariant(invs []Invariant, tag string) []Invariant {
	other := invs[:0:0]
	for _, inv := range invs {
		if inv.Tag != tag {
			other = append(other, inv)
		}
	}
	return other
}

// crossPredicate returns guard(k, v) => has(o2, fk(k, v)[, fv(k, v)]).
func crossPredicate(meta *MapMeta, o2 Handle, guard, fk, fv Expr) Predicate {
	return func(key, value Expr) Expr {
		var v Expr
		if fv != nil {
			v = bindCandidate(meta, fv, key, value)
		}
		return Implies(
			bindCandidate(meta, guard, key, value),
			NewMapHasExpr(o2, bindCandidate(meta, fk, key, value), v),
		)
	}
}

// bindCandidate instantiates a function over meta's placeholders.
func bindCandidate(meta *MapMeta, fn, key, value Expr) Expr {
	return SubstituteSymbol(SubstituteSymbol(fn, meta.Key, key), meta.Value, value)
}

// sortFacts orders facts for application, keeping discovery order within a kind.
func sortFacts(facts []*Fact) {
	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].Kind.applyOrder() < facts[j].Kind.applyOrder()
	})
}
