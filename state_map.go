package ghostmap

import (
	"github.com/pkg/errors"
)

// Predicate is a condition over one map entry, used by Forall. It may
// return deferred map expressions.
type Predicate func(key, value Expr) Expr

// Allocate creates an empty map and returns its handle.
func (s *State) Allocate(name string, keyWidth, valueWidth Expr) (Handle, error) {
	meta, err := newMapMetaFromExprs(OpNew, name, keyWidth, valueWidth)
	if err != nil {
		return 0, err
	}

	h := nextHandle()
	s.setMap(h, newMap(meta, NewConstantExpr(0, LengthWidth), Invariant{Expr: Not(meta.Present)}))
	s.Metrics.mapOp(OpNew)
	s.Logger.Debug().Str("map", meta.Name).Uint64("handle", uint64(h)).Msg("new")
	s.record(Record{Op: OpNew, Handle: h, Args: []Expr{keyWidth, valueWidth}})
	return h, nil
}

// AllocateArray creates a map whose keys below length are all present.
func (s *State) AllocateArray(name string, keyWidth, valueWidth, length Expr) (Handle, error) {
	meta, err := newMapMetaFromExprs(OpNewArray, name, keyWidth, valueWidth)
	if err != nil {
		return 0, err
	}
	size := ZExt(length, LengthWidth)

	h := nextHandle()
	s.setMap(h, newMap(meta, size, arrayInvariant(meta, size)))
	s.Metrics.mapOp(OpNewArray)
	s.Logger.Debug().Str("map", meta.Name).Uint64("handle", uint64(h)).Stringer("length", length).Msg("new array")
	s.record(Record{Op: OpNewArray, Handle: h, Args: []Expr{keyWidth, valueWidth, length}})
	return h, nil
}

// AllocateFractions creates the fractions map of owner. It shares the
// owner's key width.
func (s *State) AllocateFractions(name string, owner Handle, valueWidth Expr) (Handle, error) {
	o, err := s.Map(owner)
	if err != nil {
		return 0, err
	}
	meta, err := newMapMetaFromExprs(OpNew, name, NewConstantExpr32(uint64(o.meta.KeyWidth)), valueWidth)
	if err != nil {
		return 0, err
	}
	meta.Owner, meta.OwnerSize = owner, o.meta.ValueWidth/8

	h := nextHandle()
	s.setMap(h, newMap(meta, NewConstantExpr(0, LengthWidth), Invariant{Expr: Not(meta.Present)}))
	s.Metrics.mapOp(OpNew)
	s.record(Record{Op: OpNew, Handle: h, Args: []Expr{NewConstantExpr32(uint64(o.meta.KeyWidth)), valueWidth}})
	return h, nil
}

// newMapMetaFromExprs validates map widths that must be concrete.
func newMapMetaFromExprs(op, name string, keyWidth, valueWidth Expr) (*MapMeta, error) {
	kw, err := concreteWidth(op, "key size", keyWidth)
	if err != nil {
		return nil, err
	}
	vw, err := concreteWidth(op, "value size", valueWidth)
	if err != nil {
		return nil, err
	}
	return newMapMeta(name, kw, vw), nil
}

func concreteWidth(op, what string, expr Expr) (uint, error) {
	c, ok := expr.(*ConstantExpr)
	if !ok {
		return 0, &SymbolicError{Op: op, What: what, Expr: expr}
	}
	if w := c.Value; w != WidthBool && (w == 0 || w%8 != 0 || w > Width64) {
		return 0, errors.Errorf("ghostmap: %s: unsupported %s: %d", op, what, w)
	}
	return uint(c.Value), nil
}

// KeyWidth returns the key width of the map, in bits.
func (s *State) KeyWidth(h Handle) (uint, error) {
	m, err := s.Map(h)
	if err != nil {
		return 0, err
	}
	return m.meta.KeyWidth, nil
}

// ValueWidth returns the value width of the map, in bits.
func (s *State) ValueWidth(h Handle) (uint, error) {
	m, err := s.Map(h)
	if err != nil {
		return 0, err
	}
	return m.meta.ValueWidth, nil
}

// Length returns the symbolic length of the map.
func (s *State) Length(h Handle) (Expr, error) {
	m, err := s.Map(h)
	if err != nil {
		return nil, err
	}
	s.Metrics.mapOp(OpLength)
	s.record(Record{Op: OpLength, Handle: h, Results: []Expr{m.length}})
	return m.length, nil
}

// Get returns the value associated with key and whether it is present.
// hint, if symbolic, is used as the value of a newly discovered entry.
func (s *State) Get(h Handle, key, hint Expr) (value, present Expr, err error) {
	if value, present, err = s.get(h, key, hint); err != nil {
		return nil, nil, err
	}
	s.Metrics.mapOp(OpGet)
	s.record(Record{Op: OpGet, Handle: h, Args: []Expr{key}, Results: []Expr{value, present}})
	return value, present, nil
}

// Set associates value with key.
func (s *State) Set(h Handle, key, value Expr) error {
	if err := s.set(h, key, value); err != nil {
		return err
	}
	s.Metrics.mapOp(OpSet)
	s.record(Record{Op: OpSet, Handle: h, Args: []Expr{key, value}})
	return nil
}

// Remove removes key from the map.
func (s *State) Remove(h Handle, key Expr) error {
	if err := s.remove(h, key); err != nil {
		return err
	}
	s.Metrics.mapOp(OpRemove)
	s.record(Record{Op: OpRemove, Handle: h, Args: []Expr{key}})
	return nil
}

// Forall returns a condition that is true iff pred holds on every present
// entry of the map. The map invariant may be strengthened so that the
// returned condition also governs entries discovered later.
func (s *State) Forall(h Handle, pred Predicate) (Expr, error) {
	result, err := s.forall(h, pred)
	if err != nil {
		return nil, err
	}
	s.Metrics.mapOp(OpForall)
	if s.recording {
		m, _ := s.Map(h)
		key := NewSymbol("record_key", m.meta.KeyWidth)
		value := NewSymbol("record_value", m.meta.ValueWidth)
		s.record(Record{Op: OpForall, Handle: h, Args: []Expr{pred(key, value), key, value}, Results: []Expr{result}})
	}
	return result, nil
}

// Havoc replaces the contents of the map with unknown ones. If maxLength is
// set, the length becomes a fresh value no greater than it. Arrays keep the
// array invariant over the new length.
func (s *State) Havoc(h Handle, maxLength Expr, isArray bool) error {
	if err := s.havoc(h, maxLength, isArray); err != nil {
		return err
	}
	s.Metrics.mapOp(OpHavoc)
	s.record(Record{Op: OpHavoc, Handle: h, Args: []Expr{maxLength, NewBoolConstantExpr(isArray)}})
	return nil
}

func (s *State) get(h Handle, key, hint Expr) (value, present Expr, err error) {
	return s.getVersion(h, 0, key, hint)
}

// getVersion reads key from the version of h with the given id, or from the
// current version if id is zero. Items discovered on an older version are
// also known to the current one.
func (s *State) getVersion(h Handle, id uint64, key, hint Expr) (value, present Expr, err error) {
	live, err := s.Map(h)
	if err != nil {
		return nil, nil, err
	}
	meta := live.meta
	assert(ExprWidth(key) == meta.KeyWidth, "get %s: key width %d != %d", meta.Name, ExprWidth(key), meta.KeyWidth)

	if id == 0 {
		id = live.id
	}
	m := live.lookup(id)
	if m == nil {
		// The version was replaced wholesale after it was referenced.
		s.Logger.Debug().Str("map", meta.Name).Uint64("version", id).Msg("get: version not found")
		return NewSymbol(meta.Name+"_value", meta.ValueWidth), NewBoolSymbol(meta.Name + "_present"), nil
	}

	if m.isEmpty() {
		return NewSymbol(meta.Name+"_bad_value", meta.ValueWidth), NewBoolConstantExpr(false), nil
	}

	items := m.KnownItems()
	s.Logger.Debug().Str("map", meta.Name).Stringer("key", key).Int("items", len(items)).Int("constraints", s.constraints.Len()).Msg("get")

	if item, ok, err := s.findItem(key, items); err != nil {
		return nil, nil, err
	} else if ok {
		return item.Value, item.Present, nil
	}

	if hint != nil && IsSymbolic(hint) {
		assert(ExprWidth(hint) == meta.ValueWidth, "get %s: hint width %d != %d", meta.Name, ExprWidth(hint), meta.ValueWidth)
		value = hint
	} else {
		value = NewSymbol(meta.Name+"_value", meta.ValueWidth)
	}
	present = NewBoolSymbol(meta.Name + "_present")

	item := MapItem{Key: key, Value: value, Present: present}
	live, _ = live.refine(id, item)
	s.setMap(h, live)
	m = live.lookup(id)

	inv, err := s.invariantOf(m, item)
	if err != nil {
		return nil, nil, err
	}

	constraints := make([]Expr, 0, len(items)+2)
	unknown := make([]Expr, 0, len(items))
	for _, other := range items {
		constraints = append(constraints, Implies(Eq(key, other.Key), And(Eq(value, other.Value), Iff(present, other.Present))))
		unknown = append(unknown, Ne(key, other.Key))
	}
	constraints = append(constraints,
		Implies(And(unknown...), inv),
		Ule(m.knownLength(), m.length),
	)
	if err := s.AddConstraints(constraints...); err != nil {
		return nil, nil, errors.Wrapf(err, "get %s", meta.Name)
	}
	return value, present, nil
}

// findItem returns the known item whose key is structurally identical to
// key, or failing that one whose key is provably equal.
func (s *State) findItem(key Expr, items []MapItem) (MapItem, bool, error) {
	for _, item := range items {
		if CompareExpr(item.Key, key) == 0 {
			return item, true, nil
		}
	}
	for _, item := range items {
		if ok, err := s.DefinitelyTrue(Eq(key, item.Key)); err != nil {
			return MapItem{}, false, err
		} else if ok {
			return item, true, nil
		}
	}
	return MapItem{}, false, nil
}

func (s *State) set(h Handle, key, value Expr) error {
	_, present, err := s.get(h, key, nil)
	if err != nil {
		return err
	}
	m, err := s.Map(h)
	if err != nil {
		return err
	}
	assert(ExprWidth(value) == m.meta.ValueWidth, "set %s: value width %d != %d", m.meta.Name, ExprWidth(value), m.meta.ValueWidth)

	change := Ite(present, NewConstantExpr(0, LengthWidth), NewConstantExpr(1, LengthWidth))
	s.setMap(h, m.withLayer(key, value, NewBoolConstantExpr(true), change))
	return nil
}

func (s *State) remove(h Handle, key Expr) error {
	_, present, err := s.get(h, key, nil)
	if err != nil {
		return err
	}
	m, err := s.Map(h)
	if err != nil {
		return err
	}

	value := NewSymbol(m.meta.Name+"_bad_value", m.meta.ValueWidth)
	change := Ite(present, NewConstantExpr(bitmask(LengthWidth), LengthWidth), NewConstantExpr(0, LengthWidth))
	s.setMap(h, m.withLayer(key, value, NewBoolConstantExpr(false), change))
	return nil
}

func (s *State) forall(h Handle, pred Predicate) (Expr, error) {
	m, err := s.Map(h)
	if err != nil {
		return nil, err
	}
	meta := m.meta
	if m.isEmpty() {
		return NewBoolConstantExpr(true), nil
	}
	s.Logger.Debug().Str("map", meta.Name).Int("constraints", s.constraints.Len()).Msg("forall")

	var conds []Expr
	for _, item := range m.KnownItems() {
		p, err := s.EvalMapExpr(pred(item.Key, item.Value))
		if err != nil {
			return nil, err
		}
		conds = append(conds, Implies(item.Present, p))
	}

	// Unknown entries only matter if not every entry is known.
	knownLength := m.knownLength()
	if ok, err := s.CanBeFalse(Eq(knownLength, m.length)); err != nil {
		return nil, err
	} else if ok {
		test := MapItem{
			Key:     NewSymbol(meta.Name+"_test_key", meta.KeyWidth),
			Value:   NewSymbol(meta.Name+"_test_value", meta.ValueWidth),
			Present: NewBoolConstantExpr(true),
		}
		inv, err := s.invariantOf(m, test)
		if err != nil {
			return nil, err
		}
		p, err := s.EvalMapExpr(pred(test.Key, test.Value))
		if err != nil {
			return nil, err
		}
		conds = append(conds, Implies(Ult(knownLength, m.length), Implies(inv, p)))
	}
	result := And(conds...)

	if ok, err := s.DefinitelyTrue(result); err != nil {
		return nil, err
	} else if ok {
		return NewBoolConstantExpr(true), nil
	}
	if ok, err := s.DefinitelyFalse(result); err != nil {
		return nil, err
	} else if ok {
		return NewBoolConstantExpr(false), nil
	}

	// Strengthen the invariant so the answer also holds for entries
	// discovered later.
	other, err := s.mutableMap(h)
	if err != nil {
		return nil, err
	}
	other.invariants = append(other.invariants, Invariant{
		Expr: Implies(result, Implies(meta.Present, pred(meta.Key, meta.Value))),
	})
	s.setMap(h, other)
	return result, nil
}

func (s *State) havoc(h Handle, maxLength Expr, isArray bool) error {
	m, err := s.mutableMap(h)
	if err != nil {
		return err
	}

	var bound Expr
	if maxLength != nil {
		bound = ZExt(maxLength, LengthWidth)
		m.length = NewSymbol("havoced_length", LengthWidth)
	}
	m.id, m.origin = nextVersion(), nil
	m.items, m.layer, m.invariants = nil, nil, nil
	if isArray {
		m.invariants = []Invariant{arrayInvariant(m.meta, m.length)}
	}
	m.everHavoced = true
	s.setMap(h, m)

	if bound != nil {
		if err := s.AddConstraints(Ule(m.length, bound)); err != nil {
			return errors.Wrapf(err, "havoc %s", m.meta.Name)
		}
	}
	return nil
}
