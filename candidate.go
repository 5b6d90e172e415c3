package ghostmap

import (
	"sort"
)

// selector picks one component of an item.
type selector int

const (
	selectKey selector = iota
	selectValue
)

func (sel selector) of(item MapItem) Expr {
	if sel == selectKey {
		return item.Key
	}
	return item.Value
}

func (sel selector) placeholder(meta *MapMeta) Expr {
	if sel == selectKey {
		return meta.Key
	}
	return meta.Value
}

func (sel selector) String() string {
	if sel == selectKey {
		return "key"
	}
	return "value"
}

// candidate is a function over the first map's placeholders, along with
// the maps it reads.
type candidate struct {
	fn      Expr
	handles []Handle
}

// candidateFinder proposes a function mapping sel1 of it1 in o1 to sel2 of
// it2 in o2. It returns nil if it has nothing to propose.
type candidateFinder func(s *State, o1, o2 Handle, sel1, sel2 selector, it1, it2 MapItem) (*candidate, error)

// finders returns the candidate finders in the order they are tried.
func (p *pairSearch) finders() []candidateFinder {
	return []candidateFinder{p.fractionsCandidate, p.structuralCandidate, p.constantCandidate}
}

// fractionsCandidate relates the key of a fractions map to the value of its
// owner, stored byte-reversed in o2.
func (p *pairSearch) fractionsCandidate(s *State, o1, o2 Handle, sel1, sel2 selector, it1, it2 MapItem) (*candidate, error) {
	if sel1 != selectKey {
		return nil, nil
	}
	m1, err := s.Map(o1)
	if err != nil {
		return nil, err
	}
	meta := m1.meta
	x2 := sel2.of(it2)
	if !meta.IsFractions() || meta.Owner == o2 || meta.OwnerSize*8 != ExprWidth(x2) || ExprWidth(x2)%8 != 0 {
		return nil, nil
	}

	value, present, err := s.get(meta.Owner, it1.Key, nil)
	if err != nil {
		return nil, err
	}
	if ok, err := s.DefinitelyTrue(And(present, Eq(value, Reverse(x2)))); err != nil || !ok {
		return nil, err
	}
	return &candidate{
		fn:      Reverse(NewMapGetExpr(meta.Owner, meta.Key, ExprWidth(x2))),
		handles: []Handle{meta.Owner},
	}, nil
}

// structuralCandidate proposes identity, substitution of x1 within x2, or
// the inverse of a zero extension or of a shifted offset applied to x1.
func (p *pairSearch) structuralCandidate(s *State, o1, o2 Handle, sel1, sel2 selector, it1, it2 MapItem) (*candidate, error) {
	x1, x2 := sel1.of(it1), sel2.of(it2)
	w := ExprWidth(x1)
	if w != ExprWidth(x2) {
		return nil, nil
	}
	m1, err := s.Map(o1)
	if err != nil {
		return nil, err
	}
	arg := sel1.placeholder(m1.meta)

	if ok, err := s.DefinitelyTrue(Eq(x1, x2)); err != nil {
		return nil, err
	} else if ok {
		return &candidate{fn: arg}, nil
	}

	if Contains(x2, x1) {
		return &candidate{fn: Replace(x2, x1, arg)}, nil
	}

	// x1 = zext(x) and x2 reads x.
	if x, ok := zeroExtended(x1); ok && Contains(x2, x) {
		return &candidate{fn: Replace(x2, x, NewExtractExpr(arg, 0, ExprWidth(x)))}, nil
	}

	// x1 = (x . 0) + n with n known before divergence.
	if x, low, n, ok := shiftedOffset(x1); ok && p.fromAncestor(n) {
		hi := NewExtractExpr(Sub(arg, n), low, ExprWidth(x))
		if Contains(x2, x) {
			return &candidate{fn: Replace(x2, x, hi)}, nil
		}
		if ok, err := s.DefinitelyTrue(Eq(x2, ZExt(x, w))); err != nil {
			return nil, err
		} else if ok {
			return &candidate{fn: ZExt(hi, w)}, nil
		}
	}
	return nil, nil
}

// constantCandidate proposes the value of it2 when it is forced.
func (p *pairSearch) constantCandidate(s *State, o1, o2 Handle, sel1, sel2 selector, it1, it2 MapItem) (*candidate, error) {
	if sel2 != selectValue {
		return nil, nil
	}
	c, err := s.GetIfConstant(sel2.of(it2))
	if err != nil || c == nil {
		return nil, err
	}
	return &candidate{fn: c}, nil
}

// zeroExtended returns x if expr zero-extends x.
func zeroExtended(expr Expr) (Expr, bool) {
	switch expr := expr.(type) {
	case *CastExpr:
		if !expr.Signed {
			return expr.Src, true
		}
	case *ConcatExpr:
		if c, ok := expr.MSB.(*ConstantExpr); ok && c.Value == 0 {
			return expr.LSB, true
		}
	}
	return nil, false
}

// shiftedOffset matches expr against (x . 0) + n. It returns x, the width
// of the zero part and n.
func shiftedOffset(expr Expr) (x Expr, low uint, n Expr, ok bool) {
	add, ok := expr.(*BinaryExpr)
	if !ok || add.Op != ADD {
		return nil, 0, nil, false
	}
	for _, pair := range [][2]Expr{{add.LHS, add.RHS}, {add.RHS, add.LHS}} {
		concat, ok := pair[0].(*ConcatExpr)
		if !ok {
			continue
		}
		if c, ok := concat.LSB.(*ConstantExpr); ok && c.Value == 0 {
			return concat.MSB, c.Width, pair[1], true
		}
	}
	return nil, 0, nil, false
}

// fromAncestor returns true if expr only reads variables of the ancestor.
func (p *pairSearch) fromAncestor(expr Expr) bool {
	for id := range FreeVariables(expr) {
		if p.ancestorVars[id] == nil {
			return false
		}
	}
	return true
}

// findGuards returns the presence guards to try for o1: true, then value
// equality with each constant value o1 holds in some state.
func (p *pairSearch) findGuards(states []*State, o1 Handle) ([]Expr, error) {
	seen := make(map[uint64]bool)
	var constants []uint64
	for _, s := range states {
		items, err := presentItems(s, o1)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			c, err := s.GetIfConstant(item.Value)
			if err != nil {
				return nil, err
			} else if c != nil && !seen[c.Value] {
				seen[c.Value] = true
				constants = append(constants, c.Value)
			}
		}
	}
	sort.Slice(constants, func(i, j int) bool { return constants[i] < constants[j] })

	m, err := states[0].Map(o1)
	if err != nil {
		return nil, err
	}
	guards := []Expr{NewBoolConstantExpr(true)}
	for _, c := range constants {
		guards = append(guards, Eq(m.meta.Value, NewConstantExpr(c, m.meta.ValueWidth)))
	}
	return guards, nil
}

// presentItems returns the known items of h that are definitely present,
// keeping only the first of items with equal keys.
func presentItems(s *State, h Handle) ([]MapItem, error) {
	m, err := s.Map(h)
	if err != nil {
		return nil, err
	}

	var present []MapItem
	for _, item := range m.KnownItems() {
		conds := []Expr{item.Present}
		for _, other := range present {
			conds = append(conds, Ne(item.Key, other.Key))
		}
		if ok, err := s.DefinitelyTrue(And(conds...)); err != nil {
			return nil, err
		} else if ok {
			present = append(present, item)
		}
	}
	return present, nil
}
