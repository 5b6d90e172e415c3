package ghostmap

import (
	"fmt"
	"sort"
)

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *SelectExpr:
		return compareSelectExpr(a, b.(*SelectExpr))
	case *ConcatExpr:
		return compareExprs([]Expr{a.MSB, a.LSB}, []Expr{b.(*ConcatExpr).MSB, b.(*ConcatExpr).LSB})
	case *ExtractExpr:
		return compareExtractExpr(a, b.(*ExtractExpr))
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	case *CastExpr:
		return compareCastExpr(a, b.(*CastExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	case *IteExpr:
		other := b.(*IteExpr)
		return compareExprs([]Expr{a.Cond, a.Then, a.Else}, []Expr{other.Cond, other.Then, other.Else})
	case *MapHasExpr:
		other := b.(*MapHasExpr)
		if cmp := compareUint64(uint64(a.Handle), uint64(other.Handle)); cmp != 0 {
			return cmp
		} else if cmp := compareUint64(a.Version, other.Version); cmp != 0 {
			return cmp
		}
		return compareExprs([]Expr{a.Key, a.Value}, []Expr{other.Key, other.Value})
	case *MapGetExpr:
		other := b.(*MapGetExpr)
		if cmp := compareUint64(uint64(a.Handle), uint64(other.Handle)); cmp != 0 {
			return cmp
		} else if cmp := compareUint64(uint64(a.Width), uint64(other.Width)); cmp != 0 {
			return cmp
		} else if cmp := compareUint64(a.Version, other.Version); cmp != 0 {
			return cmp
		}
		return CompareExpr(a.Key, other.Key)
	default:
		panic("unreachable")
	}
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareExprs(a, b []Expr) int {
	for i := range a {
		if cmp := CompareExpr(a[i], b[i]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
		return cmp
	}
	return compareUint64(a.Value, b.Value)
}

func compareSelectExpr(a, b *SelectExpr) int {
	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	}
	return CompareArray(a.Array, b.Array)
}

func compareExtractExpr(a, b *ExtractExpr) int {
	if cmp := compareUint64(uint64(a.Offset), uint64(b.Offset)); cmp != 0 {
		return cmp
	} else if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.Expr, b.Expr)
}

func compareCastExpr(a, b *CastExpr) int {
	if a.Signed && !b.Signed {
		return -1
	} else if !a.Signed && b.Signed {
		return 1
	}
	if cmp := compareUint64(uint64(a.Width), uint64(b.Width)); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.Src, b.Src)
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	return compareExprs([]Expr{a.LHS, a.RHS}, []Expr{b.LHS, b.RHS})
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *SelectExpr:
		return 2
	case *ConcatExpr:
		return 3
	case *ExtractExpr:
		return 4
	case *NotExpr:
		return 5
	case *CastExpr:
		return 6
	case *BinaryExpr:
		return 7
	case *IteExpr:
		return 8
	case *MapHasExpr:
		return 9
	case *MapGetExpr:
		return 10
	default:
		panic(fmt.Sprintf("unreachable: %T", expr))
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Visit is called for every node. Children are skipped if it returns nil.
	Visit(expr Expr) ExprVisitor
}

type exprVisitorFunc func(Expr) bool

func (fn exprVisitorFunc) Visit(expr Expr) ExprVisitor {
	if fn(expr) {
		return fn
	}
	return nil
}

// WalkExpr traverses expr depth-first. It never modifies the tree.
func WalkExpr(v ExprVisitor, expr Expr) {
	if expr == nil {
		return
	}
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *CastExpr:
		WalkExpr(v, expr.Src)
	case *ConcatExpr:
		WalkExpr(v, expr.MSB)
		WalkExpr(v, expr.LSB)
	case *ExtractExpr:
		WalkExpr(v, expr.Expr)
	case *NotExpr:
		WalkExpr(v, expr.Expr)
	case *SelectExpr:
		WalkExpr(v, expr.Index)
	case *IteExpr:
		WalkExpr(v, expr.Cond)
		WalkExpr(v, expr.Then)
		WalkExpr(v, expr.Else)
	case *MapHasExpr:
		WalkExpr(v, expr.Key)
		WalkExpr(v, expr.Value)
	case *MapGetExpr:
		WalkExpr(v, expr.Key)
	}
}

// RewriteExpr returns a copy of expr rebuilt bottom-up through the
// simplifying constructors. fn is called on each node first; a non-nil
// result replaces that node without descending into it. Unchanged subtrees
// are shared with the input.
func RewriteExpr(expr Expr, fn func(Expr) Expr) Expr {
	if expr == nil {
		return nil
	}
	if other := fn(expr); other != nil {
		return other
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		lhs, rhs := RewriteExpr(expr.LHS, fn), RewriteExpr(expr.RHS, fn)
		if lhs == expr.LHS && rhs == expr.RHS {
			return expr
		}
		return NewBinaryExpr(expr.Op, lhs, rhs)
	case *CastExpr:
		if src := RewriteExpr(expr.Src, fn); src != expr.Src {
			return NewCastExpr(src, expr.Width, expr.Signed)
		}
	case *ConcatExpr:
		msb, lsb := RewriteExpr(expr.MSB, fn), RewriteExpr(expr.LSB, fn)
		if msb != expr.MSB || lsb != expr.LSB {
			return NewConcatExpr(msb, lsb)
		}
	case *ExtractExpr:
		if src := RewriteExpr(expr.Expr, fn); src != expr.Expr {
			return NewExtractExpr(src, expr.Offset, expr.Width)
		}
	case *NotExpr:
		if src := RewriteExpr(expr.Expr, fn); src != expr.Expr {
			return NewNotExpr(src)
		}
	case *SelectExpr:
		if index := RewriteExpr(expr.Index, fn); index != expr.Index {
			return NewSelectExpr(expr.Array, index)
		}
	case *IteExpr:
		cond, then, els := RewriteExpr(expr.Cond, fn), RewriteExpr(expr.Then, fn), RewriteExpr(expr.Else, fn)
		if cond != expr.Cond || then != expr.Then || els != expr.Else {
			return NewIteExpr(cond, then, els)
		}
	case *MapHasExpr:
		key, value := RewriteExpr(expr.Key, fn), RewriteExpr(expr.Value, fn)
		if key != expr.Key || value != expr.Value {
			return &MapHasExpr{Handle: expr.Handle, Key: key, Value: value, Version: expr.Version}
		}
	case *MapGetExpr:
		if key := RewriteExpr(expr.Key, fn); key != expr.Key {
			return &MapGetExpr{Handle: expr.Handle, Key: key, Width: expr.Width, Version: expr.Version}
		}
	}
	return expr
}

// Replace returns expr with every subtree structurally identical to from
// replaced by to.
func Replace(expr, from, to Expr) Expr {
	return Substitute(expr, []Expr{from}, []Expr{to})
}

// Substitute replaces each froms[i] with tos[i] in a single pass.
func Substitute(expr Expr, froms, tos []Expr) Expr {
	assert(len(froms) == len(tos), "substitute: length mismatch: %d != %d", len(froms), len(tos))
	for i := range froms {
		assert(ExprWidth(froms[i]) == ExprWidth(tos[i]), "substitute: width mismatch: %d != %d", ExprWidth(froms[i]), ExprWidth(tos[i]))
	}
	return RewriteExpr(expr, func(e Expr) Expr {
		for i, from := range froms {
			if CompareExpr(e, from) == 0 {
				return tos[i]
			}
		}
		return nil
	})
}

// Contains returns true if sub appears as a subtree of expr.
func Contains(expr, sub Expr) bool {
	found := false
	WalkExpr(exprVisitorFunc(func(e Expr) bool {
		if !found && CompareExpr(e, sub) == 0 {
			found = true
		}
		return !found
	}), expr)
	return found
}

// ContainsMapExpr returns true if expr has any MapHas or MapGet node.
func ContainsMapExpr(expr Expr) bool {
	found := false
	WalkExpr(exprVisitorFunc(func(e Expr) bool {
		switch e.(type) {
		case *MapHasExpr, *MapGetExpr:
			found = true
		}
		return !found
	}), expr)
	return found
}

// FindArrays returns all symbolic arrays in the expression trees, sorted by id.
func FindArrays(exprs ...Expr) []*Array {
	m := FreeVariables(exprs...)
	a := make([]*Array, 0, len(m))
	for _, array := range m {
		a = append(a, array)
	}
	sort.Slice(a, func(i, j int) bool { return CompareArray(a[i], a[j]) == -1 })
	return a
}

// FreeVariables returns the symbols referenced by exprs, keyed by array id.
func FreeVariables(exprs ...Expr) map[uint64]*Array {
	m := make(map[uint64]*Array)
	v := exprVisitorFunc(func(e Expr) bool {
		if e, ok := e.(*SelectExpr); ok {
			m[e.Array.ID] = e.Array
		}
		return true
	})
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}
	return m
}

// ExprEvaluator evaluates expressions using known array values.
type ExprEvaluator struct {
	m map[uint64][]byte // mapping of array id to value
}

// NewExprEvaluator returns a new instance of ExprEvaluator with the given array/value mapping.
func NewExprEvaluator(arrays []*Array, values [][]byte) *ExprEvaluator {
	assert(len(arrays) == len(values), "array/value count mismatch: %d != %d", len(arrays), len(values))

	m := make(map[uint64][]byte)
	for i, array := range arrays {
		_, ok := m[array.ID]
		assert(!ok, "duplicate array: id=%d", array.ID)
		m[array.ID] = values[i]
	}
	return &ExprEvaluator{m: m}
}

// Evaluate evaluates expr to a constant expression.
// Returns an error if an unknown array or a map expression is encountered.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*ConstantExpr, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr, nil
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return NewBinaryExpr(expr.Op, lhs, rhs).(*ConstantExpr), nil
	case *CastExpr:
		src, err := ee.Evaluate(expr.Src)
		if err != nil {
			return nil, err
		}
		return NewCastExpr(src, expr.Width, expr.Signed).(*ConstantExpr), nil
	case *ConcatExpr:
		msb, err := ee.Evaluate(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := ee.Evaluate(expr.LSB)
		if err != nil {
			return nil, err
		}
		return msb.Concat(lsb), nil
	case *ExtractExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Extract(expr.Offset, expr.Width), nil
	case *NotExpr:
		src, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src.Not(), nil
	case *IteExpr:
		cond, err := ee.Evaluate(expr.Cond)
		if err != nil {
			return nil, err
		} else if cond.IsTrue() {
			return ee.Evaluate(expr.Then)
		}
		return ee.Evaluate(expr.Else)
	case *SelectExpr:
		i, err := ee.Evaluate(expr.Index)
		if err != nil {
			return nil, err
		}
		initial, ok := ee.m[expr.Array.ID]
		if !ok {
			return nil, fmt.Errorf("array not bound: id=%d", expr.Array.ID)
		} else if i.Value >= uint64(len(initial)) {
			return nil, fmt.Errorf("select index out of bounds: %d >= %d", i.Value, len(initial))
		}
		return NewConstantExpr(uint64(initial[i.Value]), Width8), nil
	case *MapHasExpr, *MapGetExpr:
		return nil, fmt.Errorf("unexpanded map expression: %s", expr)
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}
