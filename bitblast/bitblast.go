// Package bitblast implements a pure Go solver that translates expressions
// into a boolean circuit and solves it with a SAT solver.
package bitblast

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/ghostmap"
	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"github.com/pkg/errors"
)

// Ensure solver implements interface.
var _ ghostmap.Solver = (*Solver)(nil)

// Solver solves constraints by bit-blasting. It holds no state between calls
// and is safe for concurrent use.
type Solver struct {
	solveN    int64
	solveTime int64
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return Stats{
		SolveN:    int(atomic.LoadInt64(&s.solveN)),
		SolveTime: time.Duration(atomic.LoadInt64(&s.solveTime)),
	}
}

// Solve returns whether constraints can all hold. If so, a model value is
// returned for each of arrays.
func (s *Solver) Solve(constraints []ghostmap.Expr, arrays []*ghostmap.Array) (satisfiable bool, values [][]byte, err error) {
	t := time.Now()
	defer func() {
		atomic.AddInt64(&s.solveN, 1)
		atomic.AddInt64(&s.solveTime, int64(time.Since(t)))
	}()

	b := newBuilder()
	roots := make([]z.Lit, 0, len(constraints))
	for _, constraint := range constraints {
		if w := ghostmap.ExprWidth(constraint); w != ghostmap.WidthBool {
			return false, nil, errors.Errorf("bitblast: constraint must be boolean, width=%d: %s", w, constraint)
		}
		bits, err := b.build(constraint)
		if err != nil {
			return false, nil, err
		}
		if bits[0] == b.c.F {
			return false, nil, nil
		}
		roots = append(roots, bits[0])
	}

	g := gini.New()
	b.c.ToCnf(g)
	g.Add(b.c.T)
	g.Add(z.LitNull)
	for _, m := range roots {
		g.Add(m)
		g.Add(z.LitNull)
	}

	// Register every input bit with the solver so the model covers it.
	for _, a := range b.arrays {
		for _, m := range a {
			g.Add(m)
			g.Add(m.Not())
			g.Add(z.LitNull)
		}
	}

	switch g.Solve() {
	case 1:
	case -1:
		return false, nil, nil
	default:
		return false, nil, ghostmap.ErrSolverUnknown
	}

	values = make([][]byte, len(arrays))
	for i, array := range arrays {
		value := make([]byte, array.Size)
		if bits, ok := b.arrays[array.ID]; ok {
			for j, m := range bits {
				if g.Value(m) {
					value[j/8] |= 1 << uint(j%8)
				}
			}
		}
		values[i] = value
	}
	return true, values, nil
}

// Stats holds counters for a solver.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}

// bits holds the literals of a bit vector, least significant first.
type bits []z.Lit

// builder translates expressions into a circuit.
type builder struct {
	c      *logic.C
	arrays map[uint64]bits
}

func newBuilder() *builder {
	return &builder{
		c:      logic.NewC(),
		arrays: make(map[uint64]bits),
	}
}

// build returns the literals of expr.
func (b *builder) build(expr ghostmap.Expr) (bits, error) {
	switch expr := expr.(type) {
	case *ghostmap.ConstantExpr:
		return b.constant(expr.Value, expr.Width), nil
	case *ghostmap.SelectExpr:
		return b.buildSelect(expr)
	case *ghostmap.ConcatExpr:
		msb, err := b.build(expr.MSB)
		if err != nil {
			return nil, err
		}
		lsb, err := b.build(expr.LSB)
		if err != nil {
			return nil, err
		}
		return append(append(bits{}, lsb...), msb...), nil
	case *ghostmap.ExtractExpr:
		src, err := b.build(expr.Expr)
		if err != nil {
			return nil, err
		}
		return src[expr.Offset : expr.Offset+expr.Width], nil
	case *ghostmap.CastExpr:
		src, err := b.build(expr.Src)
		if err != nil {
			return nil, err
		}
		fill := b.c.F
		if expr.Signed {
			fill = src[len(src)-1]
		}
		return b.extend(src, expr.Width, fill), nil
	case *ghostmap.NotExpr:
		src, err := b.build(expr.Expr)
		if err != nil {
			return nil, err
		}
		return b.not(src), nil
	case *ghostmap.IteExpr:
		return b.buildIte(expr)
	case *ghostmap.BinaryExpr:
		return b.buildBinary(expr)
	case *ghostmap.MapHasExpr, *ghostmap.MapGetExpr:
		return nil, errors.Errorf("bitblast: unexpanded map expression: %s", expr)
	default:
		return nil, errors.Errorf("bitblast: invalid expression type: %T", expr)
	}
}

func (b *builder) buildSelect(expr *ghostmap.SelectExpr) (bits, error) {
	index, ok := expr.Index.(*ghostmap.ConstantExpr)
	if !ok {
		return nil, errors.Errorf("bitblast: symbolic array index: %s", expr)
	} else if index.Value >= uint64(expr.Array.Size) {
		return nil, errors.Errorf("bitblast: array index out of bounds: %s", expr)
	}

	a, ok := b.arrays[expr.Array.ID]
	if !ok {
		a = make(bits, expr.Array.Size*8)
		for i := range a {
			a[i] = b.c.Lit()
		}
		b.arrays[expr.Array.ID] = a
	}
	return a[index.Value*8 : index.Value*8+8], nil
}

func (b *builder) buildIte(expr *ghostmap.IteExpr) (bits, error) {
	cond, err := b.build(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := b.build(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := b.build(expr.Else)
	if err != nil {
		return nil, err
	}
	return b.mux(cond[0], then, els), nil
}

func (b *builder) buildBinary(expr *ghostmap.BinaryExpr) (bits, error) {
	lhs, err := b.build(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := b.build(expr.RHS)
	if err != nil {
		return nil, err
	}

	switch expr.Op {
	case ghostmap.ADD:
		sum, _ := b.add(lhs, rhs, b.c.F)
		return sum, nil
	case ghostmap.SUB:
		return b.sub(lhs, rhs), nil
	case ghostmap.MUL:
		return b.mul(lhs, rhs), nil
	case ghostmap.UDIV:
		q, _ := b.udivrem(lhs, rhs)
		return q, nil
	case ghostmap.UREM:
		_, r := b.udivrem(lhs, rhs)
		return r, nil
	case ghostmap.SDIV:
		return b.sdiv(lhs, rhs), nil
	case ghostmap.SREM:
		return b.srem(lhs, rhs), nil
	case ghostmap.AND:
		return b.bitwise(lhs, rhs, b.c.And), nil
	case ghostmap.OR:
		return b.bitwise(lhs, rhs, b.c.Or), nil
	case ghostmap.XOR:
		return b.bitwise(lhs, rhs, b.c.Xor), nil
	case ghostmap.SHL:
		return b.shift(lhs, rhs, func(a bits, n int) bits { return b.shl(a, n) }, b.c.F), nil
	case ghostmap.LSHR:
		return b.shift(lhs, rhs, func(a bits, n int) bits { return b.lshr(a, n, b.c.F) }, b.c.F), nil
	case ghostmap.ASHR:
		sign := lhs[len(lhs)-1]
		return b.shift(lhs, rhs, func(a bits, n int) bits { return b.lshr(a, n, sign) }, sign), nil
	case ghostmap.EQ:
		return bits{b.eq(lhs, rhs)}, nil
	case ghostmap.NE:
		return bits{b.eq(lhs, rhs).Not()}, nil
	case ghostmap.ULT:
		return bits{b.ult(lhs, rhs)}, nil
	case ghostmap.ULE:
		return bits{b.ult(rhs, lhs).Not()}, nil
	case ghostmap.UGT:
		return bits{b.ult(rhs, lhs)}, nil
	case ghostmap.UGE:
		return bits{b.ult(lhs, rhs).Not()}, nil
	case ghostmap.SLT:
		return bits{b.slt(lhs, rhs)}, nil
	case ghostmap.SLE:
		return bits{b.slt(rhs, lhs).Not()}, nil
	case ghostmap.SGT:
		return bits{b.slt(rhs, lhs)}, nil
	case ghostmap.SGE:
		return bits{b.slt(lhs, rhs).Not()}, nil
	default:
		return nil, errors.Errorf("bitblast: unexpected operation: %s", expr.Op)
	}
}

func (b *builder) constant(value uint64, width uint) bits {
	a := make(bits, width)
	for i := range a {
		if value&(1<<uint(i)) != 0 {
			a[i] = b.c.T
		} else {
			a[i] = b.c.F
		}
	}
	return a
}

// extend pads a to width with fill.
func (b *builder) extend(a bits, width uint, fill z.Lit) bits {
	other := append(make(bits, 0, width), a...)
	for uint(len(other)) < width {
		other = append(other, fill)
	}
	return other
}

func (b *builder) not(a bits) bits {
	other := make(bits, len(a))
	for i, m := range a {
		other[i] = m.Not()
	}
	return other
}

func (b *builder) bitwise(x, y bits, fn func(a, b z.Lit) z.Lit) bits {
	other := make(bits, len(x))
	for i := range x {
		other[i] = fn(x[i], y[i])
	}
	return other
}

// mux returns then if cond is true, otherwise els.
func (b *builder) mux(cond z.Lit, then, els bits) bits {
	other := make(bits, len(then))
	for i := range then {
		other[i] = b.c.Choice(cond, then[i], els[i])
	}
	return other
}

// add returns the sum of x, y & carry along with the carry out.
func (b *builder) add(x, y bits, carry z.Lit) (bits, z.Lit) {
	sum := make(bits, len(x))
	for i := range x {
		t := b.c.Xor(x[i], y[i])
		sum[i] = b.c.Xor(t, carry)
		carry = b.c.Or(b.c.And(x[i], y[i]), b.c.And(carry, t))
	}
	return sum, carry
}

func (b *builder) sub(x, y bits) bits {
	diff, _ := b.add(x, b.not(y), b.c.T)
	return diff
}

func (b *builder) neg(x bits) bits {
	return b.sub(b.constant(0, uint(len(x))), x)
}

func (b *builder) mul(x, y bits) bits {
	w := uint(len(x))
	product := b.constant(0, w)
	for i := range y {
		partial := b.bitwise(b.shl(x, i), b.extend(nil, w, y[i]), b.c.And)
		product, _ = b.add(product, partial, b.c.F)
	}
	return product
}

// udivrem returns the quotient & remainder of restoring division. Division
// by zero yields all ones and the dividend.
func (b *builder) udivrem(x, y bits) (q, r bits) {
	w := uint(len(x))
	q = make(bits, w)
	r = b.constant(0, w+1)
	d := b.extend(y, w+1, b.c.F)
	for i := int(w) - 1; i >= 0; i-- {
		r = append(bits{x[i]}, r[:w]...)
		ge := b.ult(r, d).Not()
		r = b.mux(ge, b.sub(r, d), r)
		q[i] = ge
	}
	return q, r[:w]
}

func (b *builder) abs(x bits) bits {
	return b.mux(x[len(x)-1], b.neg(x), x)
}

func (b *builder) sdiv(x, y bits) bits {
	q, _ := b.udivrem(b.abs(x), b.abs(y))
	return b.mux(b.c.Xor(x[len(x)-1], y[len(y)-1]), b.neg(q), q)
}

func (b *builder) srem(x, y bits) bits {
	_, r := b.udivrem(b.abs(x), b.abs(y))
	return b.mux(x[len(x)-1], b.neg(r), r)
}

// shl shifts a left by a constant n.
func (b *builder) shl(a bits, n int) bits {
	other := make(bits, len(a))
	for i := range other {
		if i < n {
			other[i] = b.c.F
		} else {
			other[i] = a[i-n]
		}
	}
	return other
}

// lshr shifts a right by a constant n, filling with fill.
func (b *builder) lshr(a bits, n int, fill z.Lit) bits {
	other := make(bits, len(a))
	for i := range other {
		if i+n < len(a) {
			other[i] = a[i+n]
		} else {
			other[i] = fill
		}
	}
	return other
}

// shift is a barrel shifter over the bits of amount. Amounts of at least
// the width produce a value of all fill bits.
func (b *builder) shift(a, amount bits, fn func(a bits, n int) bits, fill z.Lit) bits {
	overflow := b.c.F
	for k, m := range amount {
		if k >= 32 || 1<<uint(k) >= len(a) {
			overflow = b.c.Or(overflow, m)
			continue
		}
		a = b.mux(m, fn(a, 1<<uint(k)), a)
	}
	return b.mux(overflow, b.extend(nil, uint(len(a)), fill), a)
}

func (b *builder) eq(x, y bits) z.Lit {
	ms := make([]z.Lit, len(x))
	for i := range x {
		ms[i] = b.c.Xor(x[i], y[i]).Not()
	}
	return b.c.Ands(ms...)
}

// ult compares from the least significant bit up so the most significant
// differing bit decides.
func (b *builder) ult(x, y bits) z.Lit {
	lt := b.c.F
	for i := range x {
		lt = b.c.Choice(b.c.Xor(x[i], y[i]), y[i], lt)
	}
	return lt
}

func (b *builder) slt(x, y bits) z.Lit {
	n := len(x) - 1
	x = append(append(bits{}, x[:n]...), x[n].Not())
	y = append(append(bits{}, y[:n]...), y[n].Not())
	return b.ult(x, y)
}
