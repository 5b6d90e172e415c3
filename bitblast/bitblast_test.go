package bitblast_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/benbjohnson/ghostmap"
	"github.com/benbjohnson/ghostmap/bitblast"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func c8(v uint64) *ghostmap.ConstantExpr { return ghostmap.NewConstantExpr(v, 8) }

func binary(op ghostmap.BinaryOp, lhs, rhs ghostmap.Expr) ghostmap.Expr {
	return &ghostmap.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}
}

func TestSolver_Solve(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		MustSatisfy(t, true, ghostmap.NewBoolConstantExpr(true))
		MustSatisfy(t, false, ghostmap.NewBoolConstantExpr(false))
	})

	t.Run("Empty", func(t *testing.T) {
		satisfiable, _, err := bitblast.NewSolver().Solve(nil, nil)
		require.NoError(t, err)
		require.True(t, satisfiable)
	})

	t.Run("Array", func(t *testing.T) {
		t.Run("Width16", func(t *testing.T) {
			array := ghostmap.NewArray("x", 2)
			satisfiable, values, err := bitblast.NewSolver().Solve(
				[]ghostmap.Expr{ghostmap.Eq(array.Select(0, 16), ghostmap.NewConstantExpr(0xAABB, 16))},
				[]*ghostmap.Array{array},
			)
			require.NoError(t, err)
			require.True(t, satisfiable)
			if diff := cmp.Diff(values, [][]byte{{0xBB, 0xAA}}); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Unused", func(t *testing.T) {
			used, unused := ghostmap.NewArray("x", 1), ghostmap.NewArray("y", 4)
			satisfiable, values, err := bitblast.NewSolver().Solve(
				[]ghostmap.Expr{ghostmap.Eq(used.Select(0, 8), c8(7))},
				[]*ghostmap.Array{used, unused},
			)
			require.NoError(t, err)
			require.True(t, satisfiable)
			if diff := cmp.Diff(values, [][]byte{{7}, {0, 0, 0, 0}}); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Bool", func(t *testing.T) {
			p := ghostmap.NewBoolSymbol("p")
			MustSatisfy(t, false, ghostmap.And(p, ghostmap.Not(p)))
		})
	})

	t.Run("Ite", func(t *testing.T) {
		x := ghostmap.NewSymbol("x", 8)
		cond := ghostmap.NewBoolSymbol("c")
		MustSatisfy(t, false,
			binary(ghostmap.EQ, &ghostmap.IteExpr{Cond: cond, Then: c8(1), Else: c8(2)}, x),
			binary(ghostmap.EQ, x, c8(3)),
		)
		MustSatisfy(t, true,
			binary(ghostmap.EQ, &ghostmap.IteExpr{Cond: cond, Then: c8(1), Else: c8(2)}, x),
			binary(ghostmap.EQ, x, c8(2)),
		)
	})

	t.Run("Cast", func(t *testing.T) {
		x := ghostmap.NewSymbol("x", 8)
		MustSatisfy(t, false,
			binary(ghostmap.EQ, x, c8(0x80)),
			binary(ghostmap.NE, &ghostmap.CastExpr{Src: x, Width: 16, Signed: true}, ghostmap.NewConstantExpr(0xFF80, 16)),
		)
		MustSatisfy(t, false,
			binary(ghostmap.EQ, x, c8(0x80)),
			binary(ghostmap.NE, &ghostmap.CastExpr{Src: x, Width: 16}, ghostmap.NewConstantExpr(0x0080, 16)),
		)
	})

	t.Run("MapExpr", func(t *testing.T) {
		_, _, err := bitblast.NewSolver().Solve([]ghostmap.Expr{ghostmap.NewMapHasExpr(1, c8(0), nil)}, nil)
		require.Error(t, err)
	})

	t.Run("NonBool", func(t *testing.T) {
		_, _, err := bitblast.NewSolver().Solve([]ghostmap.Expr{c8(1)}, nil)
		require.Error(t, err)
	})

	// Every operation on pinned symbolic operands must agree with constant folding.
	t.Run("BinaryExpr", func(t *testing.T) {
		ops := []struct {
			op   ghostmap.BinaryOp
			fold func(a, b *ghostmap.ConstantExpr) *ghostmap.ConstantExpr
		}{
			{ghostmap.ADD, (*ghostmap.ConstantExpr).Add},
			{ghostmap.SUB, (*ghostmap.ConstantExpr).Sub},
			{ghostmap.MUL, (*ghostmap.ConstantExpr).Mul},
			{ghostmap.UDIV, (*ghostmap.ConstantExpr).UDiv},
			{ghostmap.SDIV, (*ghostmap.ConstantExpr).SDiv},
			{ghostmap.UREM, (*ghostmap.ConstantExpr).URem},
			{ghostmap.SREM, (*ghostmap.ConstantExpr).SRem},
			{ghostmap.AND, (*ghostmap.ConstantExpr).And},
			{ghostmap.OR, (*ghostmap.ConstantExpr).Or},
			{ghostmap.XOR, (*ghostmap.ConstantExpr).Xor},
			{ghostmap.SHL, (*ghostmap.ConstantExpr).Shl},
			{ghostmap.LSHR, (*ghostmap.ConstantExpr).LShr},
			{ghostmap.ASHR, (*ghostmap.ConstantExpr).AShr},
			{ghostmap.EQ, (*ghostmap.ConstantExpr).Eq},
			{ghostmap.ULT, (*ghostmap.ConstantExpr).Ult},
			{ghostmap.ULE, (*ghostmap.ConstantExpr).Ule},
			{ghostmap.SLT, (*ghostmap.ConstantExpr).Slt},
			{ghostmap.SLE, (*ghostmap.ConstantExpr).Sle},
		}

		rng := rand.New(rand.NewSource(0))
		pairs := [][2]uint64{{0, 0}, {0x80, 0xFF}, {0x7F, 0}, {5, 9}, {0xFF, 1}}
		for i := 0; i < 8; i++ {
			pairs = append(pairs, [2]uint64{uint64(rng.Intn(256)), uint64(rng.Intn(256))})
		}

		s := bitblast.NewSolver()
		for _, tt := range ops {
			t.Run(tt.op.String(), func(t *testing.T) {
				for _, pair := range pairs {
					a, b := c8(pair[0]), c8(pair[1])
					x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
					want := tt.fold(a, b)

					satisfiable, _, err := s.Solve([]ghostmap.Expr{
						binary(ghostmap.EQ, x, a),
						binary(ghostmap.EQ, y, b),
						binary(ghostmap.NE, binary(tt.op, x, y), want),
					}, nil)
					require.NoError(t, err)
					require.False(t, satisfiable, "%s %s %s != %s", tt.op, a, b, want)
				}
			})
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		s := bitblast.NewSolver()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				x := ghostmap.NewSymbol("x", 8)
				satisfiable, values, err := s.Solve(
					[]ghostmap.Expr{ghostmap.Eq(ghostmap.Add(x, c8(1)), c8(uint64(i)))},
					[]*ghostmap.Array{ghostmap.FindArrays(x)[0]},
				)
				if assert.NoError(t, err) && assert.True(t, satisfiable) {
					assert.Equal(t, []byte{byte(i - 1)}, values[0])
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 8, s.Stats().SolveN)
	})
}

// MustSatisfy solves exprs on a new solver and fails if the result differs.
func MustSatisfy(tb testing.TB, want bool, exprs ...ghostmap.Expr) {
	tb.Helper()
	satisfiable, _, err := bitblast.NewSolver().Solve(exprs, nil)
	if err != nil {
		tb.Fatal(err)
	} else if satisfiable != want {
		tb.Fatalf("satisfiable=%v, want %v", satisfiable, want)
	}
}
