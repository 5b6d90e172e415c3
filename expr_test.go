package ghostmap_test

import (
	"testing"

	"github.com/benbjohnson/ghostmap"
	"github.com/google/go-cmp/cmp"
)

func c8(v uint64) *ghostmap.ConstantExpr  { return ghostmap.NewConstantExpr(v, 8) }
func c16(v uint64) *ghostmap.ConstantExpr { return ghostmap.NewConstantExpr(v, 16) }
func c64(v uint64) *ghostmap.ConstantExpr { return ghostmap.NewConstantExpr(v, 64) }

var (
	T = ghostmap.NewBoolConstantExpr(true)
	F = ghostmap.NewBoolConstantExpr(false)
)

func TestExprWidth(t *testing.T) {
	x := ghostmap.NewSymbol("x", 16)
	for _, tt := range []struct {
		name string
		expr ghostmap.Expr
		want uint
	}{
		{"ConstantExpr", c8(0), 8},
		{"SelectExpr", &ghostmap.SelectExpr{}, 8},
		{"ConcatExpr", &ghostmap.ConcatExpr{MSB: c8(0), LSB: c16(0)}, 24},
		{"ExtractExpr", &ghostmap.ExtractExpr{Expr: c64(0), Offset: 8, Width: 16}, 16},
		{"NotExpr", &ghostmap.NotExpr{Expr: c8(0)}, 8},
		{"CastExpr", &ghostmap.CastExpr{Src: c8(0), Width: 16}, 16},
		{"IteExpr", &ghostmap.IteExpr{Cond: T, Then: c16(0), Else: c16(1)}, 16},
		{"BinaryExpr/Arithmetic", &ghostmap.BinaryExpr{Op: ghostmap.ADD, LHS: x, RHS: x}, 16},
		{"BinaryExpr/Compare", &ghostmap.BinaryExpr{Op: ghostmap.ULT, LHS: x, RHS: x}, 1},
		{"MapHasExpr", ghostmap.NewMapHasExpr(1, x, nil), 1},
		{"MapGetExpr", ghostmap.NewMapGetExpr(1, x, 32), 32},
		{"Symbol", x, 16},
		{"BoolSymbol", ghostmap.NewBoolSymbol("p"), 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if w := ghostmap.ExprWidth(tt.expr); w != tt.want {
				t.Fatalf("unexpected width: %d", w)
			}
		})
	}
}

func TestBinaryOp(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		if s := ghostmap.ADD.String(); s != "add" {
			t.Fatalf("unexpected string: %s", s)
		} else if s := ghostmap.BinaryOp(1000).String(); s != "BinaryOp<1000>" {
			t.Fatalf("unexpected string: %s", s)
		}
	})
	t.Run("IsArithmetic", func(t *testing.T) {
		if !ghostmap.ASHR.IsArithmetic() || ghostmap.EQ.IsArithmetic() {
			t.Fatal("unexpected result")
		}
	})
	t.Run("IsCompare", func(t *testing.T) {
		if !ghostmap.SGE.IsCompare() || ghostmap.ADD.IsCompare() {
			t.Fatal("unexpected result")
		}
	})
}

func TestNewBinaryExpr(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
	p := ghostmap.NewBoolSymbol("p")

	for _, tt := range []struct {
		name string
		expr ghostmap.Expr
		want ghostmap.Expr
	}{
		{"ADD/Constant", ghostmap.Add(c8(200), c8(100)), c8(44)},
		{"ADD/Zero", ghostmap.Add(x, c8(0)), x},
		{"ADD/ConstantLeft", ghostmap.Add(x, c8(2)), &ghostmap.BinaryExpr{Op: ghostmap.ADD, LHS: c8(2), RHS: x}},
		{"ADD/Reassociate", ghostmap.Add(c8(1), ghostmap.Add(c8(2), x)), &ghostmap.BinaryExpr{Op: ghostmap.ADD, LHS: c8(3), RHS: x}},
		{"ADD/Bool", ghostmap.Add(p, F), p},
		{"SUB/Self", ghostmap.Sub(x, x), c8(0)},
		{"SUB/Constant", ghostmap.Sub(x, c8(1)), &ghostmap.BinaryExpr{Op: ghostmap.ADD, LHS: c8(0xFF), RHS: x}},
		{"MUL/One", ghostmap.NewBinaryExpr(ghostmap.MUL, c8(1), x), x},
		{"MUL/OneRight", ghostmap.NewBinaryExpr(ghostmap.MUL, x, c8(1)), x},
		{"MUL/Zero", ghostmap.NewBinaryExpr(ghostmap.MUL, x, c8(0)), c8(0)},
		{"UDIV/One", ghostmap.NewBinaryExpr(ghostmap.UDIV, x, c8(1)), x},
		{"UREM/One", ghostmap.NewBinaryExpr(ghostmap.UREM, x, c8(1)), c8(0)},
		{"AND/AllOnes", ghostmap.NewBinaryExpr(ghostmap.AND, c8(0xFF), x), x},
		{"AND/Zero", ghostmap.NewBinaryExpr(ghostmap.AND, x, c8(0)), c8(0)},
		{"AND/Self", ghostmap.NewBinaryExpr(ghostmap.AND, x, x), x},
		{"OR/Zero", ghostmap.NewBinaryExpr(ghostmap.OR, x, c8(0)), x},
		{"OR/AllOnes", ghostmap.NewBinaryExpr(ghostmap.OR, x, c8(0xFF)), c8(0xFF)},
		{"XOR/Self", ghostmap.NewBinaryExpr(ghostmap.XOR, x, x), c8(0)},
		{"SHL/Zero", ghostmap.NewBinaryExpr(ghostmap.SHL, x, c8(0)), x},
		{"LSHR/Zero", ghostmap.NewBinaryExpr(ghostmap.LSHR, x, c8(0)), x},
		{"AND/BoolTrue", ghostmap.NewBinaryExpr(ghostmap.AND, T, p), p},
		{"OR/BoolFalse", ghostmap.NewBinaryExpr(ghostmap.OR, p, F), p},
		{"EQ/ConstantLeft", ghostmap.Eq(x, c8(3)), &ghostmap.BinaryExpr{Op: ghostmap.EQ, LHS: c8(3), RHS: x}},
		{"EQ/Self", ghostmap.Eq(x, x), T},
		{"EQ/Offset", ghostmap.Eq(c8(5), ghostmap.Add(c8(2), x)), &ghostmap.BinaryExpr{Op: ghostmap.EQ, LHS: c8(3), RHS: x}},
		{"EQ/ZExtInRange", ghostmap.Eq(c16(0x7F), ghostmap.ZExt(x, 16)), &ghostmap.BinaryExpr{Op: ghostmap.EQ, LHS: c8(0x7F), RHS: x}},
		{"EQ/ZExtOutOfRange", ghostmap.Eq(c16(0x100), ghostmap.ZExt(x, 16)), F},
		{"EQ/True", ghostmap.Eq(T, p), p},
		{"NE", ghostmap.Ne(x, y), ghostmap.Not(ghostmap.Eq(x, y))},
		{"ULT/Zero", ghostmap.Ult(x, c8(0)), F},
		{"ULT/Self", ghostmap.Ult(x, x), F},
		{"ULE/ZeroLeft", ghostmap.Ule(c8(0), x), T},
		{"ULE/AllOnes", ghostmap.Ule(x, c8(0xFF)), T},
		{"UGT", ghostmap.NewBinaryExpr(ghostmap.UGT, x, y), &ghostmap.BinaryExpr{Op: ghostmap.ULT, LHS: y, RHS: x}},
		{"UGE", ghostmap.NewBinaryExpr(ghostmap.UGE, x, y), &ghostmap.BinaryExpr{Op: ghostmap.ULE, LHS: y, RHS: x}},
		{"SGT", ghostmap.NewBinaryExpr(ghostmap.SGT, x, y), &ghostmap.BinaryExpr{Op: ghostmap.SLT, LHS: y, RHS: x}},
		{"SLE/Self", ghostmap.NewBinaryExpr(ghostmap.SLE, x, x), T},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.expr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestConstantExpr(t *testing.T) {
	for _, tt := range []struct {
		name string
		got  *ghostmap.ConstantExpr
		want *ghostmap.ConstantExpr
	}{
		{"UDiv", c8(200).UDiv(c8(7)), c8(28)},
		{"UDiv/Zero", c8(200).UDiv(c8(0)), c8(0xFF)},
		{"SDiv", c8(0xF9).SDiv(c8(2)), c8(0xFD)},              // -7/2 = -3
		{"SDiv/BothNegative", c8(0xF9).SDiv(c8(0xFE)), c8(3)}, // -7/-2 = 3
		{"SDiv/Zero", c8(0xF9).SDiv(c8(0)), c8(1)},
		{"URem", c8(200).URem(c8(7)), c8(4)},
		{"URem/Zero", c8(200).URem(c8(0)), c8(200)},
		{"SRem", c8(0xF9).SRem(c8(2)), c8(0xFF)},      // -7%2 = -1
		{"SRem/Divisor", c8(7).SRem(c8(0xFE)), c8(1)}, // 7%-2 = 1
		{"Shl", c8(0x0F).Shl(c8(4)), c8(0xF0)},
		{"Shl/Overflow", c8(0x0F).Shl(c8(8)), c8(0)},
		{"LShr", c8(0xF0).LShr(c8(4)), c8(0x0F)},
		{"AShr", c8(0x80).AShr(c8(4)), c8(0xF8)},
		{"AShr/Overflow", c8(0x80).AShr(c8(9)), c8(0xFF)},
		{"ZExt", c8(0xFF).ZExt(16), c16(0x00FF)},
		{"SExt", c8(0xFF).SExt(16), c16(0xFFFF)},
		{"SExt/Positive", c8(0x7F).SExt(16), c16(0x007F)},
		{"Extract", c16(0xAABB).Extract(8, 8), c8(0xAA)},
		{"Concat", c8(0xAA).Concat(c8(0xBB)), c16(0xAABB)},
		{"Not", c8(0x0F).Not(), c8(0xF0)},
		{"Slt", c8(0xF0).Slt(c8(0)), T},
		{"Ult", c8(0xF0).Ult(c8(0)), F},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	t.Run("Signed", func(t *testing.T) {
		if v := c8(0xFF).Signed(); v != -1 {
			t.Fatalf("unexpected value: %d", v)
		} else if v := c16(0x7FFF).Signed(); v != 0x7FFF {
			t.Fatalf("unexpected value: %d", v)
		}
	})

	t.Run("IsTrue", func(t *testing.T) {
		if !T.IsTrue() || F.IsTrue() || c8(1).IsTrue() {
			t.Fatal("unexpected result")
		}
	})
}

func TestNewConcatExpr(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(c16(0xAABB), ghostmap.NewConcatExpr(c8(0xAA), c8(0xBB))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("ContiguousExtracts", func(t *testing.T) {
		x := ghostmap.NewSymbol("x", 16)
		expr := ghostmap.NewConcatExpr(ghostmap.NewExtractExpr(x, 8, 8), ghostmap.NewExtractExpr(x, 0, 8))
		if diff := cmp.Diff(x, expr); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewExtractExpr(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
	xy := ghostmap.NewConcatExpr(x, y)

	for _, tt := range []struct {
		name string
		expr ghostmap.Expr
		want ghostmap.Expr
	}{
		{"Full", ghostmap.NewExtractExpr(x, 0, 8), x},
		{"Constant", ghostmap.NewExtractExpr(c16(0xAABB), 8, 8), c8(0xAA)},
		{"ConcatMSB", ghostmap.NewExtractExpr(xy, 8, 8), x},
		{"ConcatLSB", ghostmap.NewExtractExpr(xy, 0, 8), y},
		{"ZExtSource", ghostmap.NewExtractExpr(ghostmap.ZExt(x, 32), 0, 8), x},
		{"ZExtPadding", ghostmap.NewExtractExpr(ghostmap.ZExt(x, 32), 16, 8), c8(0)},
		{"Nested", ghostmap.NewExtractExpr(ghostmap.NewExtractExpr(ghostmap.ZExt(xy, 64), 0, 32), 8, 8), x},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.expr); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestNewCastExpr(t *testing.T) {
	x := ghostmap.NewSymbol("x", 16)
	t.Run("Same", func(t *testing.T) {
		if diff := cmp.Diff(x, ghostmap.NewCastExpr(x, 16, true)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Truncate", func(t *testing.T) {
		if diff := cmp.Diff(ghostmap.NewExtractExpr(x, 0, 8), ghostmap.NewCastExpr(x, 8, false)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Constant", func(t *testing.T) {
		if diff := cmp.Diff(ghostmap.NewConstantExpr(0xFFFFFF80, 32), ghostmap.NewCastExpr(c8(0x80), 32, true)); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestNewIteExpr(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
	p := ghostmap.NewBoolSymbol("p")

	for _, tt := range []struct {
		name string
		expr ghostmap.Expr
		want ghostmap.Expr
	}{
		{"True", ghostmap.Ite(T, x, y), x},
		{"False", ghostmap.Ite(F, x, y), y},
		{"SameBranches", ghostmap.Ite(p, x, x), x},
		{"BoolIdentity", ghostmap.Ite(p, T, F), p},
		{"BoolNegation", ghostmap.Ite(p, F, T), ghostmap.Not(p)},
		{"NegatedCondition", ghostmap.Ite(ghostmap.Not(p), x, y), &ghostmap.IteExpr{Cond: p, Then: y, Else: x}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.expr); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	t.Run("EqConstantBranches", func(t *testing.T) {
		expr := ghostmap.Eq(c8(1), ghostmap.Ite(p, c8(1), c8(2)))
		if diff := cmp.Diff(p, expr); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestLogic(t *testing.T) {
	p, q := ghostmap.NewBoolSymbol("p"), ghostmap.NewBoolSymbol("q")

	for _, tt := range []struct {
		name string
		expr ghostmap.Expr
		want ghostmap.Expr
	}{
		{"Not/Constant", ghostmap.Not(T), F},
		{"Not/Double", ghostmap.Not(ghostmap.Not(p)), p},
		{"And/Empty", ghostmap.And(), T},
		{"And/Single", ghostmap.And(p), p},
		{"Or/Single", ghostmap.Or(p), p},
		{"Implies/Self", ghostmap.Implies(p, p), &ghostmap.BinaryExpr{Op: ghostmap.OR, LHS: ghostmap.Not(p), RHS: p}},
		{"And/True", ghostmap.And(p, T), p},
		{"And/False", ghostmap.And(p, F, q), F},
		{"Or/Empty", ghostmap.Or(), F},
		{"Or/False", ghostmap.Or(F, p), p},
		{"Or/True", ghostmap.Or(p, T), T},
		{"Implies/True", ghostmap.Implies(T, p), p},
		{"Implies/False", ghostmap.Implies(F, p), T},
		{"Implies", ghostmap.Implies(p, q), &ghostmap.BinaryExpr{Op: ghostmap.OR, LHS: ghostmap.Not(p), RHS: q}},
		{"Iff/Self", ghostmap.Iff(p, p), T},
		{"Reverse", ghostmap.Reverse(c16(0xAABB)), c16(0xBBAA)},
		{"UltWide", ghostmap.UltWide(c8(5), c16(300)), T},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.expr); diff != "" {
				t.Fatal(diff)
			}
		})
	}

	t.Run("IsSymbolic", func(t *testing.T) {
		if ghostmap.IsSymbolic(ghostmap.Add(c8(1), c8(2))) {
			t.Fatal("expected concrete")
		} else if !ghostmap.IsSymbolic(ghostmap.And(p, q)) {
			t.Fatal("expected symbolic")
		}
	})
}

func TestCompareExpr(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
	if cmp := ghostmap.CompareExpr(ghostmap.Add(c8(1), x), ghostmap.Add(x, c8(1))); cmp != 0 {
		t.Fatalf("expected structurally identical: %d", cmp)
	} else if cmp := ghostmap.CompareExpr(x, y); cmp != -1 {
		t.Fatalf("expected older symbol first: %d", cmp)
	} else if cmp := ghostmap.CompareExpr(c8(1), x); cmp != -1 {
		t.Fatalf("expected constant first: %d", cmp)
	} else if cmp := ghostmap.CompareExpr(nil, x); cmp != -1 {
		t.Fatalf("expected nil first: %d", cmp)
	}
}

func TestReplace(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
	t.Run("Symbol", func(t *testing.T) {
		if diff := cmp.Diff(ghostmap.Add(c8(1), y), ghostmap.Replace(ghostmap.Add(c8(1), x), x, y)); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Resimplify", func(t *testing.T) {
		if diff := cmp.Diff(c8(3), ghostmap.Replace(ghostmap.Add(c8(1), x), x, c8(2))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Substitute", func(t *testing.T) {
		expr := ghostmap.Substitute(ghostmap.Sub(x, y), []ghostmap.Expr{x, y}, []ghostmap.Expr{y, x})
		if diff := cmp.Diff(ghostmap.Sub(y, x), expr); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Unchanged", func(t *testing.T) {
		expr := ghostmap.Add(c8(1), x)
		if other := ghostmap.Replace(expr, y, c8(0)); other != expr {
			t.Fatal("expected shared tree")
		}
	})
}

func TestSubstituteSymbol(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 16), ghostmap.NewSymbol("y", 16)
	t.Run("Whole", func(t *testing.T) {
		expr := ghostmap.SubstituteSymbol(ghostmap.Add(c16(1), x), x, y)
		if diff := cmp.Diff(ghostmap.Add(c16(1), y), expr); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("PartialRead", func(t *testing.T) {
		low := ghostmap.NewExtractExpr(x, 0, 8)
		if diff := cmp.Diff(c8(0xBB), ghostmap.SubstituteSymbol(low, x, c16(0xAABB))); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Bool", func(t *testing.T) {
		p := ghostmap.NewBoolSymbol("p")
		if diff := cmp.Diff(T, ghostmap.SubstituteSymbol(ghostmap.Not(ghostmap.Not(p)), p, T)); diff != "" {
			t.Fatal(diff)
		}
	})
}

func TestContains(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 8)
	if !ghostmap.Contains(ghostmap.Add(c8(1), x), x) {
		t.Fatal("expected contains")
	} else if ghostmap.Contains(x, y) {
		t.Fatal("expected not contains")
	}

	t.Run("MapExpr", func(t *testing.T) {
		if !ghostmap.ContainsMapExpr(ghostmap.And(ghostmap.NewBoolSymbol("p"), ghostmap.NewMapHasExpr(1, x, nil))) {
			t.Fatal("expected map expression")
		} else if ghostmap.ContainsMapExpr(ghostmap.Add(x, y)) {
			t.Fatal("expected no map expression")
		}
	})
}

func TestFindArrays(t *testing.T) {
	x, y := ghostmap.NewSymbol("x", 8), ghostmap.NewSymbol("y", 16)
	arrays := ghostmap.FindArrays(ghostmap.Add(ghostmap.ZExt(x, 16), y), y)
	if len(arrays) != 2 {
		t.Fatalf("unexpected array count: %d", len(arrays))
	} else if arrays[0].Name != "x" || arrays[1].Name != "y" {
		t.Fatalf("unexpected arrays: %s, %s", arrays[0], arrays[1])
	}

	if vars := ghostmap.FreeVariables(c8(1)); len(vars) != 0 {
		t.Fatalf("unexpected free variables: %v", vars)
	}
}

func TestExprEvaluator_Evaluate(t *testing.T) {
	x := ghostmap.NewSymbol("x", 16)
	arrays := ghostmap.FindArrays(x)
	ee := ghostmap.NewExprEvaluator(arrays, [][]byte{{0x34, 0x12}})

	t.Run("Symbol", func(t *testing.T) {
		if v, err := ee.Evaluate(x); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(c16(0x1234), v); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Ite", func(t *testing.T) {
		expr := &ghostmap.IteExpr{Cond: ghostmap.Eq(x, c16(0x1234)), Then: c8(1), Else: c8(2)}
		if v, err := ee.Evaluate(expr); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(c8(1), v); diff != "" {
			t.Fatal(diff)
		}
	})
	t.Run("Unbound", func(t *testing.T) {
		if _, err := ee.Evaluate(ghostmap.NewSymbol("y", 8)); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("MapExpr", func(t *testing.T) {
		if _, err := ee.Evaluate(ghostmap.NewMapGetExpr(1, x, 8)); err == nil {
			t.Fatal("expected error")
		}
	})
}
