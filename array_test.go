package ghostmap_test

import (
	"testing"

	"github.com/benbjohnson/ghostmap"
	"github.com/google/go-cmp/cmp"
)

func TestArray_Select(t *testing.T) {
	sel := func(a *ghostmap.Array, i uint64) ghostmap.Expr {
		return &ghostmap.SelectExpr{Array: a, Index: ghostmap.NewConstantExpr64(i)}
	}

	t.Run("SingleByte", func(t *testing.T) {
		a := ghostmap.NewArray("a", 4)
		if diff := cmp.Diff(sel(a, 2), a.Select(2, 8)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("LittleEndian", func(t *testing.T) {
		a := ghostmap.NewArray("a", 4)
		want := &ghostmap.ConcatExpr{
			MSB: sel(a, 3),
			LSB: &ghostmap.ConcatExpr{
				MSB: sel(a, 2),
				LSB: &ghostmap.ConcatExpr{MSB: sel(a, 1), LSB: sel(a, 0)},
			},
		}
		if diff := cmp.Diff(want, a.Select(0, 32)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Offset", func(t *testing.T) {
		a := ghostmap.NewArray("a", 4)
		if diff := cmp.Diff(&ghostmap.ConcatExpr{MSB: sel(a, 3), LSB: sel(a, 2)}, a.Select(2, 16)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Bool", func(t *testing.T) {
		a := ghostmap.NewArray("a", 1)
		if diff := cmp.Diff(&ghostmap.ExtractExpr{Expr: sel(a, 0), Offset: 0, Width: 1}, a.Select(0, 1)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		ghostmap.NewArray("a", 2).Select(1, 16)
	})
}

func TestNewSymbol(t *testing.T) {
	t.Run("Width", func(t *testing.T) {
		for _, width := range []uint{1, 8, 16, 32, 64} {
			if w := ghostmap.ExprWidth(ghostmap.NewSymbol("x", width)); w != width {
				t.Fatalf("unexpected width: %d", w)
			}
		}
	})

	t.Run("Fresh", func(t *testing.T) {
		x, y := ghostmap.NewSymbol("x", 32), ghostmap.NewSymbol("x", 32)
		if ghostmap.CompareExpr(x, y) == 0 {
			t.Fatal("expected distinct symbols")
		}
	})

	t.Run("InvalidWidth", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		ghostmap.NewSymbol("x", 12)
	})
}

func TestCompareArray(t *testing.T) {
	a, b := ghostmap.NewArray("a", 4), ghostmap.NewArray("b", 4)
	if cmp := ghostmap.CompareArray(a, a); cmp != 0 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := ghostmap.CompareArray(a, b); cmp != -1 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := ghostmap.CompareArray(b, a); cmp != 1 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := ghostmap.CompareArray(nil, a); cmp != -1 {
		t.Fatalf("unexpected result: %d", cmp)
	} else if cmp := ghostmap.CompareArray(nil, nil); cmp != 0 {
		t.Fatalf("unexpected result: %d", cmp)
	}
}
