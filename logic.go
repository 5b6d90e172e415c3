package ghostmap

// Not returns the boolean negation of expr.
func Not(expr Expr) Expr {
	assert(ExprWidth(expr) == WidthBool, "not: expected boolean, got width %d", ExprWidth(expr))
	return newEqExpr(NewBoolConstantExpr(false), expr)
}

// And returns the conjunction of exprs. An empty conjunction is true.
func And(exprs ...Expr) Expr {
	var result Expr = NewBoolConstantExpr(true)
	for _, expr := range exprs {
		if IsConstantFalse(expr) {
			return expr
		}
		result = newAndExpr(result, expr)
	}
	return result
}

// Or returns the disjunction of exprs. An empty disjunction is false.
func Or(exprs ...Expr) Expr {
	var result Expr = NewBoolConstantExpr(false)
	for _, expr := range exprs {
		if IsConstantTrue(expr) {
			return expr
		}
		result = newOrExpr(result, expr)
	}
	return result
}

// Implies returns a => b.
func Implies(a, b Expr) Expr {
	if IsConstantTrue(a) {
		return b
	}
	return Or(Not(a), b)
}

// Iff returns a <=> b.
func Iff(a, b Expr) Expr {
	return newEqExpr(a, b)
}

// Eq returns a == b.
func Eq(a, b Expr) Expr { return NewBinaryExpr(EQ, a, b) }

// Ne returns a != b.
func Ne(a, b Expr) Expr { return NewBinaryExpr(NE, a, b) }

// Ult returns a < b, unsigned.
func Ult(a, b Expr) Expr { return NewBinaryExpr(ULT, a, b) }

// Ule returns a <= b, unsigned.
func Ule(a, b Expr) Expr { return NewBinaryExpr(ULE, a, b) }

// Add returns a + b.
func Add(a, b Expr) Expr { return NewBinaryExpr(ADD, a, b) }

// Sub returns a - b.
func Sub(a, b Expr) Expr { return NewBinaryExpr(SUB, a, b) }

// Ite returns if cond then a else b.
func Ite(cond, a, b Expr) Expr { return NewIteExpr(cond, a, b) }

// ZExt zero-extends or truncates expr to width.
func ZExt(expr Expr, width uint) Expr { return NewCastExpr(expr, width, false) }

// UltWide compares a < b after zero-extending both to the wider width.
func UltWide(a, b Expr) Expr {
	w := ExprWidth(a)
	if bw := ExprWidth(b); bw > w {
		w = bw
	}
	return Ult(ZExt(a, w), ZExt(b, w))
}

// Reverse returns expr with its bytes in reverse order.
func Reverse(expr Expr) Expr {
	w := ExprWidth(expr)
	assert(w%8 == 0, "reverse: width %d is not a multiple of 8", w)

	var result Expr
	for i := uint(0); i < w/8; i++ {
		b := NewExtractExpr(expr, i*8, Width8)
		if result == nil {
			result = b
		} else {
			result = NewConcatExpr(result, b)
		}
	}
	return result
}

// IsSymbolic returns true if expr references at least one symbol.
func IsSymbolic(expr Expr) bool {
	found := false
	WalkExpr(exprVisitorFunc(func(e Expr) bool {
		if _, ok := e.(*SelectExpr); ok {
			found = true
		}
		return !found
	}), expr)
	return found
}

// SubstituteSymbol replaces every byte of the symbol sym in expr with the
// matching byte of value. Unlike Replace it also rewrites partial reads of
// sym left behind by simplification.
func SubstituteSymbol(expr, sym, value Expr) Expr {
	arrays := FindArrays(sym)
	assert(len(arrays) == 1, "substitute symbol: not a symbol: %s", sym)
	assert(ExprWidth(sym) == ExprWidth(value), "substitute symbol: width mismatch: %d != %d", ExprWidth(sym), ExprWidth(value))

	array := arrays[0]
	wide := ZExt(value, array.Size*8)
	return RewriteExpr(expr, func(e Expr) Expr {
		sel, ok := e.(*SelectExpr)
		if !ok || sel.Array.ID != array.ID {
			return nil
		}
		index, ok := sel.Index.(*ConstantExpr)
		assert(ok, "substitute symbol: symbolic index into %s", array)
		return NewExtractExpr(wide, uint(index.Value)*8, Width8)
	})
}
