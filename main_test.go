package ghostmap_test

import (
	"testing"

	"github.com/benbjohnson/ghostmap"
	"github.com/benbjohnson/ghostmap/bitblast"
	"github.com/davecgh/go-spew/spew"
)

func c32(v uint64) *ghostmap.ConstantExpr { return ghostmap.NewConstantExpr(v, 32) }

// NewState returns an unconstrained state backed by the pure-Go solver.
func NewState(tb testing.TB) *ghostmap.State {
	tb.Helper()
	config := ghostmap.DefaultConfig()
	config.Workers = 2
	return ghostmap.NewState(bitblast.NewSolver(), config)
}

// MustAllocate allocates a map with the given widths or fails.
func MustAllocate(tb testing.TB, s *ghostmap.State, name string, keyWidth, valueWidth uint) ghostmap.Handle {
	tb.Helper()
	h, err := s.Allocate(name, c32(uint64(keyWidth)), c32(uint64(valueWidth)))
	if err != nil {
		tb.Fatal(err)
	}
	return h
}

// MustSet sets key to value or fails.
func MustSet(tb testing.TB, s *ghostmap.State, h ghostmap.Handle, key, value ghostmap.Expr) {
	tb.Helper()
	if err := s.Set(h, key, value); err != nil {
		tb.Fatal(err)
	}
}

// MustGet returns the value and presence of key or fails.
func MustGet(tb testing.TB, s *ghostmap.State, h ghostmap.Handle, key ghostmap.Expr) (value, present ghostmap.Expr) {
	tb.Helper()
	value, present, err := s.Get(h, key, nil)
	if err != nil {
		tb.Fatal(err)
	}
	return value, present
}

// MustLength returns the length of the map or fails.
func MustLength(tb testing.TB, s *ghostmap.State, h ghostmap.Handle) ghostmap.Expr {
	tb.Helper()
	length, err := s.Length(h)
	if err != nil {
		tb.Fatal(err)
	}
	return length
}

// MustBeTrue fails unless expr holds in every model of s.
func MustBeTrue(tb testing.TB, s *ghostmap.State, expr ghostmap.Expr) {
	tb.Helper()
	if ok, err := s.DefinitelyTrue(expr); err != nil {
		tb.Fatal(err)
	} else if !ok {
		tb.Fatalf("expected definitely true: %s\n%s", expr, s.Dump())
	}
}

// MustBeFalse fails unless expr fails in every model of s.
func MustBeFalse(tb testing.TB, s *ghostmap.State, expr ghostmap.Expr) {
	tb.Helper()
	if ok, err := s.DefinitelyFalse(expr); err != nil {
		tb.Fatal(err)
	} else if !ok {
		tb.Fatalf("expected definitely false: %s\n%s", expr, s.Dump())
	}
}

// MustBeUndecided fails unless expr can be both true and false in s.
func MustBeUndecided(tb testing.TB, s *ghostmap.State, expr ghostmap.Expr) {
	tb.Helper()
	if ok, err := s.CanBeTrue(expr); err != nil {
		tb.Fatal(err)
	} else if !ok {
		tb.Fatalf("expected to be possibly true: %s\n%s", expr, s.Dump())
	}
	if ok, err := s.CanBeFalse(expr); err != nil {
		tb.Fatal(err)
	} else if !ok {
		tb.Fatalf("expected to be possibly false: %s\n%s", expr, s.Dump())
	}
}

// dumpFacts returns the keys of facts, for failure messages.
func dumpFacts(facts []*ghostmap.Fact) string {
	keys := make([]string, len(facts))
	for i, f := range facts {
		keys[i] = f.Key()
	}
	return spew.Sdump(keys)
}
