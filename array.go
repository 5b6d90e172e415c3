package ghostmap

import (
	"fmt"
	"sync/atomic"
)

// Array represents a named buffer of symbolic bytes. Symbols are arrays
// read at offset zero.
type Array struct {
	ID   uint64 // unique id
	Name string // debugging only
	Size uint   // width, in bytes
}

var arrayID uint64

// NewArray returns a new Array of the given size with a process-unique id.
func NewArray(name string, size uint) *Array {
	return &Array{
		ID:   atomic.AddUint64(&arrayID, 1),
		Name: name,
		Size: size,
	}
}

// NewSymbol returns a fresh unconstrained value of the given width.
// Width must be boolean or a whole number of bytes up to 64 bits.
func NewSymbol(name string, width uint) Expr {
	assert(width == WidthBool || (width%8 == 0 && width <= Width64), "symbol %q: unsupported width %d", name, width)
	return NewArray(name, minBytes(width)).Select(0, width)
}

// NewBoolSymbol returns a fresh unconstrained boolean.
func NewBoolSymbol(name string) Expr {
	return NewSymbol(name, WidthBool)
}

// String returns a string representation of the array.
func (a *Array) String() string {
	return fmt.Sprintf("(array %s#%d %d)", a.Name, a.ID, a.Size)
}

// Select reads a little-endian value of width bits starting at the byte offset.
func (a *Array) Select(offset uint64, width uint) Expr {
	assert(width > 0, "select: invalid width")
	assert(uint64(minBytes(width))+offset <= uint64(a.Size), "select: out of bounds: %d+%d > %d", offset, minBytes(width), a.Size)

	if width == WidthBool {
		return NewExtractExpr(a.selectByte(offset), 0, WidthBool)
	}

	var result Expr
	for i := uint64(0); i < uint64(width)/8; i++ {
		value := a.selectByte(offset + i)
		if result == nil {
			result = value
		} else {
			result = NewConcatExpr(value, result)
		}
	}
	return result
}

// selectByte reads a single byte from the array.
func (a *Array) selectByte(index uint64) Expr {
	return NewSelectExpr(a, NewConstantExpr64(index))
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if cmp := compareUint64(a.ID, b.ID); cmp != 0 {
		return cmp
	}
	return compareUint64(uint64(a.Size), uint64(b.Size))
}
