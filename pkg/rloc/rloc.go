// Package rloc implements relocatable integers: a 32-bit offset paired with
// a relocation mode that counts how many units of the (unknown) payload base
// address are folded into the value.
package rloc

import (
	"errors"
	"fmt"
)

// Mode is the multiplier of the base address carried by a value, expressed
// in quarters: Ptr carries the full base, EPD a quarter of it.
type Mode int32

const (
	Const Mode = 0
	EPD   Mode = 1
	Ptr   Mode = 4
)

// Scale is the mode value of one whole base address.
const Scale = 4

var (
	ErrNotDivisible = errors.New("value not divisible")
	ErrInvalidMode  = errors.New("invalid relocation mode")
	ErrDivideByZero = errors.New("divide by zero")
)

type RlocInt struct {
	Offset int32
	Mode   Mode
}

func New(offset int32, mode Mode) RlocInt {
	return RlocInt{Offset: offset, Mode: mode}
}

// Int returns a constant value.
func Int(v int32) RlocInt {
	return RlocInt{Offset: v}
}

func (x RlocInt) IsConst() bool { return x.Mode == Const }
func (x RlocInt) IsPtr() bool { return x.Mode == Ptr }
func (x RlocInt) IsEPD() bool { return x.Mode == EPD }

// IsAlignedPtr reports a pointer whose offset sits on a dword boundary.
func (x RlocInt) IsAlignedPtr() bool {
	return x.Mode == Ptr && x.Offset%4 == 0
}

func (x RlocInt) String() string {
	return fmt.Sprintf("RlocInt(0x%08X, %d)", uint32(x.Offset), x.Mode)
}

// Compare orders values by offset, then by mode.
func (x RlocInt) Compare(y RlocInt) int {
	switch {
	case x.Offset < y.Offset:
		return -1
	case x.Offset > y.Offset:
		return 1
	case x.Mode < y.Mode:
		return -1
	case x.Mode > y.Mode:
		return 1
	}
	return 0
}

func (x RlocInt) Equal(y RlocInt) bool { return x == y }

// --- Arithmetic ---

func (x RlocInt) Add(y RlocInt) RlocInt {
	return RlocInt{x.Offset + y.Offset, x.Mode + y.Mode}
}

func (x RlocInt) AddInt(n int32) RlocInt {
	return RlocInt{x.Offset + n, x.Mode}
}

func (x RlocInt) Sub(y RlocInt) RlocInt {
	return RlocInt{x.Offset - y.Offset, x.Mode - y.Mode}
}

func (x RlocInt) SubInt(n int32) RlocInt {
	return RlocInt{x.Offset - n, x.Mode}
}

// IntSub computes n - x.
func IntSub(n int32, x RlocInt) RlocInt {
	return RlocInt{n - x.Offset, -x.Mode}
}

func (x RlocInt) Neg() RlocInt {
	return RlocInt{-x.Offset, -x.Mode}
}

func (x RlocInt) MulInt(n int32) RlocInt {
	return RlocInt{x.Offset * n, x.Mode * Mode(n)}
}

// Mul multiplies by a constant. Two relocated operands cannot be multiplied.
func (x RlocInt) Mul(y RlocInt) (RlocInt, error) {
	switch {
	case y.Mode == Const:
		return x.MulInt(y.Offset), nil
	case x.Mode == Const:
		return y.MulInt(x.Offset), nil
	}
	return RlocInt{}, fmt.Errorf("%w: %s * %s", ErrInvalidMode, x, y)
}

func (x RlocInt) FloorDiv(y RlocInt) (RlocInt, error) {
	if y.Mode != Const {
		return RlocInt{}, fmt.Errorf("%w: cannot divide by %s", ErrInvalidMode, y)
	}
	return x.FloorDivInt(y.Offset)
}

// FloorDivInt divides with floor semantics. A relocated value is only
// divisible when its offset and mode are multiples of d and d divides Scale.
func (x RlocInt) FloorDivInt(d int32) (RlocInt, error) {
	if d == 0 {
		return RlocInt{}, ErrDivideByZero
	}
	if x.Mode != Const && (x.Offset%d != 0 || int32(x.Mode)%d != 0 || Scale%d != 0) {
		return RlocInt{}, fmt.Errorf("%w: %s by %d", ErrNotDivisible, x, d)
	}
	return RlocInt{floorDiv(x.Offset, d), Mode(floorDiv(int32(x.Mode), d))}, nil
}

// ModInt returns x mod d as a constant. A relocated value must be evenly
// divisible: d has to divide its offset, its mode and Scale, which makes
// the result 0.
func (x RlocInt) ModInt(d int32) (RlocInt, error) {
	if d == 0 {
		return RlocInt{}, ErrDivideByZero
	}
	if x.Mode != Const && (x.Offset%d != 0 || int32(x.Mode)%d != 0 || Scale%d != 0) {
		return RlocInt{}, fmt.Errorf("%w: %s mod %d", ErrNotDivisible, x, d)
	}
	return Int(floorMod(x.Offset, d)), nil
}

func (x RlocInt) Mod(y RlocInt) (RlocInt, error) {
	if y.Mode != Const {
		return RlocInt{}, fmt.Errorf("%w: cannot take modulo by %s", ErrInvalidMode, y)
	}
	return x.ModInt(y.Offset)
}

// Lsh shifts left, which multiplies the mode as well.
func (x RlocInt) Lsh(n uint) RlocInt {
	if x.Mode == Const {
		return Int(x.Offset << n)
	}
	return x.MulInt(int32(1) << n)
}

// Rsh shifts right. Relocated values must be divisible by 1<<n.
func (x RlocInt) Rsh(n uint) (RlocInt, error) {
	if x.Mode == Const {
		return Int(x.Offset >> n), nil
	}
	return x.FloorDivInt(int32(1) << n)
}

// --- Bitwise ---

func (x RlocInt) checkBitwise(op string, n int32) error {
	switch x.Mode {
	case Const:
		return nil
	case Ptr:
		if n&3 != n {
			return fmt.Errorf("%w: pointer %s mask %d outside 0..3", ErrInvalidMode, op, n)
		}
		return nil
	}
	return fmt.Errorf("%w: %s on %s", ErrInvalidMode, op, x)
}

func (x RlocInt) AndInt(n int32) (RlocInt, error) {
	if err := x.checkBitwise("&", n); err != nil {
		return RlocInt{}, err
	}
	return RlocInt{x.Offset & n, x.Mode}, nil
}

func (x RlocInt) OrInt(n int32) (RlocInt, error) {
	if err := x.checkBitwise("|", n); err != nil {
		return RlocInt{}, err
	}
	return RlocInt{x.Offset | n, x.Mode}, nil
}

func (x RlocInt) And(y RlocInt) (RlocInt, error) {
	if x.Mode != Const || y.Mode != Const {
		return RlocInt{}, fmt.Errorf("%w: %s & %s", ErrInvalidMode, x, y)
	}
	return Int(x.Offset & y.Offset), nil
}

func (x RlocInt) Or(y RlocInt) (RlocInt, error) {
	if x.Mode != Const || y.Mode != Const {
		return RlocInt{}, fmt.Errorf("%w: %s | %s", ErrInvalidMode, x, y)
	}
	return Int(x.Offset | y.Offset), nil
}

func (x RlocInt) Invert() (RlocInt, error) {
	if x.Mode != Const {
		return RlocInt{}, fmt.Errorf("%w: ^%s", ErrInvalidMode, x)
	}
	return Int(^x.Offset), nil
}

func floorDiv(a, b int32) int32 {
	// MinInt32 / -1 wraps like the rest of the arithmetic.
	if b == -1 {
		return -a
	}
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int32) int32 {
	if b == -1 {
		return 0
	}
	r := a % b
	if r != 0 && ((r < 0) != (b < 0)) {
		r += b
	}
	return r
}
