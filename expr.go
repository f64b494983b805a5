package objpack

import (
	"fmt"

	"github.com/rawbytedev/objpack/pkg/rloc"
)

// EPDOffset is the base of the EPD address space. EPD(x) = (x - EPDOffset) / 4.
const EPDOffset = 0x58A364

// Resolver hands out object addresses for the phase a build is in.
type Resolver interface {
	ObjectAddr(obj Object) (rloc.RlocInt, error)
}

// Expr is a value that may depend on addresses not yet assigned.
type Expr interface {
	Evaluate(r Resolver) (rloc.RlocInt, error)
}

// Lit is an already known value.
type Lit rloc.RlocInt

func (l Lit) Evaluate(Resolver) (rloc.RlocInt, error) { return rloc.RlocInt(l), nil }

func (l Lit) String() string { return rloc.RlocInt(l).String() }

// Int returns a constant expression.
func Int(v int32) Expr { return Lit(rloc.Int(v)) }

// Value wraps an evaluated relocatable value.
func Value(x rloc.RlocInt) Expr { return Lit(x) }

// ConstExpr is base*mode/4 + offset. A nil base denotes the constant offset.
type ConstExpr struct {
	base   Expr
	offset int32
	mode   rloc.Mode
}

func NewConstExpr(base Expr, offset int32, mode rloc.Mode) (*ConstExpr, error) {
	if base == nil && mode != rloc.Const {
		return nil, fmt.Errorf("%w: constant expression with mode %d", ErrInvalidMode, mode)
	}
	return &ConstExpr{base: base, offset: offset, mode: mode}, nil
}

func (c *ConstExpr) Offset() int32 { return c.offset }
func (c *ConstExpr) Mode() rloc.Mode { return c.mode }

func (c *ConstExpr) Evaluate(r Resolver) (rloc.RlocInt, error) {
	if c.base == nil {
		if c.mode != rloc.Const {
			return rloc.RlocInt{}, fmt.Errorf("%w: constant expression with mode %d", ErrInvalidMode, c.mode)
		}
		return rloc.Int(c.offset), nil
	}
	v, err := c.base.Evaluate(r)
	if err != nil {
		return rloc.RlocInt{}, err
	}
	v, err = v.MulInt(int32(c.mode)).FloorDivInt(rloc.Scale)
	if err != nil {
		return rloc.RlocInt{}, err
	}
	return v.AddInt(c.offset), nil
}

func (c *ConstExpr) with(offset int32, mode rloc.Mode) *ConstExpr {
	return &ConstExpr{base: c.base, offset: offset, mode: mode}
}

func (c *ConstExpr) Add(n int32) *ConstExpr { return c.with(c.offset+n, c.mode) }
func (c *ConstExpr) Sub(n int32) *ConstExpr { return c.with(c.offset-n, c.mode) }

// RSub computes n - c.
func (c *ConstExpr) RSub(n int32) *ConstExpr { return c.with(n-c.offset, -c.mode) }

func (c *ConstExpr) Mul(n int32) *ConstExpr { return c.with(c.offset*n, c.mode*rloc.Mode(n)) }

func (c *ConstExpr) FloorDiv(n int32) (*ConstExpr, error) {
	if n == 0 {
		return nil, ErrDivideByZero
	}
	if c.mode != rloc.Const && int32(c.mode)%n != 0 {
		return nil, fmt.Errorf("%w: address by %d", ErrNotDivisible, n)
	}
	q, _ := divmod(c.offset, n)
	m, _ := divmod(int32(c.mode), n)
	return c.with(q, rloc.Mode(m)), nil
}

// Mod is only defined for whole addresses, whose base is a multiple of 4.
func (c *ConstExpr) Mod(n int32) (int32, error) {
	_, r, err := c.DivMod(n)
	return r, err
}

func (c *ConstExpr) DivMod(n int32) (*ConstExpr, int32, error) {
	if n == 0 {
		return nil, 0, ErrDivideByZero
	}
	if c.mode != rloc.Ptr || rloc.Scale%n != 0 {
		return nil, 0, fmt.Errorf("%w: address by %d", ErrNotDivisible, n)
	}
	q, r := divmod(c.offset, n)
	return c.with(q, c.mode/rloc.Mode(n)), r, nil
}

func (c *ConstExpr) String() string {
	if c.base == nil {
		return fmt.Sprintf("%d", c.offset)
	}
	return fmt.Sprintf("(%v*%d/4%+d)", c.base, c.mode, c.offset)
}

func divmod(a, b int32) (int32, int32) {
	q, r := a/b, a%b
	if r != 0 && (r < 0) != (b < 0) {
		q--
		r += b
	}
	return q, r
}

type objectAddr struct{ obj Object }

func (a objectAddr) Evaluate(r Resolver) (rloc.RlocInt, error) {
	if ae, ok := a.obj.(AddressEvaluator); ok {
		return ae.EvaluateAddr(r)
	}
	return r.ObjectAddr(a.obj)
}

func (a objectAddr) String() string { return "&" + ObjectName(a.obj) }

// Addr is the address of obj as a pointer-mode expression.
func Addr(obj Object) *ConstExpr {
	return &ConstExpr{base: objectAddr{obj}, mode: rloc.Ptr}
}

// EPD converts a pointer expression into the EPD address space.
func EPD(x Expr) *ConstExpr {
	return &ConstExpr{base: x, offset: -EPDOffset / 4, mode: rloc.EPD}
}

// Evaluate resolves e, treating a nil expression as 0.
func Evaluate(r Resolver, e Expr) (rloc.RlocInt, error) {
	if e == nil {
		return rloc.Int(0), nil
	}
	return e.Evaluate(r)
}

type constResolver struct{}

func (constResolver) ObjectAddr(obj Object) (rloc.RlocInt, error) {
	return rloc.RlocInt{}, ErrNoPhase
}

// IsConstExpr reports whether e evaluates without referencing any object.
func IsConstExpr(e Expr) bool {
	x, err := Evaluate(constResolver{}, e)
	return err == nil && x.IsConst()
}
