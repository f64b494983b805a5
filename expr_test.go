package objpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/objpack/pkg/rloc"
)

// fixedAddrs resolves objects from a table, as the writing phase does.
type fixedAddrs map[Object]int32

func (f fixedAddrs) ObjectAddr(obj Object) (rloc.RlocInt, error) {
	off, ok := f[obj]
	if !ok {
		return rloc.RlocInt{}, ErrUnknownObject
	}
	return rloc.New(off, rloc.Ptr), nil
}

func TestConstExprConstant(t *testing.T) {
	c, err := NewConstExpr(nil, 42, rloc.Const)
	require.NoError(t, err)
	v, err := c.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, rloc.Int(42), v)
	assert.True(t, IsConstExpr(c))

	_, err = NewConstExpr(nil, 42, rloc.Ptr)
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestAddrArithmetic(t *testing.T) {
	a := &raw{name: "a", data: make([]byte, 8)}
	r := fixedAddrs{a: 16}

	v, err := Addr(a).Add(4).Evaluate(r)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(20, rloc.Ptr), v)

	v, err = Addr(a).RSub(100).Evaluate(r)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(84, -rloc.Ptr), v)

	v, err = Addr(a).Mul(2).Evaluate(r)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(32, 8), v)

	half, err := Addr(a).FloorDiv(2)
	require.NoError(t, err)
	v, err = half.Evaluate(r)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(8, 2), v)

	_, err = Addr(a).FloorDiv(8)
	require.ErrorIs(t, err, ErrNotDivisible)
	_, err = Addr(a).FloorDiv(0)
	require.ErrorIs(t, err, ErrDivideByZero)
	assert.False(t, IsConstExpr(Addr(a)))
}

func TestAddrModulo(t *testing.T) {
	a := &raw{name: "a", data: make([]byte, 8)}
	rem, err := Addr(a).Add(6).Mod(4)
	require.NoError(t, err)
	assert.Equal(t, int32(2), rem)

	q, rem, err := Addr(a).Add(6).DivMod(2)
	require.NoError(t, err)
	assert.Equal(t, int32(0), rem)
	assert.Equal(t, int32(3), q.Offset())
	assert.Equal(t, rloc.Mode(2), q.Mode())

	_, err = Addr(a).Mod(8)
	require.ErrorIs(t, err, ErrNotDivisible)
	_, err = EPD(Addr(a)).Mod(4)
	require.ErrorIs(t, err, ErrNotDivisible)
}

func TestEPD(t *testing.T) {
	a := &raw{name: "a", data: make([]byte, 4)}
	v, err := EPD(Addr(a)).Evaluate(fixedAddrs{a: 8})
	require.NoError(t, err)
	assert.Equal(t, rloc.New(2-EPDOffset/4, rloc.EPD), v)

	// A pointer into the middle of a dword has no EPD.
	_, err = EPD(Addr(a).Add(2)).Evaluate(fixedAddrs{a: 8})
	require.ErrorIs(t, err, ErrNotDivisible)
}

func TestForwardStates(t *testing.T) {
	f := NewForward()
	assert.False(t, f.IsSet())
	_, err := f.Evaluate(nil)
	require.ErrorIs(t, err, ErrUnbound)

	require.NoError(t, f.Bind(Int(7)))
	assert.True(t, f.IsSet())
	v, err := f.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, rloc.Int(7), v)

	require.ErrorIs(t, f.Bind(Int(8)), ErrAlreadyBound)

	f.Reset()
	assert.False(t, f.IsSet())
	require.NoError(t, f.Bind(Int(8)))
	v, err = f.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, rloc.Int(8), v)

	g := NewForward()
	require.ErrorIs(t, g.Bind(g), ErrSelfBind)
	require.ErrorIs(t, g.Bind(nil), ErrUnbound)
}

func TestForwardCycle(t *testing.T) {
	f := NewForward()
	loop, err := NewConstExpr(f, 4, rloc.Ptr)
	require.NoError(t, err)
	require.NoError(t, f.Bind(loop))
	_, err = f.Evaluate(nil)
	require.ErrorIs(t, err, ErrCycle)

	// Two forwards bound to each other.
	g, h := NewForward(), NewForward()
	require.NoError(t, g.Bind(h))
	require.NoError(t, h.Bind(EPD(g)))
	_, err = EPD(g).Evaluate(nil)
	require.ErrorIs(t, err, ErrCycle)

	// Breaking the cycle makes both evaluable again.
	h.Reset()
	require.NoError(t, h.Bind(Int(3)))
	v, err := g.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, rloc.Int(3), v)

	_, err = NewBuilder().CreatePayload(loop)
	require.ErrorIs(t, err, ErrCycle)
}

func TestForwardToObject(t *testing.T) {
	a := &raw{name: "a", data: make([]byte, 4)}
	f := NewForward()
	e := EPD(f)
	require.NoError(t, f.Bind(Addr(a)))
	v, err := e.Evaluate(fixedAddrs{a: 4})
	require.NoError(t, err)
	assert.Equal(t, rloc.New(1-EPDOffset/4, rloc.EPD), v)
}

func TestEvaluateNil(t *testing.T) {
	v, err := Evaluate(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, rloc.Int(0), v)
}
