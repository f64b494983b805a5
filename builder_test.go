package objpack

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rawbytedev/objpack/pkg/rloc"
	"github.com/rawbytedev/objpack/pkg/stack"
)

func TestCreatePayloadPointers(t *testing.T) {
	a := &raw{name: "a", data: []byte{1, 2, 3, 4}}
	root := &refs{name: "root", items: []Expr{Addr(a), EPD(Addr(a))}}

	b := NewBuilder()
	p, err := b.CreatePayload(Addr(root))
	require.NoError(t, err)

	off, ok := b.Offset(a)
	require.True(t, ok)
	assert.Equal(t, 8, off)
	assert.Equal(t, 12, len(p.Data))

	epd := int32(2 - EPDOffset/4)
	want := make([]byte, 12)
	binary.LittleEndian.PutUint32(want[0:], 8)
	binary.LittleEndian.PutUint32(want[4:], uint32(epd))
	copy(want[8:], a.data)
	if diff := cmp.Diff(&Payload{Data: want, EPDRelocs: []int{4}, PtrRelocs: []int{0}}, p); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	loaded := p.Relocate(0x2000)
	assert.Equal(t, uint32(0x2008), binary.LittleEndian.Uint32(loaded[0:]))
	loadedEPD := int32(0x2008/4 - EPDOffset/4)
	assert.Equal(t, uint32(loadedEPD), binary.LittleEndian.Uint32(loaded[4:]))
}

func TestCreatePayloadStacksPadding(t *testing.T) {
	pad := &padded{name: "pad", head: []byte{1, 2, 3, 4}, space: 8}
	body := &raw{name: "body", data: []byte{5, 6, 7, 8, 9, 10, 11, 12}}

	b := NewBuilder()
	p, err := b.CreatePayload(Addr(pad), Addr(body))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, p.Data)

	st := b.Stats()
	assert.Equal(t, 2, st.Objects)
	assert.Equal(t, 12, st.Size)
	assert.Equal(t, 20, st.Sequential)
	assert.Equal(t, 8, st.Saved())
	assert.True(t, st.Compressed)
}

func TestCreatePayloadSequential(t *testing.T) {
	pad := &padded{name: "pad", head: []byte{1, 2, 3, 4}, space: 8}
	body := &raw{name: "body", data: []byte{5, 6, 7}}

	b := NewBuilder(WithCompress(false))
	p, err := b.CreatePayload(Addr(pad), Addr(body))
	require.NoError(t, err)
	assert.Equal(t, 16, len(p.Data))
	assert.Equal(t, []byte{5, 6, 7, 0}, p.Data[12:])
	off, _ := b.Offset(body)
	assert.Equal(t, 12, off)
	assert.Zero(t, b.Stats().Saved())
}

func TestCreatePayloadSharedObject(t *testing.T) {
	shared := &raw{name: "shared", data: []byte{7, 7, 7, 7}}
	left := &refs{name: "left", items: []Expr{Addr(shared)}}
	right := &refs{name: "right", items: []Expr{Addr(shared), Addr(left)}}
	root := &refs{name: "root", items: []Expr{Addr(left), Addr(right)}}

	b := NewBuilder()
	p, err := b.CreatePayload(Addr(root))
	require.NoError(t, err)
	assert.Len(t, b.Objects(), 4)
	assert.Same(t, root, b.Objects()[0].(*refs))
	assert.Len(t, p.PtrRelocs, 5)
	for _, off := range p.PtrRelocs {
		target := int(binary.LittleEndian.Uint32(p.Data[off:]))
		assert.Less(t, target, len(p.Data))
	}
}

func TestCreatePayloadNoObjects(t *testing.T) {
	_, err := NewBuilder().CreatePayload(Int(5))
	require.ErrorIs(t, err, ErrNoObjects)
	assert.Equal(t, EInvalid, ErrorCode(err))

	_, err = NewBuilder().CreatePayload()
	require.ErrorIs(t, err, ErrNoObjects)
}

func TestCreatePayloadUnboundRoot(t *testing.T) {
	_, err := NewBuilder().CreatePayload(NewForward())
	require.ErrorIs(t, err, ErrUnbound)
}

func TestCreatePayloadProbeMismatch(t *testing.T) {
	bad := &liar{declared: 4, emitted: 12}
	_, err := NewBuilder().CreatePayload(Addr(bad))
	require.ErrorIs(t, err, ErrAllocation)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Same(t, bad, ae.Object.(*liar))
	assert.Equal(t, 4, ae.Declared)
	assert.Equal(t, 12, ae.Actual)
}

func TestCreatePayloadWriteMismatch(t *testing.T) {
	obj := &unstable{}
	_, err := NewBuilder().CreatePayload(Addr(obj))
	require.ErrorIs(t, err, ErrAllocation)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, PhaseWriting, ae.Phase)
}

func TestCreatePayloadSubDwordMismatch(t *testing.T) {
	// Declares 3 bytes and emits 4: same dword count, caught while writing.
	_, err := NewBuilder().CreatePayload(Addr(&liar{declared: 3, emitted: 4}))
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, PhaseWriting, ae.Phase)
	assert.Equal(t, 3, ae.Declared)
	assert.Equal(t, 4, ae.Actual)
}

func TestCreatePayloadOccupancyMismatch(t *testing.T) {
	// flipper probes its second dword as free, so b is stacked there,
	// then writes data into it.
	flip := &flipper{}
	b := &raw{name: "b", data: []byte{0xB, 0xB, 0xB, 0xB}}
	root := &refs{name: "root", items: []Expr{Addr(flip), Addr(b)}}

	_, err := NewBuilder().CreatePayload(Addr(root))
	require.ErrorIs(t, err, ErrAllocation)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Same(t, flip, ae.Object.(*flipper))
	assert.Equal(t, PhaseWriting, ae.Phase)
	assert.Equal(t, 8, ae.Declared)
	assert.Equal(t, 8, ae.Actual)
	assert.Contains(t, ae.Error(), "wrote dwords OO but probed OF")
	assert.Equal(t, EInvalid, ErrorCode(err))
}

// lateRef only references target once flagged by a sibling.
type lateRef struct {
	ready  bool
	target Object
}

func (o *lateRef) DataSize() int { return 4 }
func (o *lateRef) DynamicConstructed() bool { return true }

func (o *lateRef) WritePayload(w Sink) error {
	if o.ready {
		return w.WriteDword(Addr(o.target))
	}
	return w.WriteDword(Int(0))
}

// trigger flips a lateRef while its dependencies are collected.
type trigger struct {
	late *lateRef
}

func (o *trigger) DataSize() int { return 4 }
func (o *trigger) WritePayload(w Sink) error { return w.WriteBytes([]byte{1, 1, 1, 1}) }

func (o *trigger) CollectDependency(w Sink) error {
	o.late.ready = true
	return nil
}

func TestCollectDynamicFixedPoint(t *testing.T) {
	e := &raw{name: "e", data: []byte{0xE, 0xE, 0xE, 0xE}}
	d := &lateRef{target: e}
	s := &trigger{late: d}
	r := &refs{name: "r", items: []Expr{Addr(s), Addr(d)}}

	b := NewBuilder()
	require.NoError(t, b.Collect(Addr(r)))
	objs := b.Objects()
	require.Len(t, objs, 4)
	assert.Contains(t, objs, Object(e))

	require.NoError(t, b.Allocate())
	p, err := b.Construct()
	require.NoError(t, err)

	offD, _ := b.Offset(d)
	offE, _ := b.Offset(e)
	assert.Equal(t, uint32(offE), binary.LittleEndian.Uint32(p.Data[offD:]))
	assert.Contains(t, p.PtrRelocs, offD)
}

func TestUncollectedObject(t *testing.T) {
	e := &raw{name: "e", data: []byte{1, 2, 3, 4}}
	d := &lateRef{target: e}
	b := NewBuilder()
	require.NoError(t, b.Collect(Addr(d)))
	require.NoError(t, b.Allocate())
	d.ready = true
	_, err := b.Construct()
	require.ErrorIs(t, err, ErrUnknownObject)
	assert.Equal(t, EInternal, ErrorCode(err))
}

func TestObjectAddrPhases(t *testing.T) {
	a := &raw{name: "a", data: []byte{1, 2, 3, 4}}
	b := NewBuilder()
	_, err := b.ObjectAddr(a)
	require.ErrorIs(t, err, ErrNoPhase)

	b.phase = PhaseCollecting
	v, err := b.ObjectAddr(a)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(0, rloc.Ptr), v)
	assert.Len(t, b.found, 1)

	b.phase = PhaseAllocating
	v, err = b.ObjectAddr(a)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(0, rloc.Ptr), v)

	b.phase = PhaseWriting
	b.offsets = []int{24}
	v, err = b.ObjectAddr(a)
	require.NoError(t, err)
	assert.Equal(t, rloc.New(24, rloc.Ptr), v)
	assert.Equal(t, "writing", b.Phase().String())
}

func manyObjects(n int) (*refs, []Object) {
	root := &refs{name: "root"}
	objs := []Object{root}
	for i := 0; i < n; i++ {
		o := &raw{name: "leaf", data: []byte{byte(i), 0, 0, 0}}
		root.items = append(root.items, Addr(o))
		objs = append(objs, o)
	}
	return root, objs
}

func TestShuffleKeepsRootFirst(t *testing.T) {
	root, _ := manyObjects(32)

	b1 := NewBuilder(WithShuffle(true), WithSeed(7))
	p1, err := b1.CreatePayload(Addr(root))
	require.NoError(t, err)
	b2 := NewBuilder(WithShuffle(true), WithSeed(7))
	p2, err := b2.CreatePayload(Addr(root))
	require.NoError(t, err)
	plain := NewBuilder()
	require.NoError(t, plain.Collect(Addr(root)))

	assert.Equal(t, b1.Objects(), b2.Objects())
	assert.Equal(t, p1, p2)
	assert.Same(t, root, b1.Objects()[0].(*refs))
	assert.ElementsMatch(t, plain.Objects(), b1.Objects())
	assert.NotEqual(t, plain.Objects(), b1.Objects())
	assert.True(t, b1.Stats().Shuffled)
}

func TestCallbacksRunOnce(t *testing.T) {
	a := &raw{name: "a", data: []byte{1, 2, 3, 4}}
	b := NewBuilder()
	var created, collected int
	b.OnCreatePayload(func() error { created++; return nil })
	b.AfterCollecting(func() error {
		collected++
		assert.Len(t, b.found, 1)
		return nil
	})

	_, err := b.CreatePayload(Addr(a))
	require.NoError(t, err)
	_, err = b.CreatePayload(Addr(a))
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, collected)

	boom := errors.New("boom")
	b.OnCreatePayload(func() error { return boom })
	_, err = b.CreatePayload(Addr(a))
	require.ErrorIs(t, err, boom)
}

func TestProgressAndLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var last = map[Phase]int{}
	b := NewBuilder(
		WithLogger(zap.New(core)),
		WithProgress(func(phase Phase, done, total int) {
			assert.LessOrEqual(t, done, total)
			last[phase] = done
		}),
	)
	root, objs := manyObjects(5)
	_, err := b.CreatePayload(Addr(root))
	require.NoError(t, err)

	assert.Equal(t, len(objs), last[PhaseCollecting])
	assert.Equal(t, len(objs), last[PhaseAllocating])
	assert.Equal(t, len(objs), last[PhaseWriting])
	assert.Equal(t, 1, logs.FilterMessage("Collected objects").Len())
	assert.Equal(t, 1, logs.FilterMessage("Allocated objects").Len())
	assert.Equal(t, 1, logs.FilterMessage("Constructed payload").Len())
	assert.Zero(t, logs.FilterMessage("Wrote object").Len())
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	b := NewBuilder(WithMetrics(m))
	root, objs := manyObjects(3)
	p, err := b.CreatePayload(Addr(root))
	require.NoError(t, err)

	assert.Equal(t, float64(len(objs)), testutil.ToFloat64(m.Objects))
	assert.Equal(t, float64(len(p.Data)), testutil.ToFloat64(m.PayloadBytes))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Relocations.WithLabelValues("ptr")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Builds.WithLabelValues(LabelSuccess)))

	_, err = b.CreatePayload()
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Builds.WithLabelValues(LabelError)))
	assert.Len(t, m.PrometheusCollectors(), 6)
}

func TestVerifyLayoutDetectsOverlap(t *testing.T) {
	a := &raw{name: "a", data: make([]byte, 8)}
	c := &raw{name: "c", data: make([]byte, 4)}
	p := NewProber()
	ma, err := p.Probe(a)
	require.NoError(t, err)
	mc, err := p.Probe(c)
	require.NoError(t, err)

	require.NoError(t, verifyLayout([]Object{a, c}, []stack.Map{ma, mc}, []int{0, 8}))
	err = verifyLayout([]Object{a, c}, []stack.Map{ma, mc}, []int{0, 4})
	require.ErrorIs(t, err, ErrOverlap)
	assert.Contains(t, err.Error(), "a and c")
}

func BenchmarkCreatePayload(b *testing.B) {
	root, _ := manyObjects(256)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewBuilder().CreatePayload(Addr(root)); err != nil {
			b.Fatal(err)
		}
	}
}
