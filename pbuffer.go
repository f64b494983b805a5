package objpack

import (
	"fmt"
	"slices"

	"github.com/rawbytedev/objpack/internal/common"
	"github.com/rawbytedev/objpack/pkg/rloc"
	"github.com/rawbytedev/objpack/pkg/stack"
)

// PayloadBuffer is the sink of the writing pass. Space skipped with
// WriteSpace keeps whatever another object stored there.
type PayloadBuffer struct {
	r         Resolver
	obj       Object
	datastart int
	datacur   int
	data      []byte
	epd       []int
	ptr       []int
	occ       stack.Map
	scratch   []byte
}

func NewPayloadBuffer(size int, r Resolver) *PayloadBuffer {
	return &PayloadBuffer{
		r:       r,
		data:    make([]byte, size),
		scratch: make([]byte, 4),
	}
}

// StartWrite positions the buffer at addr.
func (b *PayloadBuffer) StartWrite(addr int) {
	b.datastart = addr
	b.datacur = addr
	b.occ = b.occ[:0]
}

// EndWrite returns the number of bytes the current object covered.
func (b *PayloadBuffer) EndWrite() int {
	return b.datacur - b.datastart
}

// Occupancy returns the dwords the current object stored data in, in the
// same form as Prober.EndWrite.
func (b *PayloadBuffer) Occupancy() stack.Map {
	return snapshotDwords(b.occ, b.datacur-b.datastart)
}

func (b *PayloadBuffer) mark(n int) {
	b.occ = markDwords(b.occ, b.datacur-b.datastart, n)
}

func (b *PayloadBuffer) reserve(n int) error {
	if n < 0 || b.datacur+n > len(b.data) {
		return &AllocationError{
			Object:   b.obj,
			Name:     b.objName(),
			Phase:    PhaseWriting,
			Declared: b.objSize(),
			Actual:   b.datacur + n - b.datastart,
			Reason:   fmt.Sprintf("write of %d bytes at %d overruns payload of %d bytes", n, b.datacur, len(b.data)),
		}
	}
	return nil
}

func (b *PayloadBuffer) objName() string {
	if b.obj == nil {
		return "<none>"
	}
	return ObjectName(b.obj)
}

func (b *PayloadBuffer) objSize() int {
	if b.obj == nil {
		return 0
	}
	return b.obj.DataSize()
}

func (b *PayloadBuffer) WriteByte(v byte) error {
	if err := b.reserve(1); err != nil {
		return err
	}
	b.data[b.datacur] = v
	b.mark(1)
	b.datacur++
	return nil
}

func (b *PayloadBuffer) WriteWord(v uint16) error {
	if err := b.reserve(2); err != nil {
		return err
	}
	common.PutLE(b.data[b.datacur:], uint32(v), 2)
	b.mark(2)
	b.datacur += 2
	return nil
}

// relocate records the current position in the table for x's mode.
func (b *PayloadBuffer) relocate(x rloc.RlocInt, width int) error {
	if x.Mode == rloc.Const {
		return nil
	}
	if width != 4 || b.datacur%4 != 0 {
		return &MisalignedRelocationError{Offset: b.datacur, Value: x}
	}
	switch x.Mode {
	case rloc.EPD:
		b.epd = append(b.epd, b.datacur)
	case rloc.Ptr:
		b.ptr = append(b.ptr, b.datacur)
	default:
		return fmt.Errorf("%w: mode should be 1 or 4, not %d", ErrInvalidMode, x.Mode)
	}
	return nil
}

func (b *PayloadBuffer) writeValue(e Expr, width int) error {
	x, err := Evaluate(b.r, e)
	if err != nil {
		return err
	}
	if err := b.reserve(width); err != nil {
		return err
	}
	if err := b.relocate(x, width); err != nil {
		return err
	}
	common.PutLE(b.scratch, uint32(x.Offset), 4)
	copy(b.data[b.datacur:b.datacur+width], b.scratch[:width])
	b.mark(width)
	b.datacur += width
	return nil
}

func (b *PayloadBuffer) WriteDword(e Expr) error {
	return b.writeValue(e, 4)
}

func (b *PayloadBuffer) WritePack(format string, args ...Expr) error {
	if len(args) != len(format) {
		return fmt.Errorf("%w: %q takes %d values, got %d", ErrBadFormat, format, len(format), len(args))
	}
	for i := 0; i < len(format); i++ {
		w := common.FormatWidth(format[i])
		if w < 0 {
			return fmt.Errorf("%w: %q", ErrBadFormat, format)
		}
		if err := b.writeValue(args[i], w); err != nil {
			return err
		}
	}
	return nil
}

func (b *PayloadBuffer) WriteBytes(p []byte) error {
	if err := b.reserve(len(p)); err != nil {
		return err
	}
	b.mark(len(p))
	b.datacur += copy(b.data[b.datacur:], p)
	return nil
}

func (b *PayloadBuffer) WriteSpace(n int) error {
	if err := b.reserve(n); err != nil {
		return err
	}
	b.datacur += n
	return nil
}

// CreatePayload hands over the buffer and both relocation tables in
// ascending offset order.
func (b *PayloadBuffer) CreatePayload() (*Payload, error) {
	slices.Sort(b.epd)
	slices.Sort(b.ptr)
	for _, table := range [][]int{b.epd, b.ptr} {
		for i := 1; i < len(table); i++ {
			if table[i] == table[i-1] {
				return nil, fmt.Errorf("%w: two relocations at offset %d", ErrOverlap, table[i])
			}
		}
	}
	p := &Payload{Data: b.data, EPDRelocs: b.epd, PtrRelocs: b.ptr}
	b.data, b.epd, b.ptr = nil, nil, nil
	return p, nil
}
