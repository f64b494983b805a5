package objpack

import (
	"fmt"

	"github.com/rawbytedev/objpack/internal/common"
	"github.com/rawbytedev/objpack/pkg/stack"
)

// Prober records which dwords of an object carry data. It never
// evaluates expressions, so it can run before any address is known.
type Prober struct {
	cursor int
	occ    stack.Map
	sizes  map[string]int
}

func NewProber() *Prober {
	return &Prober{sizes: make(map[string]int)}
}

func (p *Prober) StartWrite() {
	p.cursor = 0
	p.occ = p.occ[:0]
}

// EndWrite returns the map of everything written since StartWrite. The
// map covers every dword the cursor entered.
func (p *Prober) EndWrite() stack.Map {
	return snapshotDwords(p.occ, p.cursor)
}

func (p *Prober) mark(n int) {
	p.occ = markDwords(p.occ, p.cursor, n)
	p.cursor += n
}

// markDwords flags every dword touched by n bytes at pos.
func markDwords(m stack.Map, pos, n int) stack.Map {
	if n <= 0 {
		return m
	}
	first := pos / common.DwordSize
	last := (pos + n - 1) / common.DwordSize
	for len(m) <= last {
		m = append(m, stack.Free)
	}
	for i := first; i <= last; i++ {
		m[i] = stack.Occupied
	}
	return m
}

// snapshotDwords copies m padded with Free slots to cover size bytes.
func snapshotDwords(m stack.Map, size int) stack.Map {
	out := make(stack.Map, common.Dwords(size))
	copy(out, m)
	return out
}

func (p *Prober) WriteByte(byte) error {
	p.mark(1)
	return nil
}

func (p *Prober) WriteWord(uint16) error {
	p.mark(2)
	return nil
}

func (p *Prober) WriteDword(Expr) error {
	p.mark(4)
	return nil
}

func (p *Prober) WritePack(format string, args ...Expr) error {
	n, ok := p.sizes[format]
	if !ok {
		n = common.FormatSize(format)
		if n < 0 {
			return fmt.Errorf("%w: %q", ErrBadFormat, format)
		}
		p.sizes[format] = n
	}
	if len(args) != len(format) {
		return fmt.Errorf("%w: %q takes %d values, got %d", ErrBadFormat, format, len(format), len(args))
	}
	p.mark(n)
	return nil
}

func (p *Prober) WriteBytes(b []byte) error {
	p.mark(len(b))
	return nil
}

func (p *Prober) WriteSpace(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative space %d", ErrAllocation, n)
	}
	p.cursor += n
	return nil
}

// Probe runs obj's WritePayload against p and checks the result against
// the object's declared size.
func (p *Prober) Probe(obj Object) (stack.Map, error) {
	p.StartWrite()
	if err := obj.WritePayload(p); err != nil {
		return nil, err
	}
	m := p.EndWrite()
	if want := common.Dwords(obj.DataSize()); len(m) != want {
		return nil, &AllocationError{
			Object:   obj,
			Name:     ObjectName(obj),
			Phase:    PhaseAllocating,
			Declared: obj.DataSize(),
			Actual:   p.cursor,
		}
	}
	return m, nil
}
