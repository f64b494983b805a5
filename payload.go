package objpack

import "encoding/binary"

// Payload is the output of a build: the bytes plus the offsets a loader
// must patch. Each EPDRelocs entry gets base/4 added, each PtrRelocs
// entry gets base added.
type Payload struct {
	Data      []byte
	EPDRelocs []int
	PtrRelocs []int
}

// Stats summarizes a build.
type Stats struct {
	Objects    int
	Size       int
	Sequential int
	EPDRelocs  int
	PtrRelocs  int
	Compressed bool
	Shuffled   bool
}

// Saved returns the bytes saved by stacking.
func (s Stats) Saved() int {
	return s.Sequential - s.Size
}

// Relocate returns a copy of the data patched as if loaded at base.
func (p *Payload) Relocate(base uint32) []byte {
	out := make([]byte, len(p.Data))
	copy(out, p.Data)
	for _, off := range p.EPDRelocs {
		v := binary.LittleEndian.Uint32(out[off:])
		binary.LittleEndian.PutUint32(out[off:], v+base/4)
	}
	for _, off := range p.PtrRelocs {
		v := binary.LittleEndian.Uint32(out[off:])
		binary.LittleEndian.PutUint32(out[off:], v+base)
	}
	return out
}
