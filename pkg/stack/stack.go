// Package stack places objects inside a shared buffer, letting the unused
// dwords of one object hold the data of another.
package stack

import "github.com/rawbytedev/objpack/internal/common"

// Slot tags one dword of an object.
type Slot uint8

const (
	Free Slot = iota
	Occupied
)

func (s Slot) String() string {
	if s == Occupied {
		return "O"
	}
	return "F"
}

// Map holds one Slot per dword of an object's payload.
type Map []Slot

// Occupied returns the number of occupied dwords.
func (m Map) Occupied() int {
	n := 0
	for _, s := range m {
		if s == Occupied {
			n++
		}
	}
	return n
}

func (m Map) String() string {
	b := make([]byte, len(m))
	for i, s := range m {
		b[i] = s.String()[0]
	}
	return string(b)
}

// Layout is the placement of a list of objects.
type Layout struct {
	Offsets []int // byte offset of each object
	Size    int   // buffer size in bytes
}

// Savings reports how many bytes the layout saves compared to placing
// objects of the given byte sizes one after another.
func (l Layout) Savings(sizes []int) int {
	return Sequential(sizes).Size - l.Size
}

// runStarts replaces every Occupied slot with the index of the first slot
// of its run and every Free slot with -1.
func runStarts(m Map) []int32 {
	hint := make([]int32, len(m))
	for i, s := range m {
		switch {
		case s != Occupied:
			hint[i] = -1
		case i > 0 && hint[i-1] != -1:
			hint[i] = hint[i-1]
		default:
			hint[i] = int32(i)
		}
	}
	return hint
}

// Stack computes a dword-aligned offset for every map, in order. A slot
// Occupied by an object never shares its absolute dword with an Occupied
// slot of an earlier object; Free slots may coincide with anything.
func Stack(maps []Map) Layout {
	total := 0
	for _, m := range maps {
		total += len(m)
	}

	// reserved[i] is -1 for an unreserved dword, else the end of the
	// reserved run containing it.
	reserved := make([]int32, total+1)
	for i := range reserved {
		reserved[i] = -1
	}

	out := Layout{Offsets: make([]int, 0, len(maps))}
	base := 0
	for _, m := range maps {
		hint := runStarts(m)

		for i := 0; i < len(hint); {
			if hint[i] != -1 && reserved[base+i] != -1 {
				base = int(reserved[base+i] - hint[i])
				i = 0
				continue
			}
			i++
		}

		for i := len(hint) - 1; i >= 0; i-- {
			cur := base + i
			if hint[i] == -1 && reserved[cur] == -1 {
				continue
			}
			if reserved[cur+1] == -1 {
				reserved[cur] = int32(cur + 1)
			} else {
				reserved[cur] = reserved[cur+1]
			}
		}

		out.Offsets = append(out.Offsets, base*common.DwordSize)
		if end := (base + len(m)) * common.DwordSize; end > out.Size {
			out.Size = end
		}
	}
	return out
}

// Sequential places objects of the given byte sizes back to back, each
// starting on a dword boundary.
func Sequential(sizes []int) Layout {
	out := Layout{Offsets: make([]int, 0, len(sizes))}
	for _, n := range sizes {
		out.Offsets = append(out.Offsets, out.Size)
		out.Size += common.AlignUp(n, common.DwordSize)
	}
	return out
}
