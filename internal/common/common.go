package common

import (
	"encoding/binary"
	"reflect"
)

// DwordSize is the width of a slot in an occupancy map.
const DwordSize = 4

// IsPackKind reports whether k can be written as a single pack field.
func IsPackKind(k reflect.Kind) bool {
	return FixedSize(k) > 0
}

// FixedSize returns the byte width used when packing a field of kind k,
// or -1 when the kind has no pack representation.
func FixedSize(k reflect.Kind) int {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32:
		return 4
	default:
		return -1
	}
}

// FormatChar maps a pack width onto its format character.
func FormatChar(width int) byte {
	switch width {
	case 1:
		return 'B'
	case 2:
		return 'H'
	case 4:
		return 'I'
	}
	return 0
}

// FormatWidth returns the width of a pack format character, -1 if unknown.
func FormatWidth(c byte) int {
	switch c {
	case 'B':
		return 1
	case 'H':
		return 2
	case 'I':
		return 4
	}
	return -1
}

// FormatSize sums the widths of every character in format.
func FormatSize(format string) int {
	n := 0
	for i := 0; i < len(format); i++ {
		w := FormatWidth(format[i])
		if w < 0 {
			return -1
		}
		n += w
	}
	return n
}

// Dwords returns the number of dwords needed to hold n bytes.
func Dwords(n int) int {
	return (n + DwordSize - 1) / DwordSize
}

// AlignUp rounds n up to a multiple of a.
func AlignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// PutLE stores the low width bytes of v into dst in little-endian order.
func PutLE(dst []byte, v uint32, width int) {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(dst, v)
	}
}

// WriteVarUint appends a varint to buf (allocating if needed).
func WriteVarUint(buf []byte, x uint64) []byte {
	for x >= 0x80 {
		buf = append(buf, byte(x)|0x80)
		x >>= 7
	}
	return append(buf, byte(x))
}

// ReadVarUint decodes a varint from b returning value and bytes consumed.
func ReadVarUint(b []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, c := range b {
		if i == binary.MaxVarintLen64 {
			return 0, 0
		}
		x |= uint64(c&0x7F) << s
		if c&0x80 == 0 {
			return x, i + 1
		}
		s += 7
	}
	return 0, 0
}
