// Package objects provides ready-made payload objects.
package objects

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rawbytedev/objpack"
)

var (
	ErrNulInString = errors.New("no nul bytes allowed in the middle of a string")
	ErrIndex       = errors.New("array index out of range")
)

// Db is a blob of raw bytes.
type Db struct {
	name string
	data []byte
}

func NewDb(name string, data []byte) *Db {
	return &Db{name: name, data: bytes.Clone(data)}
}

// NewZeroDb returns a Db of n zero bytes.
func NewZeroDb(name string, n int) *Db {
	return &Db{name: name, data: make([]byte, n)}
}

// NewString returns a Db holding s followed by a NUL terminator.
func NewString(name, s string) (*Db, error) {
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrNulInString, name)
	}
	data := make([]byte, len(s)+1)
	copy(data, s)
	return &Db{name: name, data: data}, nil
}

func (d *Db) Bytes() []byte { return d.data }
func (d *Db) String() string { return d.name }
func (d *Db) DataSize() int { return len(d.data) }

func (d *Db) CollectDependency(objpack.Sink) error { return nil }

func (d *Db) WritePayload(w objpack.Sink) error {
	return w.WriteBytes(d.data)
}

// Array is a list of dwords. A dynamic array has a fixed capacity whose
// slots may be filled in after it has been collected.
type Array struct {
	name    string
	items   []objpack.Expr
	dynamic bool
}

func NewArray(name string, items ...objpack.Expr) *Array {
	return &Array{name: name, items: items}
}

// NewDynamicArray returns an array of size zeroed slots.
func NewDynamicArray(name string, size int) *Array {
	return &Array{name: name, items: make([]objpack.Expr, size), dynamic: true}
}

func (a *Array) Len() int { return len(a.items) }
func (a *Array) String() string { return a.name }
func (a *Array) DataSize() int { return 4 * len(a.items) }
func (a *Array) DynamicConstructed() bool { return a.dynamic }

// Set stores e in slot i.
func (a *Array) Set(i int, e objpack.Expr) error {
	if i < 0 || i >= len(a.items) {
		return fmt.Errorf("%w: %d of %s (len %d)", ErrIndex, i, a.name, len(a.items))
	}
	a.items[i] = e
	return nil
}

// Elem is the address of slot i.
func (a *Array) Elem(i int) *objpack.ConstExpr {
	return objpack.Addr(a).Add(int32(4 * i))
}

func (a *Array) WritePayload(w objpack.Sink) error {
	for _, e := range a.items {
		if e == nil {
			e = objpack.Int(0)
		}
		if err := w.WriteDword(e); err != nil {
			return err
		}
	}
	return nil
}

// Record is a struct written with objpack.PackStruct, followed by tail
// bytes of unused space.
type Record struct {
	name  string
	value any
	size  int
	tail  int
}

func NewRecord(name string, value any, tail int) (*Record, error) {
	n, err := objpack.PackSize(value)
	if err != nil {
		return nil, err
	}
	if tail < 0 {
		return nil, fmt.Errorf("negative tail %d for %s", tail, name)
	}
	return &Record{name: name, value: value, size: n, tail: tail}, nil
}

func (r *Record) String() string { return r.name }
func (r *Record) DataSize() int { return r.size + r.tail }

func (r *Record) WritePayload(w objpack.Sink) error {
	if err := objpack.PackStruct(w, r.value); err != nil {
		return err
	}
	return w.WriteSpace(r.tail)
}

// Reserve is a header followed by space that other objects may fill.
type Reserve struct {
	name   string
	header []byte
	space  int
}

func NewReserve(name string, header []byte, space int) *Reserve {
	return &Reserve{name: name, header: bytes.Clone(header), space: space}
}

func (r *Reserve) String() string { return r.name }
func (r *Reserve) DataSize() int { return len(r.header) + r.space }

func (r *Reserve) CollectDependency(objpack.Sink) error { return nil }

func (r *Reserve) WritePayload(w objpack.Sink) error {
	if err := w.WriteBytes(r.header); err != nil {
		return err
	}
	return w.WriteSpace(r.space)
}
