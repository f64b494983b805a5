package objpack

// raw emits fixed bytes.
type raw struct {
	name string
	data []byte
}

func (o *raw) DataSize() int { return len(o.data) }
func (o *raw) WritePayload(w Sink) error { return w.WriteBytes(o.data) }
func (o *raw) String() string { return o.name }

// refs emits one dword per expression.
type refs struct {
	name  string
	items []Expr
}

func (o *refs) DataSize() int { return 4 * len(o.items) }
func (o *refs) String() string { return o.name }

func (o *refs) WritePayload(w Sink) error {
	for _, e := range o.items {
		if err := w.WriteDword(e); err != nil {
			return err
		}
	}
	return nil
}

// padded emits head bytes followed by unused space.
type padded struct {
	name  string
	head  []byte
	space int
}

func (o *padded) DataSize() int { return len(o.head) + o.space }
func (o *padded) String() string { return o.name }

func (o *padded) WritePayload(w Sink) error {
	if err := w.WriteBytes(o.head); err != nil {
		return err
	}
	return w.WriteSpace(o.space)
}

// liar declares a size it does not emit.
type liar struct {
	declared int
	emitted  int
}

func (o *liar) DataSize() int { return o.declared }

func (o *liar) WritePayload(w Sink) error {
	return w.WriteBytes(make([]byte, o.emitted))
}

// unstable emits more than declared once collected and probed.
type unstable struct {
	calls int
}

func (o *unstable) DataSize() int { return 4 }

func (o *unstable) WritePayload(w Sink) error {
	o.calls++
	n := 4
	if o.calls > 2 {
		n = 8
	}
	return w.WriteSpace(n)
}

// flipper leaves its second dword as space until it is written, then
// fills it.
type flipper struct {
	calls int
}

func (o *flipper) DataSize() int { return 8 }
func (o *flipper) String() string { return "flipper" }

func (o *flipper) WritePayload(w Sink) error {
	o.calls++
	if err := w.WriteBytes([]byte{1, 1, 1, 1}); err != nil {
		return err
	}
	if o.calls > 2 {
		return w.WriteBytes([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	return w.WriteSpace(4)
}
