package objpack

// Sink receives an object's payload. The collecting sink, the Prober and
// the PayloadBuffer all implement it.
type Sink interface {
	WriteByte(b byte) error
	WriteWord(w uint16) error
	WriteDword(x Expr) error
	// WritePack writes one field per format character: B (1 byte),
	// H (2 bytes) or I (4 bytes).
	WritePack(format string, args ...Expr) error
	WriteBytes(b []byte) error
	// WriteSpace skips n bytes that the object leaves unused.
	WriteSpace(n int) error
}
