// Package compactwire stores a built payload as a single CRC-checked frame.
package compactwire

import (
	"bytes"
	"errors"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	magic0 = 'O'
	magic1 = 'P'

	TypePayload byte = 0x01

	// FlagZstd marks a zstd-compressed data section.
	FlagZstd byte = 1 << 0
)

// headerSize covers magic, type, length, flags and digest.
const headerSize = 2 + 1 + 4 + 1 + 8

var (
	ErrNotPayloadFrame = errors.New("not a payload frame")
	ErrLengthMismatch  = errors.New("length mismatch")
	ErrCRCMismatch     = errors.New("crc mismatch")
	ErrDigestMismatch  = errors.New("digest mismatch")
	ErrTruncated       = errors.New("truncated frame")
	ErrBadTable        = errors.New("relocation table out of order or out of range")
)

// PayloadFrame encodes and decodes payload frames. It keeps its zstd
// coders between calls and is not safe for concurrent use.
type PayloadFrame struct {
	buf *bytes.Buffer
	rdr *bytes.Reader
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewPayloadFrame() *PayloadFrame {
	return &PayloadFrame{buf: &bytes.Buffer{}}
}

func (f *PayloadFrame) encoder() (*zstd.Encoder, error) {
	if f.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, err
		}
		f.enc = enc
	}
	return f.enc, nil
}

func (f *PayloadFrame) decoder() (*zstd.Decoder, error) {
	if f.dec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		f.dec = dec
	}
	return f.dec, nil
}

// Close releases the zstd coders.
func (f *PayloadFrame) Close() {
	if f.enc != nil {
		f.enc.Close()
		f.enc = nil
	}
	if f.dec != nil {
		f.dec.Close()
		f.dec = nil
	}
}

// Digest is the checksum stored alongside the uncompressed data.
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func writePreamble(buf *bytes.Buffer, t byte) {
	buf.WriteByte(magic0)
	buf.WriteByte(magic1)
	buf.WriteByte(t)
}

func readPreamble(r io.ByteReader) (byte, error) {
	m0, err := r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	m1, err := r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	if m0 != magic0 || m1 != magic1 {
		return 0, ErrNotPayloadFrame
	}
	t, err := r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	return t, nil
}
