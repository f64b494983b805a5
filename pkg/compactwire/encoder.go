package compactwire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/rawbytedev/objpack"
	"github.com/rawbytedev/objpack/internal/common"
)

// Encode serializes p. Relocation tables are stored as varint deltas.
func (f *PayloadFrame) Encode(p *objpack.Payload, flags byte) ([]byte, error) {
	f.buf.Reset()
	writePreamble(f.buf, TypePayload)

	// reserve length
	var scratch [8]byte
	f.buf.Write(scratch[:4])
	f.buf.WriteByte(flags)
	binary.LittleEndian.PutUint64(scratch[:], Digest(p.Data))
	f.buf.Write(scratch[:])

	var body []byte
	body = appendTable(body, p.EPDRelocs)
	body = appendTable(body, p.PtrRelocs)
	body = common.WriteVarUint(body, uint64(len(p.Data)))

	stored := p.Data
	if flags&FlagZstd != 0 {
		enc, err := f.encoder()
		if err != nil {
			return nil, err
		}
		stored = enc.EncodeAll(p.Data, nil)
	}
	body = common.WriteVarUint(body, uint64(len(stored)))
	f.buf.Write(body)
	f.buf.Write(stored)

	// fill in length (includes everything up to + including CRC)
	out := make([]byte, f.buf.Len(), f.buf.Len()+4)
	copy(out, f.buf.Bytes())
	binary.LittleEndian.PutUint32(out[3:], uint32(len(out)+4))

	crc := crc32.ChecksumIEEE(out[2:])
	out = append(out, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(out[len(out)-4:], crc)
	return out, nil
}

func appendTable(dst []byte, offsets []int) []byte {
	dst = common.WriteVarUint(dst, uint64(len(offsets)))
	prev := 0
	for _, off := range offsets {
		dst = common.WriteVarUint(dst, uint64(off-prev))
		prev = off
	}
	return dst
}

// EncodePayload encodes p with a throwaway PayloadFrame.
func EncodePayload(p *objpack.Payload, flags byte) ([]byte, error) {
	f := NewPayloadFrame()
	defer f.Close()
	return f.Encode(p, flags)
}
