package compactwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/rawbytedev/objpack"
	"github.com/rawbytedev/objpack/internal/common"
)

// Decode parses a payload frame and returns the payload and its flags.
func (f *PayloadFrame) Decode(data []byte) (*objpack.Payload, byte, error) {
	f.rdr = bytes.NewReader(data)
	t, err := readPreamble(f.rdr)
	if err != nil {
		return nil, 0, err
	}
	if t != TypePayload {
		return nil, 0, ErrNotPayloadFrame
	}
	if len(data) < headerSize+4 {
		return nil, 0, ErrTruncated
	}
	if int(binary.LittleEndian.Uint32(data[3:])) != len(data) {
		return nil, 0, ErrLengthMismatch
	}

	end := len(data) - 4
	want := binary.LittleEndian.Uint32(data[end:])
	if crc32.ChecksumIEEE(data[2:end]) != want {
		return nil, 0, ErrCRCMismatch
	}

	flags := data[7]
	digest := binary.LittleEndian.Uint64(data[8:])
	body := data[headerSize:end]

	epd, n, err := readTable(body)
	if err != nil {
		return nil, 0, err
	}
	body = body[n:]
	ptr, n, err := readTable(body)
	if err != nil {
		return nil, 0, err
	}
	body = body[n:]

	size, n := common.ReadVarUint(body)
	if n == 0 {
		return nil, 0, ErrTruncated
	}
	body = body[n:]
	storedLen, n := common.ReadVarUint(body)
	if n == 0 || uint64(len(body)-n) != storedLen {
		return nil, 0, ErrTruncated
	}
	stored := body[n:]

	var payload []byte
	if flags&FlagZstd != 0 {
		dec, err := f.decoder()
		if err != nil {
			return nil, 0, err
		}
		payload, err = dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("decompress payload: %w", err)
		}
	} else {
		payload = bytes.Clone(stored)
	}
	if payload == nil {
		payload = []byte{}
	}
	if uint64(len(payload)) != size {
		return nil, 0, ErrLengthMismatch
	}
	if Digest(payload) != digest {
		return nil, 0, ErrDigestMismatch
	}
	for _, table := range [][]int{epd, ptr} {
		if len(table) > 0 && table[len(table)-1]+4 > len(payload) {
			return nil, 0, ErrBadTable
		}
	}
	return &objpack.Payload{Data: payload, EPDRelocs: epd, PtrRelocs: ptr}, flags, nil
}

func readTable(b []byte) ([]int, int, error) {
	cnt, n := common.ReadVarUint(b)
	if n == 0 {
		return nil, 0, ErrTruncated
	}
	if cnt > uint64(len(b)) {
		return nil, 0, ErrTruncated
	}
	if cnt == 0 {
		return nil, n, nil
	}
	pos := n
	table := make([]int, 0, cnt)
	prev := 0
	for i := uint64(0); i < cnt; i++ {
		d, n := common.ReadVarUint(b[pos:])
		if n == 0 {
			return nil, 0, ErrTruncated
		}
		if (i > 0 && d == 0) || d > math.MaxInt32 {
			return nil, 0, ErrBadTable
		}
		prev += int(d)
		table = append(table, prev)
		pos += n
	}
	return table, pos, nil
}

// DecodePayload decodes data with a throwaway PayloadFrame.
func DecodePayload(data []byte) (*objpack.Payload, byte, error) {
	f := NewPayloadFrame()
	defer f.Close()
	return f.Decode(data)
}
