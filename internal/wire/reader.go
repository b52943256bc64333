package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// ErrShortRead is returned when there are insufficient bytes to complete a read.
var ErrShortRead = errors.New("wire: short read")

// ErrUnexpectedValue is returned by Expect* when a fixed field does not match.
var ErrUnexpectedValue = errors.New("wire: unexpected value")

// Reader decodes fixed-width fields from a byte slice.
type Reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
	err   error
}

// NewReader returns a Reader over data using the given byte order.
func NewReader(data []byte, order binary.ByteOrder) *Reader {
	return &Reader{data: data, order: order}
}

// LE returns a little-endian Reader.
func LE(data []byte) *Reader { return NewReader(data, binary.LittleEndian) }

// BE returns a big-endian Reader.
func BE(data []byte) *Reader { return NewReader(data, binary.BigEndian) }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

func (r *Reader) Uint8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *Reader) Uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := r.order.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := r.order.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) Uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := r.order.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

// UTF16 decodes n bytes of UTF-16 (in the reader's byte order), trimming a
// trailing NUL if present.
func (r *Reader) UTF16(n int) string {
	if n%2 != 0 {
		if r.err == nil {
			r.err = fmt.Errorf("%w: odd UTF-16 length %d", ErrUnexpectedValue, n)
		}
		return ""
	}
	raw := r.Bytes(n)
	if raw == nil {
		return ""
	}
	units := make([]uint16, n/2)
	for i := range units {
		units[i] = r.order.Uint16(raw[i*2:])
	}
	for len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units))
}

func (r *Reader) Skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

// Align advances the cursor to the next multiple of n.
func (r *Reader) Align(n int) {
	if n <= 0 {
		return
	}
	if rem := r.pos % n; rem != 0 {
		r.Skip(n - rem)
	}
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.data) {
		r.err = fmt.Errorf("%w: seek to %d beyond %d bytes", ErrShortRead, off, len(r.data))
		return
	}
	r.pos = off
}

// ExpectUint16 reads a uint16 and fails if it differs from want.
func (r *Reader) ExpectUint16(want uint16) {
	v := r.Uint16()
	if r.err == nil && v != want {
		r.err = fmt.Errorf("%w: expected 0x%04X, got 0x%04X at offset %d", ErrUnexpectedValue, want, v, r.pos-2)
	}
}

// Fail records err unless an error is already pending.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Remaining() int { return max(len(r.data)-r.pos, 0) }

func (r *Reader) Position() int { return r.pos }
