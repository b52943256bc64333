package dcerpc

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/google/uuid"
)

// referentBase is the first unique-pointer referent ID Windows emits.
const referentBase uint32 = 0x00020000

// Buffer is an NDR (little-endian, 4-byte aligned) marshalling buffer.
//
// Writes append to the buffer; reads consume from a separate cursor. The
// first failed read is recorded and every later read returns zero values,
// so decoders check Err once at the end of an object.
type Buffer struct {
	data    []byte
	rd      int
	nextRef uint32
	err     error
}

// NewBuffer returns an empty Buffer for encoding.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity), nextRef: referentBase}
}

// NewReadBuffer wraps encoded stub data for decoding.
func NewReadBuffer(data []byte) *Buffer {
	return &Buffer{data: data, nextRef: referentBase}
}

// ============================================================================
// Encoding
// ============================================================================

func (b *Buffer) PutByte(v uint8) {
	b.data = append(b.data, v)
}

func (b *Buffer) PutShort(v uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
}

func (b *Buffer) PutInt(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

func (b *Buffer) PutLong(v uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
}

// PutBool encodes a boolean as a 4-byte integer.
func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutInt(1)
	} else {
		b.PutInt(0)
	}
}

// PutPointer emits a unique-pointer referent: a fresh referent ID when
// present, zero otherwise.
func (b *Buffer) PutPointer(present bool) {
	if !present {
		b.PutInt(0)
		return
	}
	b.PutInt(b.nextRef)
	b.nextRef += 4
}

// PutString writes s as a conformant varying UTF-16LE string including its
// NUL terminator, then pads to a 4-byte boundary.
func (b *Buffer) PutString(s string) {
	units := utf16.Encode([]rune(s))
	n := uint32(len(units) + 1)
	b.AlignPosition(4)
	b.PutInt(n)
	b.PutInt(0)
	b.PutInt(n)
	for _, u := range units {
		b.PutShort(u)
	}
	b.PutShort(0)
	b.AlignPosition(4)
}

func (b *Buffer) PutBytes(p []byte) {
	b.data = append(b.data, p...)
}

// PutUUID writes u in NDR layout (first three fields little-endian).
func (b *Buffer) PutUUID(u uuid.UUID) {
	b.PutInt(binary.BigEndian.Uint32(u[0:4]))
	b.PutShort(binary.BigEndian.Uint16(u[4:6]))
	b.PutShort(binary.BigEndian.Uint16(u[6:8]))
	b.PutBytes(u[8:16])
}

// PutBuffer appends the contents of other at the next 4-byte boundary. It is
// how deferred string data is placed after a run of fixed headers.
func (b *Buffer) PutBuffer(other *Buffer) {
	b.AlignPosition(4)
	b.data = append(b.data, other.data...)
}

// AlignPosition pads the write side to a multiple of n.
func (b *Buffer) AlignPosition(n int) {
	if rem := len(b.data) % n; rem != 0 {
		b.data = append(b.data, make([]byte, n-rem)...)
	}
}

// ============================================================================
// Decoding
// ============================================================================

func (b *Buffer) need(n int) bool {
	if b.err != nil {
		return false
	}
	if n < 0 || b.rd+n > len(b.data) {
		b.err = newBufferError(ErrBufferExhausted, b.rd, "need %d bytes, have %d", n, len(b.data)-b.rd)
		return false
	}
	return true
}

func (b *Buffer) GetByte() uint8 {
	if !b.need(1) {
		return 0
	}
	v := b.data[b.rd]
	b.rd++
	return v
}

func (b *Buffer) GetShort() uint16 {
	if !b.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(b.data[b.rd:])
	b.rd += 2
	return v
}

func (b *Buffer) GetInt() uint32 {
	if !b.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(b.data[b.rd:])
	b.rd += 4
	return v
}

func (b *Buffer) GetLong() uint64 {
	if !b.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(b.data[b.rd:])
	b.rd += 8
	return v
}

func (b *Buffer) GetBool() bool {
	return b.GetInt() != 0
}

// GetPointer reads a referent ID and reports whether it is non-null.
func (b *Buffer) GetPointer() bool {
	return b.GetInt() != 0
}

// GetString reads a conformant varying UTF-16LE string written by PutString.
func (b *Buffer) GetString() string {
	b.AlignRead(4)
	maxCount := b.GetInt()
	offset := b.GetInt()
	actual := b.GetInt()
	if b.err != nil {
		return ""
	}
	if offset != 0 {
		b.err = newBufferError(ErrInvalidLength, b.rd-8, "string offset %d, expected 0", offset)
		return ""
	}
	if actual > maxCount {
		b.err = newBufferError(ErrInvalidLength, b.rd-4, "string actual count %d exceeds max count %d", actual, maxCount)
		return ""
	}
	if !b.need(int(actual) * 2) {
		return ""
	}
	units := make([]uint16, actual)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b.data[b.rd:])
		b.rd += 2
	}
	if len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	b.AlignRead(4)
	return string(utf16.Decode(units))
}

func (b *Buffer) GetBytes(n int) []byte {
	if !b.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[b.rd:])
	b.rd += n
	return out
}

// GetUUID reads a UUID in NDR layout.
func (b *Buffer) GetUUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], b.GetInt())
	binary.BigEndian.PutUint16(u[4:6], b.GetShort())
	binary.BigEndian.PutUint16(u[6:8], b.GetShort())
	if tail := b.GetBytes(8); tail != nil {
		copy(u[8:], tail)
	}
	return u
}

func (b *Buffer) Skip(n int) {
	if b.need(n) {
		b.rd += n
	}
}

// AlignRead advances the read cursor to a multiple of n. Trailing padding
// at the very end of the buffer is tolerated.
func (b *Buffer) AlignRead(n int) {
	if b.err != nil {
		return
	}
	if rem := b.rd % n; rem != 0 {
		b.rd = min(b.rd+n-rem, len(b.data))
	}
}

// Fail records a decode error unless one is already pending.
func (b *Buffer) Fail(code ErrorCode, format string, args ...any) {
	if b.err == nil {
		b.err = newBufferError(code, b.rd, format, args...)
	}
}

// ============================================================================
// Accessors
// ============================================================================

// Bytes returns the encoded data.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return max(len(b.data)-b.rd, 0) }

// Position returns the read cursor.
func (b *Buffer) Position() int { return b.rd }

// Err returns the first decode error, or nil.
func (b *Buffer) Err() error { return b.err }
