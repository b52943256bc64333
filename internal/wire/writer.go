package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// ByteOrder is satisfied by binary.LittleEndian and binary.BigEndian.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Writer appends fixed-width fields to a growing buffer.
type Writer struct {
	buf   []byte
	order ByteOrder
	err   error
}

// NewWriter returns a Writer with the given byte order and initial capacity.
func NewWriter(order ByteOrder, capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity), order: order}
}

// NewLEWriter returns a little-endian Writer.
func NewLEWriter(capacity int) *Writer { return NewWriter(binary.LittleEndian, capacity) }

// NewBEWriter returns a big-endian Writer.
func NewBEWriter(capacity int) *Writer { return NewWriter(binary.BigEndian, capacity) }

func (w *Writer) Uint8(v uint8) {
	if w.err == nil {
		w.buf = append(w.buf, v)
	}
}

func (w *Writer) Uint16(v uint16) {
	if w.err == nil {
		w.buf = w.order.AppendUint16(w.buf, v)
	}
}

func (w *Writer) Uint32(v uint32) {
	if w.err == nil {
		w.buf = w.order.AppendUint32(w.buf, v)
	}
}

func (w *Writer) Uint64(v uint64) {
	if w.err == nil {
		w.buf = w.order.AppendUint64(w.buf, v)
	}
}

func (w *Writer) Bytes(p []byte) {
	if w.err == nil {
		w.buf = append(w.buf, p...)
	}
}

func (w *Writer) Zeros(n int) {
	if w.err == nil && n > 0 {
		w.buf = append(w.buf, make([]byte, n)...)
	}
}

// UTF16 appends s as UTF-16 without a terminator and returns the byte count.
func (w *Writer) UTF16(s string) int {
	units := utf16.Encode([]rune(s))
	for _, u := range units {
		w.Uint16(u)
	}
	return len(units) * 2
}

// Pad appends zero bytes up to the next multiple of alignment.
func (w *Writer) Pad(alignment int) {
	if w.err != nil || alignment <= 0 {
		return
	}
	if rem := len(w.buf) % alignment; rem != 0 {
		w.buf = append(w.buf, make([]byte, alignment-rem)...)
	}
}

// PutUint16At backpatches a uint16 at offset.
func (w *Writer) PutUint16At(offset int, v uint16) {
	if w.err != nil {
		return
	}
	if offset < 0 || offset+2 > len(w.buf) {
		w.err = fmt.Errorf("wire: backpatch at %d out of bounds (len %d)", offset, len(w.buf))
		return
	}
	w.order.PutUint16(w.buf[offset:], v)
}

// PutUint32At backpatches a uint32 at offset.
func (w *Writer) PutUint32At(offset int, v uint32) {
	if w.err != nil {
		return
	}
	if offset < 0 || offset+4 > len(w.buf) {
		w.err = fmt.Errorf("wire: backpatch at %d out of bounds (len %d)", offset, len(w.buf))
		return
	}
	w.order.PutUint32(w.buf[offset:], v)
}

func (w *Writer) Data() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Err() error { return w.err }
