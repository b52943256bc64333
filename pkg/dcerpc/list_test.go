package dcerpc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entry is a minimal two-pass object: one integer plus one deferred string.
type entry struct {
	ID      uint32
	Name    string
	hasName bool
}

func (e *entry) WriteObject(buf, strs *Buffer) error {
	buf.PutInt(e.ID)
	buf.PutPointer(true)
	strs.PutString(e.Name)
	return nil
}

func (e *entry) ReadObject(buf *Buffer) error {
	e.ID = buf.GetInt()
	e.hasName = buf.GetPointer()
	return buf.Err()
}

func (e *entry) ReadStrings(buf *Buffer) error {
	if e.hasName {
		e.Name = buf.GetString()
	}
	return buf.Err()
}

func newEntry() *entry { return &entry{} }

func TestListLazyAllocation(t *testing.T) {
	t.Parallel()

	l := NewList(newEntry)
	assert.Nil(t, l.Items())
	assert.Equal(t, 0, l.Len())

	_, ok := l.Get(0)
	assert.False(t, ok)

	l.Add(&entry{ID: 1})
	require.Equal(t, 1, l.Len())
	got, ok := l.Get(0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.ID)
}

func TestListHeadersBeforeStrings(t *testing.T) {
	t.Parallel()

	l := NewList(newEntry)
	l.Add(&entry{ID: 7, Name: "a"})
	l.Add(&entry{ID: 9, Name: "b"})

	buf := NewBuffer(128)
	require.NoError(t, l.Encode(buf))

	r := NewReadBuffer(buf.Bytes())
	assert.Equal(t, uint32(2), r.GetInt(), "count")
	assert.NotZero(t, r.GetInt(), "array pointer")
	assert.Equal(t, uint32(2), r.GetInt(), "max count")
	assert.Equal(t, uint32(7), r.GetInt())
	assert.NotZero(t, r.GetInt())
	assert.Equal(t, uint32(9), r.GetInt())
	assert.NotZero(t, r.GetInt())
	assert.Equal(t, "a", r.GetString())
	assert.Equal(t, "b", r.GetString())
	require.NoError(t, r.Err())
}

func TestListRoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 50} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			src := NewList(newEntry)
			for i := 0; i < n; i++ {
				src.Add(&entry{ID: uint32(i * 3), Name: fmt.Sprintf("name-%02d", i)})
			}
			buf := NewBuffer(256)
			require.NoError(t, src.Encode(buf))

			dst := NewList(newEntry)
			require.NoError(t, dst.Decode(NewReadBuffer(buf.Bytes())))
			require.Equal(t, n, dst.Len())
			for i := 0; i < n; i++ {
				a, _ := src.Get(i)
				b, _ := dst.Get(i)
				assert.Equal(t, a.ID, b.ID)
				assert.Equal(t, a.Name, b.Name)
			}
		})
	}
}

func TestListDecodeRejectsMismatchedMaxCount(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(32)
	buf.PutInt(2)
	buf.PutPointer(true)
	buf.PutInt(3)

	l := NewList(newEntry)
	err := l.Decode(NewReadBuffer(buf.Bytes()))
	assert.ErrorIs(t, err, &BufferError{Code: ErrInvalidLength})
	assert.Zero(t, l.Len())
}

func TestListDecodeRejectsNullPointerWithEntries(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(8)
	buf.PutInt(4)
	buf.PutPointer(false)

	err := NewList(newEntry).Decode(NewReadBuffer(buf.Bytes()))
	assert.ErrorIs(t, err, &BufferError{Code: ErrInvalidLength})
}

func TestListDecodeTruncatedAbandonsList(t *testing.T) {
	t.Parallel()

	src := NewList(newEntry)
	src.Add(&entry{ID: 1, Name: "first"})
	src.Add(&entry{ID: 2, Name: "second"})
	buf := NewBuffer(128)
	require.NoError(t, src.Encode(buf))

	data := buf.Bytes()
	dst := NewList(newEntry)
	err := dst.Decode(NewReadBuffer(data[:len(data)-8]))
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.Zero(t, dst.Len(), "partial results must not leak")
}

func TestListDecodeHugeCount(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(16)
	buf.PutInt(0x7FFFFFFF)
	buf.PutPointer(true)
	buf.PutInt(0x7FFFFFFF)

	err := NewList(newEntry).Decode(NewReadBuffer(buf.Bytes()))
	assert.True(t, IsExhausted(err))
}
