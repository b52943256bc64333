package dcerpc

// Readable is implemented by values decoded from NDR in two passes: the
// fixed-size header first, the deferred pointer targets afterwards.
type Readable interface {
	ReadObject(buf *Buffer) error
	ReadStrings(buf *Buffer) error
}

// Writable is implemented by values encoded in two passes. The fixed-size
// header goes to buf; deferred strings are appended to strs, which the caller
// places after every header in the enclosing array.
type Writable interface {
	WriteObject(buf, strs *Buffer) error
}

// Object is both Readable and Writable.
type Object interface {
	Readable
	Writable
}

// List is an ordered NDR conformant array of objects of one info level.
// Decoding constructs elements through newElem, so a single List type serves
// every level.
type List[T Object] struct {
	items   []T
	newElem func() T
}

// NewList returns an empty list whose decoder builds elements with newElem.
func NewList[T Object](newElem func() T) *List[T] {
	return &List[T]{newElem: newElem}
}

// Add appends v, allocating the backing slice on first use.
func (l *List[T]) Add(v T) {
	if l.items == nil {
		l.items = make([]T, 0, 8)
	}
	l.items = append(l.items, v)
}

// Get returns the element at idx.
func (l *List[T]) Get(idx int) (T, bool) {
	if idx < 0 || idx >= len(l.items) {
		var zero T
		return zero, false
	}
	return l.items[idx], true
}

func (l *List[T]) Len() int { return len(l.items) }

// Items returns the elements in wire order.
func (l *List[T]) Items() []T { return l.items }

// Encode writes the container body: entry count, array pointer and, when
// the list is non-empty, max count, every header, then every element's
// deferred strings in element order.
func (l *List[T]) Encode(buf *Buffer) error {
	n := uint32(len(l.items))
	buf.PutInt(n)
	buf.PutPointer(n > 0)
	if n == 0 {
		return nil
	}
	buf.PutInt(n)

	strs := NewBuffer(64 * len(l.items))
	for _, it := range l.items {
		if err := it.WriteObject(buf, strs); err != nil {
			return err
		}
	}
	buf.PutBuffer(strs)
	return nil
}

// Decode replaces the list contents with the container read from buf. Any
// error abandons the whole list.
func (l *List[T]) Decode(buf *Buffer) error {
	l.items = nil

	n := buf.GetInt()
	present := buf.GetPointer()
	if err := buf.Err(); err != nil {
		return err
	}
	if !present {
		if n != 0 {
			buf.Fail(ErrInvalidLength, "null array pointer with %d entries", n)
		}
		return buf.Err()
	}

	maxCount := buf.GetInt()
	if err := buf.Err(); err != nil {
		return err
	}
	if maxCount != n {
		buf.Fail(ErrInvalidLength, "array max count %d differs from entry count %d", maxCount, n)
		return buf.Err()
	}
	// Each header is at least one 4-byte field.
	if int(n) > buf.Remaining()/4 {
		buf.Fail(ErrBufferExhausted, "%d entries cannot fit in %d bytes", n, buf.Remaining())
		return buf.Err()
	}

	items := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		it := l.newElem()
		if err := it.ReadObject(buf); err != nil {
			return err
		}
		items = append(items, it)
	}
	for _, it := range items {
		if err := it.ReadStrings(buf); err != nil {
			return err
		}
	}
	if err := buf.Err(); err != nil {
		return err
	}
	l.items = items
	return nil
}
