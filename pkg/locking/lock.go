// Package locking implements per-file byte-range lock tables.
//
// Owners are identified by (session, pid). Overlapping or adjacent ranges
// of the same owner are merged into one lock; ranges of different owners
// never overlap. A zero length locks to end of file.
package locking

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Lock is a granted byte range.
type Lock struct {
	Offset    uint64
	Length    uint64 // 0 = to end of file
	PID       uint32
	SessionID uint64
	Acquired  time.Time
}

// End returns the exclusive end of the range, max uint64 when unbounded.
func (l Lock) End() uint64 { return rangeEnd(l.Offset, l.Length) }

func (l Lock) sameOwner(pid uint32, sessionID uint64) bool {
	return l.PID == pid && l.SessionID == sessionID
}

func rangeEnd(offset, length uint64) uint64 {
	if length == 0 {
		return ^uint64(0)
	}
	return offset + length
}

// rangeLength is the inverse of rangeEnd.
func rangeLength(offset, end uint64) uint64 {
	if end == ^uint64(0) {
		return 0
	}
	return end - offset
}

// RangesOverlap reports whether two ranges share at least one byte.
func RangesOverlap(offset1, length1, offset2, length2 uint64) bool {
	return rangeEnd(offset1, length1) > offset2 && rangeEnd(offset2, length2) > offset1
}

func touches(offset1, length1, offset2, length2 uint64) bool {
	return rangeEnd(offset1, length1) >= offset2 && rangeEnd(offset2, length2) >= offset1
}

func validRange(offset, length uint64) bool {
	return length == 0 || offset+length > offset
}

// Table holds the locks of one file.
type Table struct {
	mu      sync.Mutex
	locks   []Lock
	retired bool
	now     func() time.Time
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{now: time.Now} }

// Lock grants [offset, offset+length) to (pid, sessionID). Ranges of the
// same owner that overlap or touch the request are merged into the
// returned lock.
func (t *Table) Lock(offset, length uint64, pid uint32, sessionID uint64) (Lock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockLocked(offset, length, pid, sessionID)
}

func (t *Table) lockLocked(offset, length uint64, pid uint32, sessionID uint64) (Lock, error) {
	if !validRange(offset, length) {
		return Lock{}, &LockError{Code: ErrInvalidRange, Offset: offset, Length: length, PID: pid}
	}
	if held := t.conflict(offset, length, pid, sessionID); held != nil {
		return Lock{}, &LockError{Code: ErrLockConflict, Offset: offset, Length: length, PID: pid, Holder: held}
	}

	lo, hi := offset, rangeEnd(offset, length)
	kept := t.locks[:0]
	for _, l := range t.locks {
		if l.sameOwner(pid, sessionID) && touches(l.Offset, l.Length, offset, length) {
			lo = min(lo, l.Offset)
			hi = max(hi, l.End())
			continue
		}
		kept = append(kept, l)
	}
	merged := Lock{Offset: lo, Length: rangeLength(lo, hi), PID: pid, SessionID: sessionID, Acquired: t.now()}
	t.locks = append(kept, merged)
	return merged, nil
}

// Range is one element of a batch lock request.
type Range struct {
	Offset uint64
	Length uint64 // 0 = to end of file
}

// LockRanges grants every range to (pid, sessionID) or none of them. On
// failure the table is left exactly as it was.
func (t *Table) LockRanges(ranges []Range, pid uint32, sessionID uint64) ([]Lock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockRangesLocked(ranges, pid, sessionID)
}

func (t *Table) lockRangesLocked(ranges []Range, pid uint32, sessionID uint64) ([]Lock, error) {
	for _, r := range ranges {
		if !validRange(r.Offset, r.Length) {
			return nil, &LockError{Code: ErrInvalidRange, Offset: r.Offset, Length: r.Length, PID: pid}
		}
		if held := t.conflict(r.Offset, r.Length, pid, sessionID); held != nil {
			return nil, &LockError{Code: ErrLockConflict, Offset: r.Offset, Length: r.Length, PID: pid, Holder: held}
		}
	}

	saved := slices.Clone(t.locks)
	out := make([]Lock, 0, len(ranges))
	for _, r := range ranges {
		l, err := t.lockLocked(r.Offset, r.Length, pid, sessionID)
		if err != nil {
			t.locks = saved
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// conflict returns a copy of the first lock of another owner overlapping
// the range, or nil.
func (t *Table) conflict(offset, length uint64, pid uint32, sessionID uint64) *Lock {
	for _, l := range t.locks {
		if !l.sameOwner(pid, sessionID) && RangesOverlap(l.Offset, l.Length, offset, length) {
			return &l
		}
	}
	return nil
}

// Unlock releases [offset, offset+length). The range must equal or lie
// inside one lock of the owner; a lock is split when the range is interior.
func (t *Table) Unlock(offset, length uint64, pid uint32, sessionID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unlockLocked(offset, length, pid, sessionID)
}

func (t *Table) unlockLocked(offset, length uint64, pid uint32, sessionID uint64) error {
	end := rangeEnd(offset, length)
	for i, l := range t.locks {
		if !l.sameOwner(pid, sessionID) || offset < l.Offset || end > l.End() {
			continue
		}
		rest := make([]Lock, 0, 2)
		if offset > l.Offset {
			rest = append(rest, Lock{Offset: l.Offset, Length: offset - l.Offset, PID: pid, SessionID: sessionID, Acquired: l.Acquired})
		}
		if end < l.End() {
			rest = append(rest, Lock{Offset: end, Length: rangeLength(end, l.End()), PID: pid, SessionID: sessionID, Acquired: l.Acquired})
		}
		t.locks = slices.Replace(t.locks, i, i+1, rest...)
		return nil
	}
	return &LockError{Code: ErrNotLocked, Offset: offset, Length: length, PID: pid}
}

// Test returns the first lock that would block the request, or nil.
func (t *Table) Test(offset, length uint64, pid uint32, sessionID uint64) *Lock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conflict(offset, length, pid, sessionID)
}

// ReleasePID drops every lock held by pid and returns how many.
func (t *Table) ReleasePID(pid uint32) int {
	return t.release(func(l Lock) bool { return l.PID == pid })
}

// ReleaseOwner drops every lock held by (pid, sessionID) and returns how many.
func (t *Table) ReleaseOwner(pid uint32, sessionID uint64) int {
	return t.release(func(l Lock) bool { return l.sameOwner(pid, sessionID) })
}

// ReleaseSession drops every lock held by the session and returns how many.
func (t *Table) ReleaseSession(id uint64) int {
	return t.release(func(l Lock) bool { return l.SessionID == id })
}

func (t *Table) release(match func(Lock) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := len(t.locks)
	t.locks = slices.DeleteFunc(t.locks, match)
	return before - len(t.locks)
}

// Locks returns a copy of the held locks ordered by offset.
func (t *Table) Locks() []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := slices.Clone(t.locks)
	slices.SortFunc(out, func(a, b Lock) int { return cmp.Compare(a.Offset, b.Offset) })
	return out
}

// Count returns the number of held locks.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
