package locking

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/marmos91/dittocifs/internal/logger"
)

// FileKey identifies a lock table.
type FileKey struct {
	Share string
	Path  string
}

// FileLocks is a snapshot of one table.
type FileLocks struct {
	FileKey
	Locks []Lock
}

// Manager owns the lock tables of all open files. Its mutex guards the map
// only; every table has its own lock.
type Manager struct {
	mu      sync.Mutex
	tables  map[FileKey]*Table
	metrics *Metrics
}

// NewManager returns an empty manager. metrics may be nil.
func NewManager(metrics *Metrics) *Manager {
	return &Manager{tables: make(map[FileKey]*Table), metrics: metrics}
}

func (m *Manager) table(key FileKey, create bool) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[key]
	if !ok && create {
		t = NewTable()
		m.tables[key] = t
	}
	return t
}

// Lock acquires a range on share/path. Merging means the number of held
// locks may shrink on success.
func (m *Manager) Lock(share, path string, offset, length uint64, pid uint32, sessionID uint64) (Lock, error) {
	key := FileKey{share, path}
	for {
		t := m.table(key, true)
		t.mu.Lock()
		if t.retired {
			// pruned between lookup and lock
			t.mu.Unlock()
			continue
		}
		before := len(t.locks)
		l, err := t.lockLocked(offset, length, pid, sessionID)
		after := len(t.locks)
		t.mu.Unlock()

		var le *LockError
		switch {
		case err == nil:
			m.metrics.acquire(share, StatusGranted)
			m.metrics.setActive(share, after-before)
		case errors.As(err, &le) && le.Code == ErrLockConflict:
			m.metrics.acquire(share, StatusConflict)
			logger.Debug("Lock conflict", logger.KeyShare, share, logger.KeyPath, path,
				logger.KeyOffset, offset, logger.KeyLength, length, logger.KeyPID, pid,
				"holder_pid", le.Holder.PID)
		default:
			m.metrics.acquire(share, StatusInvalid)
		}
		if err != nil {
			m.prune(key)
		}
		return l, err
	}
}

// LockRanges acquires all ranges on share/path atomically: either every
// range is granted or the table is unchanged.
func (m *Manager) LockRanges(share, path string, ranges []Range, pid uint32, sessionID uint64) ([]Lock, error) {
	key := FileKey{share, path}
	for {
		t := m.table(key, true)
		t.mu.Lock()
		if t.retired {
			t.mu.Unlock()
			continue
		}
		before := len(t.locks)
		locks, err := t.lockRangesLocked(ranges, pid, sessionID)
		after := len(t.locks)
		t.mu.Unlock()

		var le *LockError
		switch {
		case err == nil:
			m.metrics.acquire(share, StatusGranted)
			m.metrics.setActive(share, after-before)
		case errors.As(err, &le) && le.Code == ErrLockConflict:
			m.metrics.acquire(share, StatusConflict)
			logger.Debug("Lock conflict", logger.KeyShare, share, logger.KeyPath, path,
				logger.KeyOffset, le.Offset, logger.KeyLength, le.Length, logger.KeyPID, pid,
				"holder_pid", le.Holder.PID)
		default:
			m.metrics.acquire(share, StatusInvalid)
		}
		if err != nil {
			m.prune(key)
		}
		return locks, err
	}
}

// Unlock releases a range on share/path.
func (m *Manager) Unlock(share, path string, offset, length uint64, pid uint32, sessionID uint64) error {
	key := FileKey{share, path}
	t := m.table(key, false)
	if t == nil {
		return &LockError{Code: ErrNotLocked, Offset: offset, Length: length, PID: pid}
	}
	t.mu.Lock()
	before := len(t.locks)
	err := t.unlockLocked(offset, length, pid, sessionID)
	delta := len(t.locks) - before
	t.mu.Unlock()
	if err != nil {
		return err
	}
	m.metrics.release(share, ReasonExplicit, 1)
	m.metrics.setActive(share, delta)
	m.prune(key)
	return nil
}

// Test reports the lock that would block a request, or nil.
func (m *Manager) Test(share, path string, offset, length uint64, pid uint32, sessionID uint64) *Lock {
	if t := m.table(FileKey{share, path}, false); t != nil {
		return t.Test(offset, length, pid, sessionID)
	}
	return nil
}

// ReleaseSession drops every lock owned by the session on every file and
// returns how many were released. Empty tables are discarded.
func (m *Manager) ReleaseSession(id uint64) int {
	return m.releaseAll(ReasonDisconnect, func(t *Table) int { return t.ReleaseSession(id) })
}

// ReleaseOwner drops the locks (pid, sessionID) holds on share/path, as
// when the handle they were taken through is closed.
func (m *Manager) ReleaseOwner(share, path string, pid uint32, sessionID uint64) int {
	key := FileKey{share, path}
	t := m.table(key, false)
	if t == nil {
		return 0
	}
	n := t.ReleaseOwner(pid, sessionID)
	if n > 0 {
		m.metrics.release(share, ReasonClose, n)
		m.metrics.setActive(share, -n)
		m.prune(key)
	}
	return n
}

// ReleasePID drops every lock owned by pid on every file.
func (m *Manager) ReleasePID(pid uint32) int {
	return m.releaseAll(ReasonProcess, func(t *Table) int { return t.ReleasePID(pid) })
}

func (m *Manager) releaseAll(reason string, fn func(*Table) int) int {
	total := 0
	for key, t := range m.snapshot() {
		n := fn(t)
		if n == 0 {
			continue
		}
		total += n
		m.metrics.release(key.Share, reason, n)
		m.metrics.setActive(key.Share, -n)
		m.prune(key)
	}
	return total
}

func (m *Manager) snapshot() map[FileKey]*Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[FileKey]*Table, len(m.tables))
	for k, t := range m.tables {
		out[k] = t
	}
	return out
}

// prune drops the table for key when it holds no locks.
func (m *Manager) prune(key FileKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[key]
	if !ok {
		return
	}
	t.mu.Lock()
	if len(t.locks) == 0 {
		t.retired = true
		delete(m.tables, key)
	}
	t.mu.Unlock()
}

// Count returns the number of held locks across all files.
func (m *Manager) Count() int {
	n := 0
	for _, t := range m.snapshot() {
		n += t.Count()
	}
	return n
}

// Files returns the number of files with at least one lock.
func (m *Manager) Files() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

// SessionCount returns the number of locks held by a session.
func (m *Manager) SessionCount(id uint64) int {
	n := 0
	for _, t := range m.snapshot() {
		for _, l := range t.Locks() {
			if l.SessionID == id {
				n++
			}
		}
	}
	return n
}

// Snapshot returns every table's locks ordered by share and path.
func (m *Manager) Snapshot() []FileLocks {
	var out []FileLocks
	for key, t := range m.snapshot() {
		if locks := t.Locks(); len(locks) > 0 {
			out = append(out, FileLocks{FileKey: key, Locks: locks})
		}
	}
	slices.SortFunc(out, func(a, b FileLocks) int {
		return cmp.Or(cmp.Compare(a.Share, b.Share), cmp.Compare(a.Path, b.Path))
	})
	return out
}
