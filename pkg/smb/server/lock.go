package server

import (
	"context"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/wire"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

const (
	lockRequestSize = 48
	lockElementSize = 24
)

type lockElement struct {
	offset uint64
	length uint64
	flags  uint32
}

func (e lockElement) unlock() bool { return e.flags&types.LockFlagUnlock != 0 }

// handleLock acquires or releases byte ranges [MS-SMB2 3.3.5.14]. The
// owner of a range is the session plus the ProcessID of the request
// header. A request either takes effect completely or not at all.
func handleLock(ctx context.Context, s *Server, req *request) ([]byte, error) {
	r := wire.LE(req.body)
	r.ExpectUint16(lockRequestSize)
	count := int(r.Uint16())
	r.Skip(4) // lock sequence
	raw := r.Bytes(16)
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%v", err)
	}
	if count == 0 {
		return nil, statusErr(types.StatusInvalidParameter, "no lock elements")
	}

	elems := make([]lockElement, 0, count)
	for i := 0; i < count; i++ {
		e := lockElement{offset: r.Uint64(), length: r.Uint64(), flags: r.Uint32()}
		r.Skip(4)
		elems = append(elems, e)
	}
	if err := r.Err(); err != nil {
		return nil, malformed(req.hdr.Command, "%d elements: %v", count, err)
	}

	// unlocks and locks cannot be mixed in one request
	unlock := elems[0].unlock()
	for _, e := range elems[1:] {
		if e.unlock() != unlock {
			return nil, statusErr(types.StatusInvalidParameter, "mixed lock and unlock elements")
		}
	}

	f, err := s.fileFor(req, raw)
	if err != nil {
		return nil, err
	}
	if f.pipe != nil {
		return nil, statusErr(types.StatusInvalidDeviceRequest, "lock on pipe %s", f.pipe.Name())
	}

	share, pid, sid := req.tree.Share.Name, req.hdr.ProcessID, req.sess.ID
	if unlock {
		for _, e := range elems {
			if e.length == 0 {
				if !f.dropPoint(e.offset, pid) {
					return nil, &locking.LockError{Code: locking.ErrNotLocked, Offset: e.offset, PID: pid}
				}
				continue
			}
			if err := s.locks.Unlock(share, f.path, e.offset, e.length, pid, sid); err != nil {
				return nil, err
			}
		}
		logger.DebugCtx(ctx, "Ranges unlocked", logger.KeyPath, f.path, logger.KeyPID, pid, logger.KeyCount, len(elems))
		return simpleResponse(), nil
	}

	// Zero-byte locks conflict with nothing and stay on the handle; the
	// rest go to the table as one batch that is granted whole or not at all.
	var ranges []locking.Range
	for _, e := range elems {
		if e.length != 0 {
			ranges = append(ranges, locking.Range{Offset: e.offset, Length: e.length})
		}
	}
	if len(ranges) > 0 {
		if _, err := s.locks.LockRanges(share, f.path, ranges, pid, sid); err != nil {
			return nil, err
		}
	}
	f.lockTaken(pid)
	for _, e := range elems {
		if e.length == 0 {
			f.addPoint(e.offset, pid)
		}
	}
	logger.DebugCtx(ctx, "Ranges locked", logger.KeyPath, f.path, logger.KeyPID, pid, logger.KeyCount, len(elems))
	return simpleResponse(), nil
}

// pointLock is a zero-byte lock. It is recorded so it can be unlocked but
// never blocks another owner.
type pointLock struct {
	offset uint64
	pid    uint32
}

func (f *openFile) lockTaken(pid uint32) {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	if f.lockPIDs == nil {
		f.lockPIDs = make(map[uint32]struct{})
	}
	f.lockPIDs[pid] = struct{}{}
}

func (f *openFile) addPoint(offset uint64, pid uint32) {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	if f.points == nil {
		f.points = make(map[pointLock]struct{})
	}
	f.points[pointLock{offset, pid}] = struct{}{}
}

func (f *openFile) dropPoint(offset uint64, pid uint32) bool {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	key := pointLock{offset, pid}
	if _, ok := f.points[key]; !ok {
		return false
	}
	delete(f.points, key)
	return true
}

// releaseLocks drops every range taken through the handle and returns how
// many table locks were released.
func (f *openFile) releaseLocks(m *locking.Manager) int {
	f.lockMu.Lock()
	pids := f.lockPIDs
	f.lockPIDs, f.points = nil, nil
	f.lockMu.Unlock()

	n := 0
	for pid := range pids {
		n += m.ReleaseOwner(f.tree.Share.Name, f.path, pid, f.sessionID)
	}
	return n
}
