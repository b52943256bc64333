package server

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/smb/session"
)

// FileID is the 16-byte SMB2 file handle (persistent + volatile halves).
type FileID [16]byte

// openFile is one CREATE handle. Exactly one of pipe or info is set.
type openFile struct {
	id        FileID
	sessionID uint64
	tree      *session.Tree
	path      string
	pipe      *dcerpc.Pipe
	info      device.FileInfo
	opened    time.Time

	// owners that locked through this handle, and its zero-byte locks
	lockMu   sync.Mutex
	lockPIDs map[uint32]struct{}
	points   map[pointLock]struct{}
}

// fileTable maps FileIDs to open handles across all connections.
type fileTable struct {
	mu    sync.Mutex
	files map[FileID]*openFile
}

func newFileTable() *fileTable {
	return &fileTable{files: make(map[FileID]*openFile)}
}

// newID returns an unused random FileID.
func (t *fileTable) newID() FileID {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		var id FileID
		_, _ = rand.Read(id[:])
		if _, taken := t.files[id]; !taken {
			return id
		}
	}
}

func (t *fileTable) add(f *openFile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[f.id] = f
}

// get returns the handle only when it belongs to the session and tree.
func (t *fileTable) get(id FileID, sessionID uint64, treeID uint32) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[id]
	if !ok || f.sessionID != sessionID || f.tree.ID != treeID {
		return nil, false
	}
	return f, true
}

func (t *fileTable) remove(id FileID) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[id]
	if ok {
		delete(t.files, id)
	}
	return f, ok
}

func (t *fileTable) removeSession(sessionID uint64) []*openFile {
	return t.removeWhere(func(f *openFile) bool { return f.sessionID == sessionID })
}

func (t *fileTable) removeTree(sessionID uint64, treeID uint32) []*openFile {
	return t.removeWhere(func(f *openFile) bool {
		return f.sessionID == sessionID && f.tree.ID == treeID
	})
}

func (t *fileTable) removeWhere(match func(*openFile) bool) []*openFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*openFile
	for id, f := range t.files {
		if match(f) {
			out = append(out, f)
			delete(t.files, id)
		}
	}
	return out
}

func (t *fileTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
