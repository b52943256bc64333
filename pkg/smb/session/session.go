// Package session tracks authenticated SMB sessions and the trees they
// have connected.
//
// A session is created during SESSION_SETUP and destroyed on LOGOFF or
// when its connection drops. Closing a session releases every byte-range
// lock it owns and then closes its trees, so devices see exactly one
// TreeClosed per TreeOpened.
//
// # Usage
//
//	mgr := session.NewManager(reg, locks, mapper, nil)
//	sess := mgr.CreateSession("10.0.0.5:50122", user)
//	tree, err := mgr.TreeConnect(ctx, sess, "public")
//	...
//	mgr.CloseSession(sess.ID)
package session

import (
	"cmp"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittocifs/pkg/account"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/registry"
)

// GuestUser is the user name recorded for guest sessions.
const GuestUser = "guest"

// Session is one authenticated client session.
//
// Identity fields are read-only after creation.
type Session struct {
	ID         uint64
	User       string
	Domain     string
	ClientAddr string
	Guest      bool
	Created    time.Time

	mu         sync.Mutex
	trees      map[uint32]*Tree
	nextTreeID uint32
	closed     bool
}

func newSession(id uint64, clientAddr string, user *account.UserAccount, domain string, now time.Time) *Session {
	s := &Session{
		ID:         id,
		User:       GuestUser,
		Domain:     domain,
		ClientAddr: clientAddr,
		Guest:      user == nil,
		Created:    now,
		trees:      make(map[uint32]*Tree),
	}
	if user != nil {
		s.User = user.Name
	}
	return s
}

// Info identifies the session to devices.
func (s *Session) Info() device.SessionInfo {
	return device.SessionInfo{ID: s.ID, User: s.User, Domain: s.Domain, Client: s.ClientAddr}
}

// ClientIP returns the client address without the port.
func (s *Session) ClientIP() net.IP {
	return parseIP(s.ClientAddr)
}

// Tree returns the open tree with the given ID.
func (s *Session) Tree(id uint32) (*Tree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trees[id]
	return t, ok
}

// Trees returns the open trees ordered by ID.
func (s *Session) Trees() []*Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	trees := make([]*Tree, 0, len(s.trees))
	for _, t := range s.trees {
		trees = append(trees, t)
	}
	slices.SortFunc(trees, func(a, b *Tree) int { return cmp.Compare(a.ID, b.ID) })
	return trees
}

// TreeCount returns the number of open trees.
func (s *Session) TreeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trees)
}

// Opens returns the number of open files across all trees.
func (s *Session) Opens() int {
	n := 0
	for _, t := range s.Trees() {
		n += t.Opens()
	}
	return n
}

// reserveTreeID allocates the next tree ID. It fails once the session
// has been closed.
func (s *Session) reserveTreeID() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	s.nextTreeID++
	return s.nextTreeID, true
}

// publish makes t reachable through the session.
func (s *Session) publish(t *Tree) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.trees[t.ID] = t
	return true
}

func (s *Session) removeTree(id uint32) (*Tree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trees[id]
	if ok {
		delete(s.trees, id)
	}
	return t, ok
}

// detach marks the session closed and hands back every tree.
func (s *Session) detach() []*Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	trees := make([]*Tree, 0, len(s.trees))
	for _, t := range s.trees {
		trees = append(trees, t)
	}
	s.trees = make(map[uint32]*Tree)
	return trees
}

// ============================================================================
// Tree
// ============================================================================

// Tree is a connection from a session to a share. Context is nil for IPC$.
type Tree struct {
	ID        uint32
	Share     *registry.Share
	Context   device.Context
	Connected time.Time

	opens     atomic.Int32
	closeOnce sync.Once
}

// Info identifies the tree to devices.
func (t *Tree) Info() device.TreeInfo {
	return device.TreeInfo{ID: t.ID, Share: t.Share.Name, Context: t.Context}
}

// IsIPC reports whether the tree is connected to IPC$.
func (t *Tree) IsIPC() bool { return t.Share.Type == registry.ShareTypeIPC }

// FileOpened and FileClosed keep the open-file count used by statistics
// and connection enumeration.
func (t *Tree) FileOpened() { t.opens.Add(1) }

func (t *Tree) FileClosed() {
	for {
		n := t.opens.Load()
		if n == 0 || t.opens.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Opens returns the number of files open on the tree.
func (t *Tree) Opens() int { return int(t.opens.Load()) }
