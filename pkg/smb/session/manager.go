package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/internal/telemetry"
	"github.com/marmos91/dittocifs/pkg/account"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/metrics"
	"github.com/marmos91/dittocifs/pkg/registry"
)

var (
	// ErrSessionNotFound is returned for unknown or closed sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTreeNotFound is returned for unknown tree IDs.
	ErrTreeNotFound = errors.New("tree not found")

	// ErrBadNetworkName is returned when a share cannot be connected,
	// either because it does not exist or its parameters are invalid.
	ErrBadNetworkName = errors.New("bad network name")

	// ErrTooManyUses is returned when a share has reached its MaxUses.
	ErrTooManyUses = errors.New("share connection limit reached")
)

// Shares resolves share names for tree connects.
type Shares interface {
	Connect(name, clientIP string) (*registry.Share, device.Context, error)
}

// Manager owns every live session.
//
// Thread safety: all methods are safe for concurrent use. Manager.mu
// guards only the session map and share use counts; device callbacks and
// lock release run without it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	uses     map[string]int // open trees per upper-cased share name
	nextID   atomic.Uint64

	shares  Shares
	locks   *locking.Manager
	domains *DomainMapper
	metrics metrics.SMBMetrics
	now     func() time.Time
}

// NewManager creates a session manager. locks, domains and m may be nil.
func NewManager(shares Shares, locks *locking.Manager, domains *DomainMapper, m metrics.SMBMetrics) *Manager {
	return &Manager{
		sessions: make(map[uint64]*Session),
		uses:     make(map[string]int),
		shares:   shares,
		locks:    locks,
		domains:  domains,
		metrics:  m,
		now:      time.Now,
	}
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// CreateSession registers a new session. A nil user creates a guest session.
func (m *Manager) CreateSession(clientAddr string, user *account.UserAccount) *Session {
	id := m.nextID.Add(1)
	domain := m.domains.DomainFor(parseIP(clientAddr))
	sess := newSession(id, clientAddr, user, domain, m.now())

	m.mu.Lock()
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(count)
	}
	logger.Debug("Session created", logger.KeySessionID, id, logger.KeyUser, sess.User,
		logger.KeyDomain, domain, logger.KeyClient, clientAddr)
	return sess
}

// GetSession retrieves a session by ID.
func (m *Manager) GetSession(id uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// CloseSession tears a session down: its byte-range locks are released,
// then every tree is closed. All of it has happened when CloseSession
// returns.
func (m *Manager) CloseSession(id uint64) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}

	released := 0
	if m.locks != nil {
		released = m.locks.ReleaseSession(id)
	}

	trees := sess.detach()
	slices.SortFunc(trees, func(a, b *Tree) int { return cmp.Compare(a.ID, b.ID) })
	for _, t := range trees {
		m.closeTree(sess, t)
	}

	if m.metrics != nil {
		m.metrics.SetActiveSessions(count)
	}
	logger.Debug("Session closed", logger.KeySessionID, id, "trees", len(trees), "locks", released)
	return nil
}

// Sessions returns the live sessions ordered by ID.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int { return cmp.Compare(a.ID, b.ID) })
	return sessions
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// =============================================================================
// Trees
// =============================================================================

// TreeConnect connects sess to shareName. A missing share or invalid share
// parameters yield ErrBadNetworkName and the device is never notified. On
// success TreeOpened runs before the tree becomes visible in the session.
func (m *Manager) TreeConnect(ctx context.Context, sess *Session, shareName string) (*Tree, error) {
	ctx, span := telemetry.StartSpan(ctx, "smb.tree_connect")
	defer span.End()
	span.SetAttributes(telemetry.Share(shareName), telemetry.SessionID(sess.ID))

	share, dctx, err := m.shares.Connect(shareName, clientIP(sess.ClientAddr))
	if err != nil {
		m.recordTreeConnect(shareName, false)
		telemetry.RecordError(ctx, err)
		if errors.Is(err, registry.ErrAccessDenied) {
			return nil, err
		}
		logger.DebugCtx(ctx, "Tree connect refused", logger.KeyShare, shareName, logger.KeyError, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrBadNetworkName, shareName, err)
	}

	key := strings.ToUpper(share.Name)
	m.mu.Lock()
	if share.MaxUses > 0 && uint32(m.uses[key]) >= share.MaxUses {
		m.mu.Unlock()
		m.recordTreeConnect(share.Name, false)
		return nil, fmt.Errorf("%w: %s allows %d", ErrTooManyUses, share.Name, share.MaxUses)
	}
	m.uses[key]++
	m.mu.Unlock()

	id, ok := sess.reserveTreeID()
	if !ok {
		m.releaseUse(share.Name)
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sess.ID)
	}
	tree := &Tree{ID: id, Share: share, Context: dctx, Connected: m.now()}

	if dev := share.Device(); dev != nil {
		dev.TreeOpened(sess.Info(), tree.Info())
	}
	if !sess.publish(tree) {
		// closed while the device was being notified
		m.closeTree(sess, tree)
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sess.ID)
	}

	m.recordTreeConnect(share.Name, true)
	logger.DebugCtx(ctx, "Tree connected", logger.KeySessionID, sess.ID, logger.KeyTreeID, tree.ID,
		logger.KeyShare, share.Name)
	return tree, nil
}

// TreeDisconnect closes one tree of sess.
func (m *Manager) TreeDisconnect(sess *Session, treeID uint32) error {
	tree, ok := sess.removeTree(treeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrTreeNotFound, treeID)
	}
	m.closeTree(sess, tree)
	return nil
}

// ShareUses returns the number of trees open on share.
func (m *Manager) ShareUses(share string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uses[strings.ToUpper(share)]
}

// closeTree notifies the device exactly once per tree.
func (m *Manager) closeTree(sess *Session, tree *Tree) {
	tree.closeOnce.Do(func() {
		if dev := tree.Share.Device(); dev != nil {
			dev.TreeClosed(sess.Info(), tree.Info())
		}
		m.releaseUse(tree.Share.Name)
		logger.Debug("Tree closed", logger.KeySessionID, sess.ID, logger.KeyTreeID, tree.ID,
			logger.KeyShare, tree.Share.Name)
	})
}

func (m *Manager) releaseUse(share string) {
	key := strings.ToUpper(share)
	m.mu.Lock()
	if m.uses[key] > 0 {
		m.uses[key]--
	}
	n := m.uses[key]
	if n == 0 {
		delete(m.uses, key)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveTrees(share, n)
	}
}

func (m *Manager) recordTreeConnect(share string, ok bool) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordTreeConnect(share, ok)
	if ok {
		m.metrics.SetActiveTrees(share, m.ShareUses(share))
	}
}

// =============================================================================
// Statistics
// =============================================================================

// Stats summarises the resources held by one session.
type Stats struct {
	Trees int `json:"trees"`
	Opens int `json:"opens"`
	Locks int `json:"locks"`
}

// Stats returns the current statistics for sess.
func (m *Manager) Stats(sess *Session) Stats {
	st := Stats{Trees: sess.TreeCount(), Opens: sess.Opens()}
	if m.locks != nil {
		st.Locks = m.locks.SessionCount(sess.ID)
	}
	return st
}
