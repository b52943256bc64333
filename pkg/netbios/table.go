package netbios

import (
	"cmp"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"
)

// DefaultMaxRefreshFailures is the number of consecutive failed refreshes
// after which a local name is dropped.
const DefaultMaxRefreshFailures = 3

var (
	// ErrNameExists is returned when a live entry already holds the key.
	ErrNameExists = errors.New("netbios: name already registered")

	// ErrNameNotFound is returned when no entry holds the key.
	ErrNameNotFound = errors.New("netbios: name not found")

	// ErrInvalidState is returned when a transition does not apply to the
	// entry's current state.
	ErrInvalidState = errors.New("netbios: invalid name state")
)

type entry struct {
	name     Name
	state    State
	failures int
	updated  time.Time
}

type subscription struct {
	id int
	l  Listener
}

// NameTable holds the local and remote names known to this host. It is
// safe for concurrent use. Events are emitted after the table lock is
// released, so listeners may call back into the table.
type NameTable struct {
	mu                 sync.RWMutex
	entries            map[Key]*entry
	listeners          []subscription
	nextListener       int
	maxRefreshFailures int
	now                func() time.Time
}

// NewNameTable returns an empty table. maxRefreshFailures below 1 selects
// DefaultMaxRefreshFailures.
func NewNameTable(maxRefreshFailures int) *NameTable {
	if maxRefreshFailures < 1 {
		maxRefreshFailures = DefaultMaxRefreshFailures
	}
	return &NameTable{
		entries:            make(map[Key]*entry),
		maxRefreshFailures: maxRefreshFailures,
		now:                time.Now,
	}
}

// MaxRefreshFailures returns the configured refresh failure bound.
func (t *NameTable) MaxRefreshFailures() int { return t.maxRefreshFailures }

// AddListener subscribes l to all future events and returns a function
// that removes the subscription.
func (t *NameTable) AddListener(l Listener) (remove func()) {
	t.mu.Lock()
	id := t.nextListener
	t.nextListener++
	t.listeners = append(t.listeners, subscription{id: id, l: l})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.listeners = slices.DeleteFunc(t.listeners, func(s subscription) bool { return s.id == id })
	}
}

func (t *NameTable) emit(ev NameEvent) NameEvent {
	t.mu.RLock()
	subs := slices.Clone(t.listeners)
	t.mu.RUnlock()

	for _, s := range subs {
		s.l.NameEvent(ev)
	}
	return ev
}

// BeginAdd starts registering a local name. If the key is already held
// the attempt is reported as AddDuplicate and ErrNameExists is returned.
func (t *NameTable) BeginAdd(n Name) error {
	if err := n.Validate(); err != nil {
		return err
	}
	n = n.clone()
	n.Name = canonical(n.Name)
	n.Local = true
	key := n.Key()

	t.mu.Lock()
	if _, ok := t.entries[key]; ok {
		t.mu.Unlock()
		t.emit(NameEvent{Name: n, Status: AddDuplicate})
		return fmt.Errorf("%w: %s", ErrNameExists, key)
	}
	t.entries[key] = &entry{name: n, state: Registering, updated: t.now()}
	t.mu.Unlock()
	return nil
}

// CompleteAdd finishes a registration started by BeginAdd. AddSuccess
// makes the name Registered; AddDuplicate, AddIOError and AddFailed drop it.
func (t *NameTable) CompleteAdd(key Key, status Status) (NameEvent, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return NameEvent{}, fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	if e.state != Registering {
		t.mu.Unlock()
		return NameEvent{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, key, e.state)
	}

	switch status {
	case AddSuccess:
		e.state = Registered
		e.updated = t.now()
	case AddDuplicate, AddIOError, AddFailed:
		delete(t.entries, key)
	default:
		t.mu.Unlock()
		return NameEvent{}, fmt.Errorf("%w: %s does not complete an add", ErrInvalidState, status)
	}
	snap := e.name.clone()
	t.mu.Unlock()

	return t.emit(NameEvent{Name: snap, Status: status}), nil
}

// RegisterName records a name learned from the network. A key held by a
// local unique name is rejected with ErrNameExists and reported as
// AddDuplicate. Group names accumulate member addresses.
func (t *NameTable) RegisterName(n Name) (NameEvent, error) {
	if err := n.Validate(); err != nil {
		return NameEvent{}, err
	}
	n = n.clone()
	n.Name = canonical(n.Name)
	n.Local = false
	key := n.Key()

	t.mu.Lock()
	e, ok := t.entries[key]
	switch {
	case !ok:
		e = &entry{name: n, state: Registered}
		t.entries[key] = e

	case e.name.Group && n.Group:
		for _, a := range n.Addrs {
			if !e.name.HasAddr(a) {
				e.name.Addrs = append(e.name.Addrs, a)
			}
		}
		if !e.name.Local {
			e.name.TTL = n.TTL
		}

	case e.name.Local:
		t.mu.Unlock()
		ev := t.emit(NameEvent{Name: n, Status: AddDuplicate})
		return ev, fmt.Errorf("%w: %s", ErrNameExists, key)

	default:
		// a remote unique name moved to another owner
		e.name = n
		e.state = Registered
	}
	e.updated = t.now()
	snap := e.name.clone()
	t.mu.Unlock()

	return t.emit(NameEvent{Name: snap, Status: RegisterName}), nil
}

// Lookup resolves a live name. The name is matched case-insensitively,
// the type exactly. Every lookup emits QueryName.
func (t *NameTable) Lookup(name string, typ byte) (Name, bool) {
	key := KeyOf(name, typ)

	t.mu.RLock()
	e, ok := t.entries[key]
	ok = ok && (e.state == Registered || e.state == Refreshing)
	snap := Name{Name: key.Name, Type: key.Type}
	if ok {
		snap = e.name.clone()
	}
	t.mu.RUnlock()

	t.emit(NameEvent{Name: snap, Status: QueryName})
	return snap, ok
}

// Get returns the entry for key in any state without emitting an event.
func (t *NameTable) Get(key Key) (Name, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key]; ok {
		return e.name.clone(), true
	}
	return Name{}, false
}

// ReleaseRemote removes addrs from a remote entry and drops the entry when
// none remain. Local entries are never touched. It reports whether the
// entry was dropped.
func (t *NameTable) ReleaseRemote(key Key, addrs []netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.name.Local {
		return false
	}
	e.name.Addrs = slices.DeleteFunc(e.name.Addrs, func(a netip.Addr) bool {
		return slices.Contains(addrs, a)
	})
	if len(e.name.Addrs) == 0 {
		delete(t.entries, key)
		return true
	}
	return false
}

// State returns the state of key; absent keys are Unregistered.
func (t *NameTable) State(key Key) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key]; ok {
		return e.state
	}
	return Unregistered
}

// BeginRefresh moves a Registered local name to Refreshing.
func (t *NameTable) BeginRefresh(key Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	if !e.name.Local || e.state != Registered {
		return fmt.Errorf("%w: cannot refresh %s in state %s", ErrInvalidState, key, e.state)
	}
	e.state = Refreshing
	return nil
}

// CompleteRefresh finishes a refresh. Success clears the failure counter;
// failure increments it and drops the name once it reaches the bound.
func (t *NameTable) CompleteRefresh(key Key, ok bool) (NameEvent, error) {
	t.mu.Lock()
	e, found := t.entries[key]
	if !found {
		t.mu.Unlock()
		return NameEvent{}, fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	if e.state != Refreshing {
		t.mu.Unlock()
		return NameEvent{}, fmt.Errorf("%w: %s is %s", ErrInvalidState, key, e.state)
	}

	status := RefreshName
	if ok {
		e.failures = 0
		e.state = Registered
		e.updated = t.now()
	} else {
		status = RefreshIOError
		e.failures++
		e.state = Registered
		if e.failures >= t.maxRefreshFailures {
			delete(t.entries, key)
		}
	}
	snap := e.name.clone()
	t.mu.Unlock()

	return t.emit(NameEvent{Name: snap, Status: status}), nil
}

// Failures returns the consecutive refresh failures recorded for key.
func (t *NameTable) Failures(key Key) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key]; ok {
		return e.failures
	}
	return 0
}

// Remove drops key and returns the removed name.
func (t *NameTable) Remove(key Key) (Name, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return Name{}, false
	}
	delete(t.entries, key)
	return e.name.clone(), true
}

// Expire drops remote names whose TTL has elapsed and returns how many
// were removed. Names with a zero TTL never expire.
func (t *NameTable) Expire() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for k, e := range t.entries {
		if e.name.Local || e.name.TTL <= 0 {
			continue
		}
		if now.Sub(e.updated) >= e.name.TTL {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Names returns a snapshot of every entry ordered by key.
func (t *NameTable) Names() []Name {
	t.mu.RLock()
	out := make([]Name, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.name.clone())
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Name) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return out
}

// LocalNames returns the keys of local names currently Registered.
func (t *NameTable) LocalNames() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Key
	for k, e := range t.entries {
		if e.name.Local && e.state == Registered {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b Key) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

// Len returns the number of entries.
func (t *NameTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
