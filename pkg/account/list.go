package account

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// List is the in-memory account table consulted during session setup.
// Lookups are case-insensitive; case-sensitive lookup is not supported.
type List struct {
	mu       sync.RWMutex
	accounts map[string]*UserAccount
}

func NewList() *List { return &List{accounts: make(map[string]*UserAccount)} }

// Find returns a copy of the account, or nil.
func (l *List) Find(name string) *UserAccount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[Key(name)].Clone()
}

func (l *List) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[Key(name)]
	return ok
}

// Add stores user, replacing any account whose name differs only in case.
func (l *List) Add(user *UserAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := Key(user.Name)
	delete(l.accounts, k)
	l.accounts[k] = user.Clone()
}

// Remove deletes name and reports whether it existed.
func (l *List) Remove(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := Key(name)
	if _, ok := l.accounts[k]; !ok {
		return false
	}
	delete(l.accounts, k)
	return true
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

// Names returns the stored names, as added, sorted case-insensitively.
func (l *List) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.accounts))
	for _, u := range l.accounts {
		out = append(out, u.Name)
	}
	slices.SortFunc(out, func(a, b string) int { return strings.Compare(Key(a), Key(b)) })
	return out
}

// Authenticate returns the account when name exists, is enabled and
// password matches.
func (l *List) Authenticate(name, password string) (*UserAccount, bool) {
	u := l.Find(name)
	if u == nil || u.Disabled || !u.CheckPassword(password) {
		return nil, false
	}
	return u, true
}

// Load replaces the list content with every account in s.
func (l *List) Load(ctx context.Context, s Store) error {
	users, err := s.List(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]*UserAccount, len(users))
	for _, u := range users {
		fresh[Key(u.Name)] = u.Clone()
	}
	l.mu.Lock()
	l.accounts = fresh
	l.mu.Unlock()
	return nil
}
