// Package memory is a volatile account store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/dittocifs/pkg/account"
)

type Store struct {
	mu    sync.RWMutex
	users map[string]*account.UserAccount
}

func New() *Store { return &Store{users: make(map[string]*account.UserAccount)} }

func (s *Store) Get(_ context.Context, name string) (*account.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[account.Key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	return u.Clone(), nil
}

func (s *Store) Put(_ context.Context, user *account.UserAccount) error {
	if err := account.ValidateName(user.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[account.Key(user.Name)] = user.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := account.Key(name)
	if _, ok := s.users[k]; !ok {
		return fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	delete(s.users, k)
	return nil
}

func (s *Store) List(context.Context) ([]*account.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*account.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	slices.SortFunc(out, func(a, b *account.UserAccount) int {
		return strings.Compare(account.Key(a.Name), account.Key(b.Name))
	})
	return out, nil
}

func (s *Store) Close() error { return nil }
