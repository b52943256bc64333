// Package badger persists accounts in an embedded BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/account"
)

const keyPrefix = "acct:"

// Config selects the database directory. InMemory is meant for tests.
type Config struct {
	Path     string
	InMemory bool
}

type Store struct {
	db *badgerdb.DB
}

// record is the persisted form of an account.
type record struct {
	Name     string    `json:"name"`
	FullName string    `json:"full_name,omitempty"`
	Comment  string    `json:"comment,omitempty"`
	NTHash   string    `json:"nt_hash"`
	Disabled bool      `json:"disabled,omitempty"`
	Created  time.Time `json:"created"`
}

func Open(cfg Config) (*Store, error) {
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	} else if cfg.Path == "" {
		return nil, fmt.Errorf("badger account store: path is required")
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger account store: %w", err)
	}
	logger.Debug("Account store opened", logger.KeyStoreType, "badger", logger.KeyPath, cfg.Path)
	return &Store{db: db}, nil
}

func keyFor(name string) []byte { return []byte(keyPrefix + account.Key(name)) }

func decode(val []byte) (*account.UserAccount, error) {
	var r record
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	u := &account.UserAccount{Name: r.Name, FullName: r.FullName, Comment: r.Comment, Disabled: r.Disabled, Created: r.Created}
	if err := u.SetHashHex(r.NTHash); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) Get(_ context.Context, name string) (*account.UserAccount, error) {
	var u *account.UserAccount
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyFor(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			u, err = decode(val)
			return err
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	return u, err
}

func (s *Store) Put(_ context.Context, user *account.UserAccount) error {
	if err := account.ValidateName(user.Name); err != nil {
		return err
	}
	val, err := json.Marshal(record{
		Name:     user.Name,
		FullName: user.FullName,
		Comment:  user.Comment,
		NTHash:   user.HashHex(),
		Disabled: user.Disabled,
		Created:  user.Created,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyFor(user.Name), val)
	})
}

func (s *Store) Delete(_ context.Context, name string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyFor(name)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return fmt.Errorf("%w: %q", account.ErrNotFound, name)
			}
			return err
		}
		return txn.Delete(keyFor(name))
	})
}

func (s *Store) List(_ context.Context) ([]*account.UserAccount, error) {
	var out []*account.UserAccount
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				u, err := decode(val)
				if err != nil {
					return err
				}
				out = append(out, u)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *account.UserAccount) int {
		return strings.Compare(account.Key(a.Name), account.Key(b.Name))
	})
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }
