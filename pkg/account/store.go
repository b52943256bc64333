package account

import "context"

// Store persists accounts. Names are matched case-insensitively; Put
// replaces an existing account whose name differs only in case.
type Store interface {
	Get(ctx context.Context, name string) (*UserAccount, error)
	Put(ctx context.Context, user *UserAccount) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*UserAccount, error)
	Close() error
}
