// Package postgres persists accounts in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/account"
)

type Store struct {
	pool *pgxpool.Pool
}

// Open migrates the schema and connects a pool.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	connString := cfg.ConnectionString()
	if err := RunMigrations(ctx, connString); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("Account store opened", logger.KeyStoreType, "postgres", "host", cfg.Host, "database", cfg.Database)
	return &Store{pool: pool}, nil
}

const selectColumns = `SELECT name, full_name, comment, nt_hash, disabled, created_at FROM accounts`

func scan(row pgx.Row) (*account.UserAccount, error) {
	var (
		u    account.UserAccount
		hash string
	)
	if err := row.Scan(&u.Name, &u.FullName, &u.Comment, &hash, &u.Disabled, &u.Created); err != nil {
		return nil, err
	}
	if err := u.SetHashHex(hash); err != nil {
		return nil, err
	}
	u.Created = u.Created.UTC()
	return &u, nil
}

func (s *Store) Get(ctx context.Context, name string) (*account.UserAccount, error) {
	u, err := scan(s.pool.QueryRow(ctx, selectColumns+` WHERE name_key = $1`, account.Key(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	return u, err
}

func (s *Store) Put(ctx context.Context, user *account.UserAccount) error {
	if err := account.ValidateName(user.Name); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (name_key, name, full_name, comment, nt_hash, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name_key) DO UPDATE SET
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			comment = EXCLUDED.comment,
			nt_hash = EXCLUDED.nt_hash,
			disabled = EXCLUDED.disabled,
			created_at = EXCLUDED.created_at`,
		account.Key(user.Name), user.Name, user.FullName, user.Comment, user.HashHex(), user.Disabled, user.Created)
	if err != nil {
		return fmt.Errorf("put account %q: %w", user.Name, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE name_key = $1`, account.Key(name))
	if err != nil {
		return fmt.Errorf("delete account %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*account.UserAccount, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*account.UserAccount
	for rows.Next() {
		u, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
