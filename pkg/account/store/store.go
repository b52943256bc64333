// Package store opens the configured account store backend.
package store

import (
	"context"
	"fmt"

	"github.com/marmos91/dittocifs/pkg/account"
	"github.com/marmos91/dittocifs/pkg/account/store/badger"
	"github.com/marmos91/dittocifs/pkg/account/store/memory"
	"github.com/marmos91/dittocifs/pkg/account/store/postgres"
	"github.com/marmos91/dittocifs/pkg/account/store/sqlite"
)

// Type names an account store backend.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeBadger   Type = "badger"
	TypePostgres Type = "postgres"
	TypeSQLite   Type = "sqlite"
)

// BadgerConfig configures the badger backend.
type BadgerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Config selects and configures a backend.
type Config struct {
	Type     Type            `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=memory badger postgres sqlite"`
	Badger   BadgerConfig    `mapstructure:"badger" yaml:"badger,omitempty"`
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres,omitempty"`
	SQLite   sqlite.Config   `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
}

// Open returns the backend named by cfg.Type; empty means memory.
func Open(ctx context.Context, cfg Config) (account.Store, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return memory.New(), nil
	case TypeBadger:
		return badger.Open(badger.Config{Path: cfg.Badger.Path})
	case TypePostgres:
		return postgres.Open(ctx, cfg.Postgres)
	case TypeSQLite:
		return sqlite.Open(cfg.SQLite)
	default:
		return nil, fmt.Errorf("unsupported account store type: %q", cfg.Type)
	}
}
