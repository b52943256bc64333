package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocifs/pkg/account/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, cfg := range []Config{
		{},
		{Type: TypeMemory},
		{Type: TypeBadger, Badger: BadgerConfig{Path: filepath.Join(dir, "badger")}},
		{Type: TypeSQLite, SQLite: sqlite.Config{Path: filepath.Join(dir, "accounts.db")}},
	} {
		s, err := Open(ctx, cfg)
		require.NoError(t, err, cfg.Type)
		assert.NoError(t, s.Close(), cfg.Type)
	}

	_, err := Open(ctx, Config{Type: "ldap"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Type: TypePostgres})
	assert.Error(t, err, "postgres without host fails validation before dialing")
}
