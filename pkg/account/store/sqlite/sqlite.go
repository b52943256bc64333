// Package sqlite persists accounts in a SQLite file through GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/account"
)

// Config selects the database file. ":memory:" is accepted for tests.
type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// accountRow is the GORM model for the accounts table.
type accountRow struct {
	NameKey   string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	FullName  string
	Comment   string
	NTHash    string `gorm:"column:nt_hash;size:32;not null"`
	Disabled  bool
	CreatedAt time.Time
}

func (accountRow) TableName() string { return "accounts" }

type Store struct {
	db *gorm.DB
}

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&accountRow{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}
	logger.Debug("Account store opened", logger.KeyStoreType, "sqlite", logger.KeyPath, cfg.Path)
	return &Store{db: db}, nil
}

func toAccount(r *accountRow) (*account.UserAccount, error) {
	u := &account.UserAccount{
		Name:     r.Name,
		FullName: r.FullName,
		Comment:  r.Comment,
		Disabled: r.Disabled,
		Created:  r.CreatedAt.UTC(),
	}
	if err := u.SetHashHex(r.NTHash); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) Get(ctx context.Context, name string) (*account.UserAccount, error) {
	var r accountRow
	err := s.db.WithContext(ctx).Where("name_key = ?", account.Key(name)).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return toAccount(&r)
}

func (s *Store) Put(ctx context.Context, user *account.UserAccount) error {
	if err := account.ValidateName(user.Name); err != nil {
		return err
	}
	r := accountRow{
		NameKey:   account.Key(user.Name),
		Name:      user.Name,
		FullName:  user.FullName,
		Comment:   user.Comment,
		NTHash:    user.HashHex(),
		Disabled:  user.Disabled,
		CreatedAt: user.Created,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&r).Error
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name_key = ?", account.Key(name)).Delete(&accountRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", account.ErrNotFound, name)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*account.UserAccount, error) {
	var rows []accountRow
	if err := s.db.WithContext(ctx).Order("name_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*account.UserAccount, 0, len(rows))
	for i := range rows {
		u, err := toAccount(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
