package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"darkpool-indexer/internal/model"
)

var (
	// ErrAlreadyProcessed is returned when a dedup guard row already exists.
	ErrAlreadyProcessed = errors.New("already processed")
	ErrNotFound         = errors.New("not found")
	// ErrStaleObject means a conditional update matched no row.
	ErrStaleObject = errors.New("state object changed concurrently")
)

// Store wraps the gorm handle. Inside Transaction the callback receives a
// Store bound to the transaction, so every method composes under one commit.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in a single database transaction. Any error returned by
// fn rolls back every write made through the provided Store.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// AutoMigrate is used by tests and development mode; production runs cmd/migrate.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(model.AllModels()...)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// insertGuard inserts a dedup row. A unique conflict is the arbitration
// outcome, reported as ErrAlreadyProcessed.
func (s *Store) insertGuard(ctx context.Context, row interface{}, what string) error {
	err := s.db.WithContext(ctx).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", what, ErrAlreadyProcessed)
	}
	return translate(err, what)
}

func (s *Store) exists(ctx context.Context, m interface{}, query string, arg interface{}) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(m).Where(query, arg).Limit(1).Count(&n).Error
	return n > 0, err
}

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
