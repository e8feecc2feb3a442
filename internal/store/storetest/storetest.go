// Package storetest opens throwaway sqlite stores for package tests.
package storetest

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm/logger"

	"darkpool-indexer/internal/store"
	"darkpool-indexer/pkg/database"
)

// New returns a migrated Store backed by a sqlite file under t.TempDir().
func New(t testing.TB) *store.Store {
	t.Helper()

	db, err := database.ConnectSQLite(filepath.Join(t.TempDir(), "indexer.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}
