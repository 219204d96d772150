// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"contextkeeper/internal/model"
	"contextkeeper/internal/platform/sqlite"
)

// NewDB returns a migrated in-memory store closed at test cleanup.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), sqlite.MemoryPath, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(model.Tables()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CloseDB closes the underlying pool early to simulate an unreachable store.
func CloseDB(t testing.TB, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	_ = sqlDB.Close()
}
