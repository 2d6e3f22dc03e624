package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/imran1337/solid-prediction/internal/data/db"
	types "github.com/imran1337/solid-prediction/internal/domain"
	"github.com/imran1337/solid-prediction/internal/platform/logger"
)

var dbSeq atomic.Int64

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// DB opens a fresh, migrated in-memory SQLite database private to the test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func SeedFeatureDocument(tb testing.TB, ctx context.Context, tx *gorm.DB, doc *types.FeatureDocument) *types.FeatureDocument {
	tb.Helper()
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed feature document: %v", err)
	}
	return doc
}

func StrPtr(s string) *string { return &s }
