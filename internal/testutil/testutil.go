// Package testutil holds helpers shared by package tests: an in-memory
// SQLite database with the report schema and a deterministic clock.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lsst-ts/nightreport/internal/database"
	"github.com/lsst-ts/nightreport/internal/tai"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Epoch is the first instant returned by Clock.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenSQLite opens a fresh, empty in-memory database that is closed when the
// test ends. A single connection is shared, so code running inside a
// transaction must only use the transaction handle.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// DB returns an in-memory database migrated to the latest schema.
func DB(t testing.TB) *gorm.DB {
	t.Helper()
	db := OpenSQLite(t)
	if _, err := database.Migrate(context.Background(), db, Logger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Clock returns a clock that starts at Epoch and advances one second per
// reading, so every report gets a distinct date_added.
func Clock() *tai.StepClock {
	return &tai.StepClock{Start: Epoch, Step: time.Second}
}

func Ptr[T any](v T) *T {
	return &v
}
