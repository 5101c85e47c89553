package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-sitechat/internal/domain"
)

// newRepoDB opens a throwaway file database. With migrate=true every table
// is created; otherwise the schema is left empty to exercise error paths.
func newRepoDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// seedConversation creates channel ch1 and one open conversation on it.
func seedConversation(t *testing.T, db *gorm.DB) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	if _, err := CreateChannel(ctx, db, "ch1", "Shop", nil); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	c, err := CreateConversation(ctx, db, "ch1", "v1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return c
}

func strp(s string) *string { return &s }
