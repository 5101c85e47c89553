package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/repo"
)

// fixture seeds two channels (ch1, ch2), an active operator op1 on ch1 and
// one open conversation for visitor v1 on ch1.
type fixture struct {
	db       *gorm.DB
	access   *AccessService
	conv     *domain.Conversation
	visitor  Actor
	operator Actor
}

// newSvcDB opens a file-backed SQLite database with the production PRAGMAs
// so concurrent writers wait on busy_timeout instead of failing.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db = db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Silent)})
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := newSvcDB(t)

	for _, id := range []string{"ch1", "ch2"} {
		if _, err := repo.CreateChannel(ctx, db, id, id, nil); err != nil {
			t.Fatalf("CreateChannel(%s): %v", id, err)
		}
	}
	if _, err := repo.UpsertMembership(ctx, db, "ch1", "op1", "agent", true); err != nil {
		t.Fatalf("UpsertMembership: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, db, "ch1", "v1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return &fixture{
		db:     db,
		access: &AccessService{DB: db},
		conv:   conv,
		visitor: Actor{
			ChannelID:      "ch1",
			ConversationID: conv.ID,
			VisitorID:      "v1",
			Role:           "visitor",
		},
		operator: Actor{
			Operator:  true,
			ChannelID: "ch1",
			UserID:    "op1",
			Role:      "agent",
		},
	}
}

// stepClock hands out strictly increasing timestamps, one millisecond apart,
// starting from the wall clock so rows written by repo helpers sort before.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
