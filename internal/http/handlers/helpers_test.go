package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/http/middleware"
	"github.com/tbourn/go-sitechat/internal/repo"
	"github.com/tbourn/go-sitechat/internal/services"
)

const testOrigin = "https://shop.example.com"

// recAnnouncer records announced messages.
type recAnnouncer struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recAnnouncer) AnnounceMessage(_ context.Context, _ string, m domain.Message, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recAnnouncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// env seeds channel ch1 (allow-list shop.example.com, operator op1, one
// conversation for v1) and ch2 (open allow-list, one conversation), and
// mounts the handlers the way the router does.
type env struct {
	db       *gorm.DB
	issuer   *auth.Issuer
	conv     *domain.Conversation
	other    *domain.Conversation
	announce *recAnnouncer
	r        *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
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
	if _, err := repo.CreateChannel(ctx, db, "ch1", "Shop", []string{"shop.example.com"}); err != nil {
		t.Fatalf("channel: %v", err)
	}
	if _, err := repo.CreateChannel(ctx, db, "ch2", "Other", nil); err != nil {
		t.Fatalf("channel: %v", err)
	}
	if _, err := repo.UpsertMembership(ctx, db, "ch1", "op1", "agent", true); err != nil {
		t.Fatalf("membership: %v", err)
	}
	if _, err := repo.UpsertMembership(ctx, db, "ch1", "op-off", "agent", false); err != nil {
		t.Fatalf("membership: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, db, "ch1", "v1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	other, err := repo.CreateConversation(ctx, db, "ch2", "v2")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	iss := auth.NewIssuer("handlers-test-secret-0123456789ab", "sitechat", time.Hour)
	access := &services.AccessService{DB: db}
	sessions := &services.SessionService{DB: db, Issuer: iss, Access: access}
	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := &services.MessageService{
		DB: db, Access: access, MaxRunes: 50,
		Now: func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) },
	}
	ann := &recAnnouncer{}
	h := New(sessions, msgs, access, WithStore(db, time.Hour), WithAnnouncer(ann))

	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/widget/session", h.PostWidgetSession)
	r.POST("/operator/session", h.PostOperatorSession)
	authed := r.Group("", middleware.BearerAuth(iss), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	authed.GET("/messages", h.ListMessages)
	authed.POST("/conversations/:id/messages", h.PostMessage)

	return &env{db: db, issuer: iss, conv: conv, other: other, announce: ann, r: r}
}

func (e *env) widgetToken(t *testing.T) string {
	t.Helper()
	tok, _, err := e.issuer.IssueWidget("ch1", e.conv.ID, "v1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (e *env) operatorToken(t *testing.T) string {
	t.Helper()
	tok, _, err := e.issuer.IssueOperator("ch1", "op1", "agent")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (e *env) do(method, path, token string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	if code == "" {
		return
	}
	er := decodeBody[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code = %q, want %q", er.Code, code)
	}
}
