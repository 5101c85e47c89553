package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHelpers_GetIdempotencyKey_IsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}

	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("expected GetIdempotencyKey to be absent for non-string value")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lookupCalled := false
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		lookupCalled = true
		return false, nil
	}
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.GET("/ping", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key should not be present when header missing")
		}
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatalf("lookup should not be called when header missing")
	}
}

func TestIdempotencyValidator_InvalidKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long for explicit cap", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"too long for default cap", IdempotencyOptions{}, strings.Repeat("k", 129)},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern rejects spaces", IdempotencyOptions{}, "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_Valid_NoLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/z", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok || key != "abc-123" {
			t.Fatalf("expected stashed key abc-123, got %q ok=%v", key, ok)
		}
		if IsReplay(c) || IsRateBypass(c) {
			t.Fatalf("expected no replay/bypass when lookup=nil")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/z", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc-123")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_AnonymousSkipsLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		t.Fatalf("lookup must not run without an authenticated subject")
		return true, nil
	}))
	r.POST("/conversations/:id/messages", func(c *gin.Context) {
		if IsReplay(c) {
			t.Fatalf("unexpected replay")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_WithLookup_MissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(t *testing.T, hit bool) {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set("userID", "visitor:v9"); c.Next() })
		lookup := func(_ context.Context, subject, convID, key string, now time.Time) (bool, error) {
			if subject != "visitor:v9" {
				t.Fatalf("expected subject visitor:v9, got %q", subject)
			}
			if convID != "conv-42" || key != "k-9" {
				t.Fatalf("unexpected conversation/key: %q %q", convID, key)
			}
			if now.IsZero() || now.Location() != time.UTC {
				t.Fatalf("expected UTC now, got %v", now)
			}
			return hit, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/conversations/:id/messages", func(c *gin.Context) {
			if IsReplay(c) != hit || IsRateBypass(c) != hit {
				t.Fatalf("replay=%v bypass=%v, want %v", IsReplay(c), IsRateBypass(c), hit)
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/conversations/conv-42/messages", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	t.Run("miss", func(t *testing.T) { run(t, false) })
	t.Run("hit sets replay and bypass", func(t *testing.T) { run(t, true) })
}
