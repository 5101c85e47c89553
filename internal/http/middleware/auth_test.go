package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-sitechat/internal/auth"
)

func newAuthRouter(iss *auth.Issuer, seen func(*gin.Context)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BearerAuth(iss))
	r.GET("/me", func(c *gin.Context) {
		seen(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestBearerAuth_RejectsMissingAndInvalid(t *testing.T) {
	iss := auth.NewIssuer("middleware-test-secret-0123456789", "sitechat", time.Hour)
	other := auth.NewIssuer("a-different-secret-0123456789abcd", "sitechat", time.Hour)
	r := newAuthRouter(iss, func(*gin.Context) { t.Fatalf("handler must not run") })

	forged, _, err := other.IssueWidget("ch1", "conv1", "v1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for name, hdr := range map[string]string{
		"missing":   "",
		"garbage":   "Bearer not-a-jwt",
		"forged":    "Bearer " + forged,
		"no scheme": forged,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if hdr != "" {
				req.Header.Set("Authorization", hdr)
			}
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestBearerAuth_StoresActor(t *testing.T) {
	iss := auth.NewIssuer("middleware-test-secret-0123456789", "sitechat", time.Hour)

	t.Run("widget via header", func(t *testing.T) {
		tok, _, err := iss.IssueWidget("ch1", "conv1", "v1")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		r := newAuthRouter(iss, func(c *gin.Context) {
			a, ok := ActorFrom(c)
			if !ok {
				t.Fatalf("actor missing")
			}
			if a.Operator || a.ConversationID != "conv1" || a.VisitorID != "v1" {
				t.Fatalf("unexpected actor: %+v", a)
			}
			if got := c.GetString("userID"); got != "visitor:v1" {
				t.Fatalf("userID = %q", got)
			}
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("operator via query", func(t *testing.T) {
		tok, _, err := iss.IssueOperator("ch1", "op1", "admin")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		r := newAuthRouter(iss, func(c *gin.Context) {
			a, _ := ActorFrom(c)
			if !a.Operator || a.UserID != "op1" || a.Role != "admin" {
				t.Fatalf("unexpected actor: %+v", a)
			}
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})
}

func TestActorFrom_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if _, ok := ActorFrom(c); ok {
		t.Fatalf("expected no actor")
	}
	c.Set(ctxKeyActor, "not an actor")
	if _, ok := ActorFrom(c); ok {
		t.Fatalf("expected no actor for wrong type")
	}
}
