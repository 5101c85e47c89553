// Package httpapi wires the HTTP transport (Gin) to the session and history
// services and mounts the socket gateway's upgrade endpoints. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging/redaction,
// panic recovery, metrics, CORS, security headers, idempotency and rate
// limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/config"
	"github.com/tbourn/go-sitechat/internal/gateway"
	_ "github.com/tbourn/go-sitechat/internal/http/docs"
	"github.com/tbourn/go-sitechat/internal/http/handlers"
	"github.com/tbourn/go-sitechat/internal/http/middleware"
	"github.com/tbourn/go-sitechat/internal/repo"
	"github.com/tbourn/go-sitechat/internal/services"
)

// Deps are the collaborators the router mounts. Gateway may be nil, in
// which case the socket routes are not registered and REST sends are not
// announced.
type Deps struct {
	DB       *gorm.DB
	Issuer   *auth.Issuer
	Sessions *services.SessionService
	Access   *services.AccessService
	Messages *services.MessageService
	Gateway  *gateway.Server
}

// Paths of the socket upgrade endpoints. They sit outside the API base path
// and are excluded from gzip.
const (
	WidgetSocketPath   = "/ws/widget"
	OperatorSocketPath = "/ws/operator"
)

var corsAllowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID",
	"If-None-Match", middleware.HeaderIdempotencyKey,
}

var corsExposeHeaders = []string{
	"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//  8. gzip (never on socket upgrades)
//
// Authentication, idempotency and rate limiting are per group: the
// idempotency check needs the authenticated subject, and the limiter must
// see the bypass flag it sets.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// HSTS only when enabled and request is HTTPS
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws/", "/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	opts := []handlers.Option{handlers.WithStore(d.DB, cfg.IdempotencyTTL)}
	if d.Gateway != nil {
		r.GET(WidgetSocketPath, gin.WrapF(d.Gateway.ServeWidget))
		r.GET(OperatorSocketPath, gin.WrapF(d.Gateway.ServeOperator))
		opts = append(opts, handlers.WithAnnouncer(d.Gateway))
	}
	h := handlers.New(d.Sessions, d.Messages, d.Access, opts...)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySubjectOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Sessions (credentials are never cached)
		sess := api.Group("", middleware.NoStore(), rl.Handler())
		sess.POST("/widget/session", h.PostWidgetSession)
		sess.POST("/operator/session", h.PostOperatorSession)

		// History and REST send
		authed := api.Group("",
			middleware.BearerAuth(d.Issuer),
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idempotencyLookup(d.DB)),
			rl.Handler(),
		)
		authed.GET("/messages", h.ListMessages)
		authed.POST("/conversations/:id/messages", h.PostMessage)
	}
}

// idempotencyLookup reports whether a live record exists for the key.
// Store errors count as a miss so the request is rate limited normally.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, subject, conversationID, key string, now time.Time) (bool, error) {
		if db == nil {
			return false, nil
		}
		_, err := repo.GetIdempotency(ctx, db, subject, conversationID, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// limitBody caps the request body size for all endpoints to maxBytes using
// http.MaxBytesReader. Requests exceeding the cap will cause downstream body
// reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
