// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for the REST send endpoint.
// The validator checks the header, stashes the key for the handler and, via a
// caller-supplied lookup, marks requests that would replay an earlier send so
// the rate limiter lets them through.
//
// The key is scoped to (actor subject, conversation id). It is installed
// after BearerAuth so the subject is known.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on responses served from an
// earlier send.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the lookup found a still-valid earlier result.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 128, the same bound
	// that applies to clientMessageId, since the key may stand in for one.
	MaxLen int
	// Pattern restricts allowed characters; nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a still-valid record exists for
// (subject, conversationID, key) at now. TTL is enforced by the lookup.
// Errors are treated as "no record".
type IdempotencyLookup func(ctx context.Context, subject, conversationID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present.
// An invalid key is rejected with 400. When lookup finds a record the request
// is marked as a replay and exempted from rate limiting.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 128
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		subject := c.GetString(ctxKeyUserID)
		if lookup != nil && subject != "" {
			if exists, _ := lookup(c.Request.Context(), subject, c.Param("id"), key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
