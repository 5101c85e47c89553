// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements BearerAuth, which verifies the session credential
// minted by the session endpoints and stashes the resulting actor in the
// Gin context. REST routes use the same credentials as the socket gateway,
// so a widget can read its own history and an operator can read any
// conversation on its channel.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/services"
)

const ctxKeyActor = "actor"

// ctxKeyUserID is read by the idempotency check and the access logger.
const ctxKeyUserID = "userID"

// BearerAuth rejects requests without a valid session token with 401.
// On success the actor is available through ActorFrom and the actor's
// subject is stored under "userID".
func BearerAuth(iss *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := auth.ExtractToken(c.Request)
		if tok == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		claims, err := iss.Verify(tok)
		if err != nil {
			abortUnauthorized(c, "invalid bearer token")
			return
		}
		a := services.ActorFromClaims(claims)
		c.Set(ctxKeyActor, a)
		c.Set(ctxKeyUserID, a.Subject())
		c.Next()
	}
}

// ActorFrom returns the actor stored by BearerAuth.
func ActorFrom(c *gin.Context) (services.Actor, bool) {
	v, ok := c.Get(ctxKeyActor)
	if !ok {
		return services.Actor{}, false
	}
	a, ok := v.(services.Actor)
	return a, ok
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="sitechat"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
