package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	// ActorHeader carries the id of the acting user, set by the gateway in
	// front of this service.
	ActorHeader = "X-User-ID"

	actorContextKey contextKey = "actor_id"
)

// Actor attaches the acting user to the request context when the header is
// present. Requests without it are anonymous.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(ActorHeader)); id != "" {
			ctx := context.WithValue(c.Request.Context(), actorContextKey, id)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// RequireActor rejects anonymous requests.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorID(c.Request.Context()) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + ActorHeader + " header"})
			return
		}
		c.Next()
	}
}

// ActorID returns the acting user, or nil for anonymous requests.
func ActorID(ctx context.Context) *string {
	id, ok := ctx.Value(actorContextKey).(string)
	if !ok {
		return nil
	}
	return &id
}
