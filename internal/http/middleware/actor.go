package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ergon.app/erp/common/logger"
	"ergon.app/erp/internal/model"
)

type contextKey string

const (
	ActorHeader    = "X-Actor-ID"
	AdminKeyHeader = "X-Admin-API-Key"

	actorContextKey contextKey = "actor"
)

// Actor reads the acting user from X-Actor-ID. A request carrying the admin
// API key is marked as an administrator. Requests without the header pass
// through anonymous; a malformed header is rejected.
func Actor(adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(ActorHeader))
		if raw == "" {
			c.Next()
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Actor-ID must be a UUID"})
			return
		}

		actor := model.Actor{ID: id, Admin: adminKeyMatches(c, adminAPIKey)}
		ctx := context.WithValue(c.Request.Context(), actorContextKey, actor)
		ctx = logger.WithLogFields(ctx, logger.LogFields{ActorID: logger.Ptr(id.String())})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireActor rejects requests that did not name an actor.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFrom(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Actor-ID header is required"})
			return
		}
		c.Next()
	}
}

// RequireAdminAPIKey guards administrative routes.
func RequireAdminAPIKey(adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminAPIKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API not configured"})
			return
		}
		if !adminKeyMatches(c, adminAPIKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

func ActorFrom(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(model.Actor)
	return actor, ok
}

func adminKeyMatches(c *gin.Context, adminAPIKey string) bool {
	if adminAPIKey == "" {
		return false
	}
	key := c.GetHeader(AdminKeyHeader)
	if key == "" {
		key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(adminAPIKey)) == 1
}
