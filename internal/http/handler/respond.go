package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/internal/http/middleware"
	"ergon.app/erp/internal/model"
)

// respondError writes err as {"error": msg} with the status its kind maps to.
// Server-side failures are logged and answered with a generic message.
func respondError(c *gin.Context, err error, action string) {
	ctx := c.Request.Context()

	status := statusFor(apperr.KindOf(err))
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "failed to "+action, "error", err)
		c.JSON(status, gin.H{"error": "failed to " + action})
		return
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

// bindOptionalJSON binds the body when one was sent.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, req)
}

func bindQuery(c *gin.Context, q any) bool {
	if err := c.ShouldBindQuery(q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return false
	}
	return true
}

// actorID returns the caller's id, or nil for anonymous requests.
func actorID(c *gin.Context) *uuid.UUID {
	actor, ok := middleware.ActorFrom(c.Request.Context())
	if !ok {
		return nil
	}
	return &actor.ID
}

// requireActor returns the caller or answers 401.
func requireActor(c *gin.Context) (model.Actor, bool) {
	actor, ok := middleware.ActorFrom(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-Actor-ID header is required"})
	}
	return actor, ok
}
