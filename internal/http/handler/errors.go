package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

// respondError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 with the given message.
func respondError(c *gin.Context, err error, msg string) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, service.ErrThreadNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrSuggestionNotFound),
		errors.Is(err, service.ErrEntityNotFound),
		errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidThread),
		errors.Is(err, service.ErrInvalidSuggestion),
		errors.Is(err, service.ErrEmptyCommitMessage),
		errors.Is(err, service.ErrUnsupportedChange),
		errors.Is(err, model.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSuggestionResolved),
		errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSuggestionNotValid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(ctx, msg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
