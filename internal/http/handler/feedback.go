package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"threadline.app/feedback/internal/http/dto"
	"threadline.app/feedback/internal/http/middleware"
	"threadline.app/feedback/internal/service"
)

type FeedbackHandler struct {
	feedback service.FeedbackService
}

func NewFeedbackHandler(feedback service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// CreateThread opens a thread. Anonymous learners may post without an actor.
func (h *FeedbackHandler) CreateThread(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread, err := h.feedback.CreateThread(ctx, service.CreateThreadParams{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		AuthorID:   middleware.ActorID(ctx),
		Subject:    req.Subject,
		Text:       req.Text,
	})
	if err != nil {
		respondError(c, err, "failed to create thread")
		return
	}

	c.JSON(http.StatusCreated, dto.ToThreadResponse(thread))
}

func (h *FeedbackHandler) GetThread(c *gin.Context) {
	thread, err := h.feedback.GetThread(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		respondError(c, err, "failed to get thread")
		return
	}
	c.JSON(http.StatusOK, dto.ToThreadResponse(thread))
}

// ListThreads lists the threads of an entity, optionally only those with
// (or without) a suggestion.
func (h *FeedbackHandler) ListThreads(c *gin.Context) {
	ctx := c.Request.Context()
	entityType, entityID := c.Param("entity_type"), c.Param("entity_id")

	raw, filtered := c.GetQuery("has_suggestion")
	if !filtered {
		threads, err := h.feedback.GetThreads(ctx, entityType, entityID)
		if err != nil {
			respondError(c, err, "failed to list threads")
			return
		}
		c.JSON(http.StatusOK, gin.H{"threads": dto.ToThreadResponses(threads)})
		return
	}

	hasSuggestion, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "has_suggestion must be a boolean"})
		return
	}
	threads, err := h.feedback.GetAllThreads(ctx, entityType, entityID, hasSuggestion)
	if err != nil {
		respondError(c, err, "failed to list threads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": dto.ToThreadResponses(threads)})
}

func (h *FeedbackHandler) ListMessages(c *gin.Context) {
	msgs, err := h.feedback.GetMessages(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		respondError(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *FeedbackHandler) GetMessage(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	msg, err := h.feedback.GetMessage(c.Request.Context(), c.Param("thread_id"), messageID)
	if err != nil {
		respondError(c, err, "failed to get message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *FeedbackHandler) CreateMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.feedback.CreateMessage(ctx, service.CreateMessageParams{
		ThreadID:       c.Param("thread_id"),
		AuthorID:       middleware.ActorID(ctx),
		UpdatedStatus:  req.UpdatedStatus,
		UpdatedSubject: req.UpdatedSubject,
		Text:           req.Text,
	})
	if err != nil {
		respondError(c, err, "failed to create message")
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *FeedbackHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	if err := h.feedback.DeleteMessage(c.Request.Context(), c.Param("thread_id"), messageID); err != nil {
		respondError(c, err, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead records the given messages as read by the actor.
func (h *FeedbackHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := *middleware.ActorID(ctx)
	if err := h.feedback.UpdateMessagesReadByUser(ctx, userID, c.Param("thread_id"), req.MessageIDs); err != nil {
		respondError(c, err, "failed to mark messages read")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FeedbackHandler) Summaries(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ThreadSummariesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summaries, unread, err := h.feedback.GetThreadSummaries(ctx, *middleware.ActorID(ctx), req.ThreadIDs)
	if err != nil {
		respondError(c, err, "failed to get thread summaries")
		return
	}
	c.JSON(http.StatusOK, dto.ThreadSummariesResponse{
		Summaries:             summaries,
		NumberOfUnreadThreads: unread,
	})
}

// Analytics returns precomputed open/total thread counts for
// ?entity_type=T&entity_id=a&entity_id=b.
func (h *FeedbackHandler) Analytics(c *gin.Context) {
	ctx := c.Request.Context()

	entityType := c.Query("entity_type")
	entityIDs := c.QueryArray("entity_id")
	if entityType == "" || len(entityIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type and at least one entity_id are required"})
		return
	}

	analytics, err := h.feedback.GetThreadAnalyticsMulti(ctx, entityType, entityIDs)
	if err != nil {
		respondError(c, err, "failed to get thread analytics")
		return
	}
	total, err := h.feedback.GetTotalOpenThreads(ctx, entityType, entityIDs)
	if err != nil {
		respondError(c, err, "failed to get open thread total")
		return
	}
	c.JSON(http.StatusOK, dto.AnalyticsResponse{Analytics: analytics, TotalOpenThreads: total})
}

func messageIDParam(c *gin.Context) (int, bool) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil || messageID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id must be a non-negative integer"})
		return 0, false
	}
	return messageID, true
}
