package handler

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"threadline.app/feedback/internal/http/dto"
	"threadline.app/feedback/internal/http/middleware"
	"threadline.app/feedback/internal/model"
	"threadline.app/feedback/internal/service"
	"threadline.app/feedback/internal/store"
)

type SuggestionHandler struct {
	suggestions service.SuggestionService
	schema      func() *jsonschema.Schema
}

func NewSuggestionHandler(suggestions service.SuggestionService) *SuggestionHandler {
	return &SuggestionHandler{
		suggestions: suggestions,
		schema:      sync.OnceValue(dto.CreateSuggestionSchema),
	}
}

func (h *SuggestionHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateSuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	suggestion, err := h.suggestions.Create(ctx, service.CreateSuggestionParams{
		SuggestionType:     req.SuggestionType,
		EntityType:         req.EntityType,
		SubType:            req.SubType,
		CustomizationArgs:  req.CustomizationArgs,
		AuthorID:           *middleware.ActorID(ctx),
		Payload:            req.Payload,
		Description:        req.Description,
		FinalReviewerID:    req.FinalReviewerID,
		AssignedReviewerID: req.AssignedReviewerID,
	})
	if err != nil {
		respondError(c, err, "failed to create suggestion")
		return
	}

	c.JSON(http.StatusCreated, suggestion)
}

func (h *SuggestionHandler) Get(c *gin.Context) {
	suggestion, err := h.suggestions.Get(c.Request.Context(), c.Param("suggestion_id"))
	if err != nil {
		respondError(c, err, "failed to get suggestion")
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

func (h *SuggestionHandler) GetByThread(c *gin.Context) {
	suggestion, err := h.suggestions.GetByThreadID(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		respondError(c, err, "failed to get suggestion")
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

// List filters suggestions by any combination of author_id, reviewer_id,
// assigned_reviewer_id, target_id, status and type.
func (h *SuggestionHandler) List(c *gin.Context) {
	var filter store.SuggestionFilter
	if v, ok := c.GetQuery("author_id"); ok {
		filter.AuthorID = &v
	}
	if v, ok := c.GetQuery("reviewer_id"); ok {
		filter.FinalReviewerID = &v
	}
	if v, ok := c.GetQuery("assigned_reviewer_id"); ok {
		filter.AssignedReviewerID = &v
	}
	if v, ok := c.GetQuery("target_id"); ok {
		filter.TargetID = &v
	}
	if v, ok := c.GetQuery("status"); ok {
		status := model.SuggestionStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown suggestion status " + v})
			return
		}
		filter.Status = &status
	}
	if v, ok := c.GetQuery("type"); ok {
		t := model.SuggestionType(v)
		if !t.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown suggestion type " + v})
			return
		}
		filter.Type = &t
	}

	suggestions, err := h.suggestions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "failed to list suggestions")
		return
	}
	if suggestions == nil {
		suggestions = []model.Suggestion{}
	}
	c.JSON(http.StatusOK, dto.SuggestionListResponse{Suggestions: suggestions})
}

// Validate rechecks an in-review suggestion against its target, marking it
// invalid when the target no longer supports it.
func (h *SuggestionHandler) Validate(c *gin.Context) {
	ctx := c.Request.Context()
	suggestionID := c.Param("suggestion_id")

	valid, err := h.suggestions.IsValid(ctx, suggestionID, *middleware.ActorID(ctx))
	if err != nil {
		respondError(c, err, "failed to validate suggestion")
		return
	}
	c.JSON(http.StatusOK, dto.ValidityResponse{SuggestionID: suggestionID, Valid: valid})
}

func (h *SuggestionHandler) Accept(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AcceptSuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	suggestion, err := h.suggestions.Accept(ctx, c.Param("suggestion_id"), *middleware.ActorID(ctx), req.CommitMessage)
	if err != nil {
		respondError(c, err, "failed to accept suggestion")
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

func (h *SuggestionHandler) Reject(c *gin.Context) {
	ctx := c.Request.Context()

	suggestion, err := h.suggestions.Reject(ctx, c.Param("suggestion_id"), *middleware.ActorID(ctx))
	if err != nil {
		respondError(c, err, "failed to reject suggestion")
		return
	}
	c.JSON(http.StatusOK, suggestion)
}

func (h *SuggestionHandler) Schema(c *gin.Context) {
	c.JSON(http.StatusOK, h.schema())
}

func (h *SuggestionHandler) UserScores(c *gin.Context) {
	userID := c.Param("user_id")
	scores, err := h.suggestions.GetUserScores(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "failed to get scores")
		return
	}
	if scores == nil {
		scores = []model.ContributionScore{}
	}
	c.JSON(http.StatusOK, dto.ScoresResponse{UserID: userID, Scores: scores})
}
