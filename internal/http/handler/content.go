package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"threadline.app/feedback/internal/http/dto"
	"threadline.app/feedback/internal/service"
)

type ContentHandler struct {
	content service.ContentService
}

func NewContentHandler(content service.ContentService) *ContentHandler {
	return &ContentHandler{content: content}
}

func (h *ContentHandler) Create(c *gin.Context) {
	var req dto.CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entity := req.ToEntity()
	if err := h.content.CreateEntity(c.Request.Context(), entity); err != nil {
		respondError(c, err, "failed to create entity")
		return
	}
	c.JSON(http.StatusCreated, entity)
}

func (h *ContentHandler) Get(c *gin.Context) {
	entity, err := h.content.GetEntity(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"))
	if err != nil {
		respondError(c, err, "failed to get entity")
		return
	}
	c.JSON(http.StatusOK, entity)
}
