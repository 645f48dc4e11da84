package router

import (
	"github.com/gin-gonic/gin"

	"threadline.app/feedback/internal/http/handler"
	"threadline.app/feedback/internal/http/middleware"
)

func SuggestionRouter(rg *gin.RouterGroup, h *handler.SuggestionHandler) {
	rg.GET("", h.List)
	rg.GET("/schema", h.Schema)
	rg.GET("/:suggestion_id", h.Get)

	actor := rg.Group("")
	actor.Use(middleware.RequireActor())
	{
		actor.POST("", h.Create)
		actor.POST("/:suggestion_id/validate", h.Validate)
		actor.POST("/:suggestion_id/accept", h.Accept)
		actor.POST("/:suggestion_id/reject", h.Reject)
	}
}
