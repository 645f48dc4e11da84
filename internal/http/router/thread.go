package router

import (
	"github.com/gin-gonic/gin"

	"threadline.app/feedback/internal/http/handler"
	"threadline.app/feedback/internal/http/middleware"
)

// ThreadRouter sets up thread routes. Posting threads and messages is open
// to anonymous learners; read state and summaries belong to the actor.
func ThreadRouter(rg *gin.RouterGroup, h *handler.FeedbackHandler, sh *handler.SuggestionHandler) {
	rg.POST("", h.CreateThread)
	rg.GET("/:thread_id", h.GetThread)
	rg.GET("/:thread_id/messages", h.ListMessages)
	rg.POST("/:thread_id/messages", h.CreateMessage)
	rg.GET("/:thread_id/messages/:message_id", h.GetMessage)
	rg.GET("/:thread_id/suggestion", sh.GetByThread)

	actor := rg.Group("")
	actor.Use(middleware.RequireActor())
	{
		actor.POST("/summaries", h.Summaries)
		actor.POST("/:thread_id/read", h.MarkRead)
		actor.DELETE("/:thread_id/messages/:message_id", h.DeleteMessage)
	}
}

func EntityRouter(rg *gin.RouterGroup, h *handler.ContentHandler, fh *handler.FeedbackHandler) {
	rg.GET("/:entity_type/:entity_id", h.Get)
	rg.GET("/:entity_type/:entity_id/threads", fh.ListThreads)

	actor := rg.Group("")
	actor.Use(middleware.RequireActor())
	actor.POST("", h.Create)
}
