package router

import (
	"github.com/gin-gonic/gin"

	"threadline.app/feedback/internal/http/handler"
	"threadline.app/feedback/internal/http/middleware"
	"threadline.app/feedback/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Actor())
	{
		feedbackHandler := handler.NewFeedbackHandler(services.Feedback())
		suggestionHandler := handler.NewSuggestionHandler(services.Suggestions())
		contentHandler := handler.NewContentHandler(services.Content())

		ThreadRouter(v1.Group("/threads"), feedbackHandler, suggestionHandler)
		v1.GET("/analytics", feedbackHandler.Analytics)
		EntityRouter(v1.Group("/entities"), contentHandler, feedbackHandler)
		SuggestionRouter(v1.Group("/suggestions"), suggestionHandler)
		v1.GET("/users/:user_id/scores", suggestionHandler.UserScores)
	}
}
