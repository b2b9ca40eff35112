package api

import (
	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/handlers"
)

func registerTrackingRoutes(api *gin.RouterGroup, handler *handlers.TrackingHandler, uploadLimit gin.HandlerFunc) {
	tracking := api.Group("/tracking")
	{
		tracking.POST("/start-chat", handler.StartChat)
		tracking.POST("/end-chat", handler.EndChat)
		tracking.POST("/update-speaking-time", uploadLimit, handler.UpdateSpeakingTime)
		tracking.POST("/message", handler.RecordMessage)
		tracking.GET("/session/:sessionId/speaking-time", handler.SessionSpeakingTime)
		tracking.GET("/analytics/:userId", handler.Analytics)
	}
}
