package api

import (
	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionHandler) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("/save", handler.Save)
		sessions.GET("/weekly/:userId", handler.Weekly)
		sessions.GET("/check/:userId", handler.CheckActive)
		sessions.GET("/analytics/:userId", handler.Analytics)
	}
}
