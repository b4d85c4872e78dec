package admin_handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers/auth"
)

func InitAdminRouters(e *gin.Engine, h *Handler) {
	group := e.Group("/student", auth.AdminAuth(h.store))
	{
		group.GET("", h.ListStudents)
		group.POST("", h.CreateStudents)
		group.DELETE("", h.DeleteStudents)

		group.POST("/codespace", h.BatchStartCodespaces)
		group.DELETE("/codespace", h.BatchStopCodespaces)
		group.GET("/codespace/info/:sid", h.GetCodespaceInfo)
		group.GET("/codespace/logs/:sid", h.GetCodespaceLogs)
		group.PUT("/codespace/quota/:sid", h.SetTimeQuota)
		group.GET("/codespace/:sid", h.EnterCodespace)
		group.POST("/codespace/:sid", h.StartCodespace)
		group.DELETE("/codespace/:sid", h.StopCodespace)

		group.GET("/:sid", h.GetStudent)
	}

	keyGroup := e.Group("/api-key", auth.AdminAuth(h.store))
	{
		keyGroup.PUT("", h.SetAdminAPIKey)
	}
}
