package student_handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers/auth"
)

func InitStudentRouters(e *gin.Engine, h *Handler) {
	e.POST("/login", h.Login)

	group := e.Group("/", auth.StudentAuth(h.store, h.codec))
	{
		group.GET("user", h.GetProfile)
		group.PUT("user", h.UpdateProfile)
		group.PATCH("user", h.ResetPassword)

		group.GET("codespace", h.EnterCodespace)
		group.POST("codespace", h.StartCodespace)
		group.DELETE("codespace", h.StopCodespace)
		group.GET("codespace/info", h.GetCodespaceInfo)
		group.POST("codespace/keepalive", h.KeepAlive)
	}
}
