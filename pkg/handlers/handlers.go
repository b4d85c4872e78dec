// Package handlers assembles the two gin engines. The admin engine also
// exposes /metrics; both serve /healthz and an optional static site.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Nickchen-PUSH/YatCC-SE/pkg/apikey"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/controller"
	admin_handlers "github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers/admin-handlers"
	student_handlers "github.com/Nickchen-PUSH/YatCC-SE/pkg/handlers/student-handlers"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/metrics"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/store"
	"github.com/Nickchen-PUSH/YatCC-SE/pkg/utils"
)

func NewAdminEngine(st *store.Store, ctrl *controller.Controller, staticDir string) *gin.Engine {
	e := newEngine(st, staticDir)
	e.GET("/metrics", gin.WrapH(metrics.Handler()))
	admin_handlers.InitAdminRouters(e, admin_handlers.NewHandler(st, ctrl))
	return e
}

func NewStudentEngine(st *store.Store, ctrl *controller.Controller, codec *apikey.Codec, staticDir string) *gin.Engine {
	e := newEngine(st, staticDir)
	student_handlers.InitStudentRouters(e, student_handlers.NewHandler(st, ctrl, codec))
	return e
}

func newEngine(st *store.Store, staticDir string) *gin.Engine {
	e := gin.New()
	e.Use(utils.Logger(), gin.Recovery())
	e.GET("/healthz", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "store unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	if staticDir != "" {
		e.Static("/static", staticDir)
		e.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/static/index.html")
		})
	}
	return e
}
