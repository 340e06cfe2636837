package router

import (
	"github.com/gin-gonic/gin"

	"ergon.app/erp/internal/http/handler"
)

func JobRouter(rg *gin.RouterGroup, h *handler.JobHandler) {
	rg.POST("", h.Submit)
	rg.GET("", h.List)
	rg.POST("/cron", h.ScheduleCron)
	rg.POST("/interval", h.ScheduleInterval)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Delete)
	rg.POST("/:id/cancel", h.Cancel)
	rg.POST("/:id/retry", h.Retry)
	rg.GET("/:id/executions", h.ListExecutions)
}

func JobScheduleRouter(rg *gin.RouterGroup, h *handler.JobScheduleHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/enable", h.Enable)
	rg.POST("/:id/disable", h.Disable)
	rg.DELETE("/:id", h.Delete)
}
