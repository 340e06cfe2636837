package router

import (
	"github.com/gin-gonic/gin"

	"ergon.app/erp/internal/http/handler"
	"ergon.app/erp/internal/http/middleware"
	"ergon.app/erp/internal/service"
)

type RouterConfig struct {
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Actor(cfg.AdminAPIKey))
	{
		jobHandler := handler.NewJobHandler(services.Jobs())
		JobRouter(v1.Group("/jobs"), jobHandler)

		scheduleHandler := handler.NewJobScheduleHandler(services.JobSchedules())
		JobScheduleRouter(v1.Group("/job-schedules"), scheduleHandler)

		workflowHandler := handler.NewApprovalWorkflowHandler(services.ApprovalWorkflows())
		requestHandler := handler.NewApprovalRequestHandler(services.ApprovalRequests())
		ApprovalRouter(v1.Group("/approvals"), workflowHandler, requestHandler, cfg.AdminAPIKey)
	}
}
