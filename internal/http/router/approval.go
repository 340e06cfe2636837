package router

import (
	"github.com/gin-gonic/gin"

	"ergon.app/erp/internal/http/handler"
	"ergon.app/erp/internal/http/middleware"
)

// ApprovalRouter sets up approval routes
// - workflow reads and every request route are open to any actor
// - workflow changes require the admin API key
func ApprovalRouter(rg *gin.RouterGroup, wf *handler.ApprovalWorkflowHandler, req *handler.ApprovalRequestHandler, adminAPIKey string) {
	workflows := rg.Group("/workflows")
	{
		workflows.GET("", wf.List)
		workflows.GET("/:id", wf.Get)
		workflows.GET("/by-code/:code", wf.GetByCode)

		admin := workflows.Group("")
		admin.Use(middleware.RequireAdminAPIKey(adminAPIKey))
		{
			admin.POST("", wf.Create)
			admin.PATCH("/:id", wf.Update)
			admin.DELETE("/:id", wf.Delete)
			admin.POST("/:id/publish", wf.Publish)
			admin.POST("/:id/pause", wf.Pause)
		}
	}

	requests := rg.Group("/requests")
	requests.Use(middleware.RequireActor())
	{
		requests.POST("", req.Submit)
		requests.GET("", req.List)
		requests.GET("/:id", req.Get)
		requests.GET("/:id/escalations", req.Escalations)
		requests.POST("/:id/approve", req.Approve)
		requests.POST("/:id/reject", req.Reject)
		requests.POST("/:id/delegate", req.Delegate)
		requests.POST("/:id/request-info", req.RequestInfo)
		requests.POST("/:id/cancel", req.Cancel)
	}

	pending := rg.Group("/pending")
	pending.Use(middleware.RequireActor())
	{
		pending.GET("", req.Pending)
		pending.GET("/summary", req.PendingSummary)
	}
}
