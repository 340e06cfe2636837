package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ergon.app/erp/internal/http/dto"
	"ergon.app/erp/internal/service"
)

type ApprovalWorkflowHandler struct {
	workflows service.ApprovalWorkflowService
}

func NewApprovalWorkflowHandler(workflows service.ApprovalWorkflowService) *ApprovalWorkflowHandler {
	return &ApprovalWorkflowHandler{workflows: workflows}
}

func (h *ApprovalWorkflowHandler) Create(c *gin.Context) {
	var req dto.CreateWorkflowRequest
	if !bindJSON(c, &req) {
		return
	}

	wf, err := h.workflows.Create(c.Request.Context(), req.Params(actorID(c)))
	if err != nil {
		respondError(c, err, "create approval workflow")
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (h *ApprovalWorkflowHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	wf, err := h.workflows.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get approval workflow")
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *ApprovalWorkflowHandler) GetByCode(c *gin.Context) {
	wf, err := h.workflows.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err, "get approval workflow")
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *ApprovalWorkflowHandler) List(c *gin.Context) {
	var q dto.ListWorkflowsQuery
	if !bindQuery(c, &q) {
		return
	}

	page, err := h.workflows.List(c.Request.Context(), q.Filter(), q.Pagination)
	if err != nil {
		respondError(c, err, "list approval workflows")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ApprovalWorkflowHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.UpdateWorkflowRequest
	if !bindJSON(c, &req) {
		return
	}

	wf, err := h.workflows.Update(c.Request.Context(), id, req.Params(actorID(c)))
	if err != nil {
		respondError(c, err, "update approval workflow")
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *ApprovalWorkflowHandler) Publish(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	wf, err := h.workflows.Publish(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err, "publish approval workflow")
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *ApprovalWorkflowHandler) Pause(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	wf, err := h.workflows.Pause(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err, "pause approval workflow")
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *ApprovalWorkflowHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.workflows.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete approval workflow")
		return
	}
	c.Status(http.StatusNoContent)
}
