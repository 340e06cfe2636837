package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ergon.app/erp/internal/http/dto"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

type ApprovalRequestHandler struct {
	requests service.ApprovalRequestService
}

func NewApprovalRequestHandler(requests service.ApprovalRequestService) *ApprovalRequestHandler {
	return &ApprovalRequestHandler{requests: requests}
}

// Submit opens an approval request on behalf of the calling actor.
func (h *ApprovalRequestHandler) Submit(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.SubmitApprovalRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	ar, err := h.requests.Submit(ctx, req.Params(actor.ID))
	if err != nil {
		respondError(c, err, "submit approval request")
		return
	}

	slog.InfoContext(ctx, "approval request submitted via API",
		"request_number", ar.RequestNumber,
		"status", ar.Status,
	)
	c.JSON(http.StatusCreated, ar)
}

// Get looks a request up by id, or by request number when the path is not a UUID.
func (h *ApprovalRequestHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		ar  *model.ApprovalRequest
		err error
	)
	if id, perr := uuid.Parse(c.Param("id")); perr == nil {
		ar, err = h.requests.Get(ctx, id)
	} else {
		ar, err = h.requests.GetByNumber(ctx, c.Param("id"))
	}
	if err != nil {
		respondError(c, err, "get approval request")
		return
	}
	c.JSON(http.StatusOK, ar)
}

func (h *ApprovalRequestHandler) List(c *gin.Context) {
	var q dto.ListRequestsQuery
	if !bindQuery(c, &q) {
		return
	}
	filter, err := q.Filter()
	if err != nil {
		respondError(c, err, "list approval requests")
		return
	}

	page, err := h.requests.List(c.Request.Context(), filter, q.Pagination)
	if err != nil {
		respondError(c, err, "list approval requests")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ApprovalRequestHandler) Approve(c *gin.Context) {
	id, actor, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.ApproveRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	ar, err := h.requests.Approve(c.Request.Context(), id, actor.ID, req.Comments)
	if err != nil {
		respondError(c, err, "approve request")
		return
	}
	c.JSON(http.StatusOK, ar)
}

func (h *ApprovalRequestHandler) Reject(c *gin.Context) {
	id, actor, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.RejectRequest
	if !bindJSON(c, &req) {
		return
	}

	ar, err := h.requests.Reject(c.Request.Context(), id, actor.ID, req.Reason)
	if err != nil {
		respondError(c, err, "reject request")
		return
	}
	c.JSON(http.StatusOK, ar)
}

func (h *ApprovalRequestHandler) Delegate(c *gin.Context) {
	id, actor, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.DelegateRequest
	if !bindJSON(c, &req) {
		return
	}

	ar, err := h.requests.Delegate(c.Request.Context(), id, actor.ID, req.DelegateTo, req.Comments)
	if err != nil {
		respondError(c, err, "delegate request")
		return
	}
	c.JSON(http.StatusOK, ar)
}

func (h *ApprovalRequestHandler) RequestInfo(c *gin.Context) {
	id, actor, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.RequestInfoRequest
	if !bindJSON(c, &req) {
		return
	}

	ar, err := h.requests.RequestInfo(c.Request.Context(), id, actor.ID, req.Question)
	if err != nil {
		respondError(c, err, "request information")
		return
	}
	c.JSON(http.StatusOK, ar)
}

func (h *ApprovalRequestHandler) Cancel(c *gin.Context) {
	id, actor, ok := h.target(c)
	if !ok {
		return
	}
	var req dto.CancelApprovalRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	ar, err := h.requests.Cancel(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		respondError(c, err, "cancel request")
		return
	}
	c.JSON(http.StatusOK, ar)
}

func (h *ApprovalRequestHandler) Escalations(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	escalations, err := h.requests.ListEscalations(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "list escalations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalations": escalations})
}

// Pending lists the requests waiting on the calling actor.
func (h *ApprovalRequestHandler) Pending(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var page model.Pagination
	if !bindQuery(c, &page) {
		return
	}

	result, err := h.requests.PendingForApprover(c.Request.Context(), actor.ID, page)
	if err != nil {
		respondError(c, err, "list pending approvals")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ApprovalRequestHandler) PendingSummary(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	summary, err := h.requests.PendingSummary(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, err, "summarize pending approvals")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ApprovalRequestHandler) target(c *gin.Context) (uuid.UUID, model.Actor, bool) {
	actor, ok := requireActor(c)
	if !ok {
		return uuid.Nil, model.Actor{}, false
	}
	id, ok := pathID(c)
	if !ok {
		return uuid.Nil, model.Actor{}, false
	}
	return id, actor, true
}
