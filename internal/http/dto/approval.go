package dto

import (
	"github.com/google/uuid"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

type CreateWorkflowRequest struct {
	Code             string             `json:"code,omitempty" binding:"max=64"`
	Name             string             `json:"name" binding:"required,max=255"`
	Description      *string            `json:"description,omitempty"`
	DocumentType     string             `json:"document_type" binding:"required,max=100"`
	ApprovalType     model.ApprovalType `json:"approval_type,omitempty"`
	MinAmount        *int64             `json:"min_amount,omitempty"`
	MaxAmount        *int64             `json:"max_amount,omitempty"`
	AutoApproveBelow *int64             `json:"auto_approve_below,omitempty"`
	EscalationHours  *int               `json:"escalation_hours,omitempty" binding:"omitempty,min=1"`

	NotifyRequester   bool `json:"notify_requester"`
	NotifyApprover    bool `json:"notify_approver"`
	AllowDelegation   bool `json:"allow_delegation"`
	AllowReassignment bool `json:"allow_reassignment"`
	RequireComments   bool `json:"require_comments"`

	Levels []model.ApprovalLevel `json:"levels" binding:"required,min=1"`
	Status model.Status          `json:"status,omitempty"`
}

func (r CreateWorkflowRequest) Params(actor *uuid.UUID) service.CreateWorkflowParams {
	return service.CreateWorkflowParams{
		Code:              r.Code,
		Name:              r.Name,
		Description:       r.Description,
		DocumentType:      r.DocumentType,
		ApprovalType:      r.ApprovalType,
		MinAmount:         r.MinAmount,
		MaxAmount:         r.MaxAmount,
		AutoApproveBelow:  r.AutoApproveBelow,
		EscalationHours:   r.EscalationHours,
		NotifyRequester:   r.NotifyRequester,
		NotifyApprover:    r.NotifyApprover,
		AllowDelegation:   r.AllowDelegation,
		AllowReassignment: r.AllowReassignment,
		RequireComments:   r.RequireComments,
		Levels:            r.Levels,
		Status:            r.Status,
		CreatedBy:         actor,
	}
}

// UpdateWorkflowRequest is a partial update; absent fields keep their value.
type UpdateWorkflowRequest struct {
	Version          *int64  `json:"version,omitempty"`
	Name             *string `json:"name,omitempty"`
	Description      *string `json:"description,omitempty"`
	MinAmount        *int64  `json:"min_amount,omitempty"`
	MaxAmount        *int64  `json:"max_amount,omitempty"`
	AutoApproveBelow *int64  `json:"auto_approve_below,omitempty"`
	EscalationHours  *int    `json:"escalation_hours,omitempty" binding:"omitempty,min=1"`

	NotifyRequester   *bool `json:"notify_requester,omitempty"`
	NotifyApprover    *bool `json:"notify_approver,omitempty"`
	AllowDelegation   *bool `json:"allow_delegation,omitempty"`
	AllowReassignment *bool `json:"allow_reassignment,omitempty"`
	RequireComments   *bool `json:"require_comments,omitempty"`

	ApprovalType *model.ApprovalType   `json:"approval_type,omitempty"`
	Levels       []model.ApprovalLevel `json:"levels,omitempty"`
}

func (r UpdateWorkflowRequest) Params(actor *uuid.UUID) service.UpdateWorkflowParams {
	return service.UpdateWorkflowParams{
		ExpectedVersion:   r.Version,
		Name:              r.Name,
		Description:       r.Description,
		MinAmount:         r.MinAmount,
		MaxAmount:         r.MaxAmount,
		AutoApproveBelow:  r.AutoApproveBelow,
		EscalationHours:   r.EscalationHours,
		NotifyRequester:   r.NotifyRequester,
		NotifyApprover:    r.NotifyApprover,
		AllowDelegation:   r.AllowDelegation,
		AllowReassignment: r.AllowReassignment,
		RequireComments:   r.RequireComments,
		ApprovalType:      r.ApprovalType,
		Levels:            r.Levels,
		UpdatedBy:         actor,
	}
}

type ListWorkflowsQuery struct {
	model.Pagination
	DocumentType string `form:"document_type"`
	Status       string `form:"status"`
}

func (q ListWorkflowsQuery) Filter() model.WorkflowFilter {
	var f model.WorkflowFilter
	if q.DocumentType != "" {
		f.DocumentType = &q.DocumentType
	}
	if q.Status != "" {
		s := model.ParseStatus(q.Status)
		f.Status = &s
	}
	return f
}

type SubmitApprovalRequest struct {
	DocumentType   string         `json:"document_type" binding:"required,max=100"`
	DocumentID     uuid.UUID      `json:"document_id"`
	DocumentNumber string         `json:"document_number" binding:"required,max=100"`
	Amount         int64          `json:"amount"`
	Currency       model.Currency `json:"currency,omitempty"`
	Notes          *string        `json:"notes,omitempty"`
}

func (r SubmitApprovalRequest) Params(requester uuid.UUID) service.SubmitApprovalParams {
	return service.SubmitApprovalParams{
		DocumentType:   r.DocumentType,
		DocumentID:     r.DocumentID,
		DocumentNumber: r.DocumentNumber,
		RequestedBy:    requester,
		Amount:         r.Amount,
		Currency:       r.Currency,
		Notes:          r.Notes,
	}
}

type ListRequestsQuery struct {
	model.Pagination
	Status       string `form:"status"`
	WorkflowID   string `form:"workflow_id"`
	RequestedBy  string `form:"requested_by"`
	DocumentType string `form:"document_type"`
}

func (q ListRequestsQuery) Filter() (model.RequestFilter, error) {
	var f model.RequestFilter
	if q.Status != "" {
		s := model.ParseApprovalRequestStatus(q.Status)
		f.Status = &s
	}
	if q.WorkflowID != "" {
		id, err := uuid.Parse(q.WorkflowID)
		if err != nil {
			return f, apperr.Validation("workflow_id must be a UUID")
		}
		f.WorkflowID = &id
	}
	if q.RequestedBy != "" {
		id, err := uuid.Parse(q.RequestedBy)
		if err != nil {
			return f, apperr.Validation("requested_by must be a UUID")
		}
		f.RequestedBy = &id
	}
	if q.DocumentType != "" {
		f.DocumentType = &q.DocumentType
	}
	return f, nil
}

type ApproveRequest struct {
	Comments *string `json:"comments,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type DelegateRequest struct {
	DelegateTo uuid.UUID `json:"delegate_to"`
	Comments   *string   `json:"comments,omitempty"`
}

type RequestInfoRequest struct {
	Question string `json:"question"`
}

type CancelApprovalRequest struct {
	Reason *string `json:"reason,omitempty"`
}
