package service

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/common/id"
	"ergon.app/erp/internal/model"
)

type CreateWorkflowParams struct {
	// Code is generated when empty.
	Code             string
	Name             string
	Description      *string
	DocumentType     string
	ApprovalType     model.ApprovalType
	MinAmount        *int64
	MaxAmount        *int64
	AutoApproveBelow *int64
	EscalationHours  *int

	NotifyRequester   bool
	NotifyApprover    bool
	AllowDelegation   bool
	AllowReassignment bool
	RequireComments   bool

	Levels    []model.ApprovalLevel
	Status    model.Status
	CreatedBy *uuid.UUID
}

// UpdateWorkflowParams is a patch: nil fields are left unchanged.
type UpdateWorkflowParams struct {
	ExpectedVersion  *int64
	Name             *string
	Description      *string
	MinAmount        *int64
	MaxAmount        *int64
	AutoApproveBelow *int64
	EscalationHours  *int

	NotifyRequester   *bool
	NotifyApprover    *bool
	AllowDelegation   *bool
	AllowReassignment *bool
	RequireComments   *bool

	ApprovalType *model.ApprovalType
	Levels       []model.ApprovalLevel
	UpdatedBy    *uuid.UUID
}

type ApprovalWorkflowService interface {
	Create(ctx context.Context, params CreateWorkflowParams) (*model.ApprovalWorkflow, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ApprovalWorkflow, error)
	GetByCode(ctx context.Context, code string) (*model.ApprovalWorkflow, error)
	List(ctx context.Context, filter model.WorkflowFilter, page model.Pagination) (model.Paginated[model.ApprovalWorkflow], error)
	Update(ctx context.Context, id uuid.UUID, params UpdateWorkflowParams) (*model.ApprovalWorkflow, error)
	Publish(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ApprovalWorkflow, error)
	Pause(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ApprovalWorkflow, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type approvalWorkflowService struct {
	txRunner TxRunner
	opts     Options
}

func NewApprovalWorkflowService(txRunner TxRunner, opts Options) ApprovalWorkflowService {
	return &approvalWorkflowService{txRunner: txRunner, opts: opts.withDefaults()}
}

func (s *approvalWorkflowService) Create(ctx context.Context, params CreateWorkflowParams) (*model.ApprovalWorkflow, error) {
	code := strings.TrimSpace(params.Code)
	if code == "" {
		code = "WF-" + strconv.FormatInt(id.Sequence(), 10)
	}
	approvalType := params.ApprovalType
	if approvalType == "" {
		approvalType = model.ApprovalTypeSequential
	}
	status := params.Status
	if status == "" {
		status = model.StatusActive
	}

	wf := &model.ApprovalWorkflow{
		Audit:             model.NewAudit(s.opts.now(), params.CreatedBy),
		Code:              code,
		Name:              strings.TrimSpace(params.Name),
		Description:       params.Description,
		DocumentType:      strings.TrimSpace(params.DocumentType),
		ApprovalType:      approvalType,
		MinAmount:         params.MinAmount,
		MaxAmount:         params.MaxAmount,
		AutoApproveBelow:  params.AutoApproveBelow,
		EscalationHours:   params.EscalationHours,
		NotifyRequester:   params.NotifyRequester,
		NotifyApprover:    params.NotifyApprover,
		AllowDelegation:   params.AllowDelegation,
		AllowReassignment: params.AllowReassignment,
		RequireComments:   params.RequireComments,
		Levels:            normalizeLevels(params.Levels),
		Version:           1,
		Status:            status,
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.ApprovalWorkflows().Create(ctx, wf)
	}); err != nil {
		return nil, fmt.Errorf("creating workflow %q: %w", code, err)
	}

	slog.InfoContext(ctx, "approval workflow created",
		"workflow_id", wf.ID,
		"code", wf.Code,
		"document_type", wf.DocumentType,
		"approval_type", wf.ApprovalType,
		"levels", len(wf.Levels))
	return wf, nil
}

func (s *approvalWorkflowService) Get(ctx context.Context, id uuid.UUID) (*model.ApprovalWorkflow, error) {
	var wf *model.ApprovalWorkflow
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		wf, err = stores.ApprovalWorkflows().GetByID(ctx, id)
		return err
	})
	return wf, err
}

func (s *approvalWorkflowService) GetByCode(ctx context.Context, code string) (*model.ApprovalWorkflow, error) {
	var wf *model.ApprovalWorkflow
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		wf, err = stores.ApprovalWorkflows().GetByCode(ctx, strings.TrimSpace(code))
		return err
	})
	return wf, err
}

func (s *approvalWorkflowService) List(ctx context.Context, filter model.WorkflowFilter, page model.Pagination) (model.Paginated[model.ApprovalWorkflow], error) {
	page = page.Normalize(s.opts.MaxPageSize)
	var result model.Paginated[model.ApprovalWorkflow]
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		result, err = stores.ApprovalWorkflows().List(ctx, filter, page)
		return err
	})
	return result, err
}

func (s *approvalWorkflowService) Update(ctx context.Context, id uuid.UUID, params UpdateWorkflowParams) (*model.ApprovalWorkflow, error) {
	var wf *model.ApprovalWorkflow
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		wf, err = stores.ApprovalWorkflows().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if params.ExpectedVersion != nil && *params.ExpectedVersion != wf.Version {
			return apperr.Conflict("workflow %s is at version %d, not %d", wf.Code, wf.Version, *params.ExpectedVersion)
		}

		// Levels and approval type decide how open requests are routed.
		var levels []model.ApprovalLevel
		if params.Levels != nil {
			levels = normalizeLevels(params.Levels)
		}
		levelsChanged := levels != nil && !reflect.DeepEqual(levels, wf.Levels)
		typeChanged := params.ApprovalType != nil && *params.ApprovalType != wf.ApprovalType
		if levelsChanged || typeChanged {
			open, err := stores.ApprovalWorkflows().CountRequests(ctx, wf.ID, model.OpenApprovalStatuses...)
			if err != nil {
				return err
			}
			if open > 0 {
				return apperr.Conflict("workflow %s has %d open requests; its levels and approval type cannot change", wf.Code, open)
			}
		}
		if levelsChanged {
			wf.Levels = levels
		}
		applyWorkflowPatch(wf, params)
		if err := wf.Validate(); err != nil {
			return err
		}

		wf.Touch(s.opts.now(), params.UpdatedBy)
		return stores.ApprovalWorkflows().Update(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "approval workflow updated",
		"workflow_id", wf.ID,
		"code", wf.Code,
		"version", wf.Version)
	return wf, nil
}

func (s *approvalWorkflowService) Publish(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ApprovalWorkflow, error) {
	return s.setStatus(ctx, id, model.StatusActive, actor)
}

func (s *approvalWorkflowService) Pause(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ApprovalWorkflow, error) {
	return s.setStatus(ctx, id, model.StatusInactive, actor)
}

func (s *approvalWorkflowService) setStatus(ctx context.Context, id uuid.UUID, status model.Status, actor *uuid.UUID) (*model.ApprovalWorkflow, error) {
	var wf *model.ApprovalWorkflow
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		wf, err = stores.ApprovalWorkflows().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if wf.Status == status {
			return nil
		}
		wf.Status = status
		wf.Touch(s.opts.now(), actor)
		return stores.ApprovalWorkflows().Update(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "approval workflow status changed", "workflow_id", wf.ID, "status", wf.Status)
	return wf, nil
}

func (s *approvalWorkflowService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		wf, err := stores.ApprovalWorkflows().GetByID(ctx, id)
		if err != nil {
			return err
		}
		n, err := stores.ApprovalWorkflows().CountRequests(ctx, wf.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("workflow %s is referenced by %d requests; pause it instead", wf.Code, n)
		}
		return stores.ApprovalWorkflows().Delete(ctx, id)
	})
}

func applyWorkflowPatch(wf *model.ApprovalWorkflow, p UpdateWorkflowParams) {
	if p.Name != nil {
		wf.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		wf.Description = p.Description
	}
	if p.MinAmount != nil {
		wf.MinAmount = p.MinAmount
	}
	if p.MaxAmount != nil {
		wf.MaxAmount = p.MaxAmount
	}
	if p.AutoApproveBelow != nil {
		wf.AutoApproveBelow = p.AutoApproveBelow
	}
	if p.EscalationHours != nil {
		wf.EscalationHours = p.EscalationHours
	}
	if p.NotifyRequester != nil {
		wf.NotifyRequester = *p.NotifyRequester
	}
	if p.NotifyApprover != nil {
		wf.NotifyApprover = *p.NotifyApprover
	}
	if p.AllowDelegation != nil {
		wf.AllowDelegation = *p.AllowDelegation
	}
	if p.AllowReassignment != nil {
		wf.AllowReassignment = *p.AllowReassignment
	}
	if p.RequireComments != nil {
		wf.RequireComments = *p.RequireComments
	}
	if p.ApprovalType != nil {
		wf.ApprovalType = *p.ApprovalType
	}
}

// normalizeLevels fills defaults the callers commonly omit.
func normalizeLevels(levels []model.ApprovalLevel) []model.ApprovalLevel {
	out := make([]model.ApprovalLevel, len(levels))
	for i, l := range levels {
		l.Name = strings.TrimSpace(l.Name)
		if l.ApproverType == "" {
			l.ApproverType = model.ApproverTypeSpecificUser
		}
		if l.MinApprovers == 0 {
			l.MinApprovers = 1
		}
		if l.ApproverIDs == nil {
			l.ApproverIDs = []uuid.UUID{}
		}
		out[i] = l
	}
	return out
}
