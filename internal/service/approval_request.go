package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/common"
	"ergon.app/erp/common/apperr"
	"ergon.app/erp/common/id"
	"ergon.app/erp/common/logger"
	"ergon.app/erp/internal/model"
)

const (
	autoApproveComment  = "auto-approved below threshold"
	notificationHandler = "notification.send"
)

type SubmitApprovalParams struct {
	DocumentType   string
	DocumentID     uuid.UUID
	DocumentNumber string
	RequestedBy    uuid.UUID
	Amount         int64
	Currency       model.Currency
	Notes          *string
}

type ApprovalRequestService interface {
	Submit(ctx context.Context, params SubmitApprovalParams) (*model.ApprovalRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	GetByNumber(ctx context.Context, number string) (*model.ApprovalRequest, error)
	List(ctx context.Context, filter model.RequestFilter, page model.Pagination) (model.Paginated[model.ApprovalRequest], error)

	Approve(ctx context.Context, requestID, approverID uuid.UUID, comments *string) (*model.ApprovalRequest, error)
	// Reject terminates the request whatever level it is at.
	Reject(ctx context.Context, requestID, approverID uuid.UUID, reason string) (*model.ApprovalRequest, error)
	Delegate(ctx context.Context, requestID, approverID, delegateTo uuid.UUID, comments *string) (*model.ApprovalRequest, error)
	RequestInfo(ctx context.Context, requestID, approverID uuid.UUID, question string) (*model.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID uuid.UUID, actor model.Actor, reason *string) (*model.ApprovalRequest, error)

	PendingForApprover(ctx context.Context, approverID uuid.UUID, page model.Pagination) (model.Paginated[model.ApprovalRequest], error)
	PendingSummary(ctx context.Context, approverID uuid.UUID) (*model.PendingSummary, error)
	ListEscalations(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalEscalation, error)
	// EscalateOverdue escalates open requests past their due date and
	// returns how many were escalated.
	EscalateOverdue(ctx context.Context, limit int) (int, error)
}

type approvalRequestService struct {
	txRunner TxRunner
	opts     Options
}

func NewApprovalRequestService(txRunner TxRunner, opts Options) ApprovalRequestService {
	return &approvalRequestService{txRunner: txRunner, opts: opts.withDefaults()}
}

func (s *approvalRequestService) Submit(ctx context.Context, params SubmitApprovalParams) (*model.ApprovalRequest, error) {
	docType := strings.TrimSpace(params.DocumentType)
	if docType == "" {
		return nil, apperr.Validation("document type is required")
	}
	if strings.TrimSpace(params.DocumentNumber) == "" {
		return nil, apperr.Validation("document number is required")
	}
	if params.RequestedBy == uuid.Nil {
		return nil, apperr.Validation("requested_by is required")
	}
	if params.Amount < 0 {
		return nil, apperr.Validation("amount must not be negative")
	}
	currency := params.Currency
	if currency == "" {
		currency = model.CurrencyUSD
	}
	if !currency.Valid() {
		return nil, apperr.Validation("unknown currency %q", currency)
	}

	var (
		req      *model.ApprovalRequest
		notified bool
	)
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		wf, err := stores.ApprovalWorkflows().FindFor(ctx, docType, params.Amount)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Validation("no active approval workflow covers %s documents of amount %d", docType, params.Amount)
			}
			return err
		}

		now := s.opts.now()
		requester := params.RequestedBy
		req = &model.ApprovalRequest{
			Audit:          model.NewAudit(now, &requester),
			RequestNumber:  "APR-" + strconv.FormatInt(id.Sequence(), 10),
			WorkflowID:     wf.ID,
			DocumentType:   docType,
			DocumentID:     params.DocumentID,
			DocumentNumber: strings.TrimSpace(params.DocumentNumber),
			RequestedBy:    requester,
			RequestedAt:    now,
			Amount:         params.Amount,
			Currency:       currency,
			Notes:          params.Notes,
			Actions:        []model.ApprovalAction{},
		}

		if wf.AutoApproves(params.Amount) {
			system := model.SystemActorID
			comment := autoApproveComment
			req.Status = model.ApprovalStatusApproved
			req.ApprovedAt = &now
			req.ApprovedBy = &system
			req.Actions = append(req.Actions, model.ApprovalAction{
				ID:          uuid.New(),
				RequestID:   req.ID,
				Sequence:    1,
				LevelNumber: 0,
				ApproverID:  system,
				Action:      model.ApprovalActionApprove,
				Comments:    &comment,
				CreatedAt:   now,
			})
		} else {
			level := 1
			req.Status = model.ApprovalStatusPending
			req.CurrentLevel = &level
			req.DueDate = dueFor(wf, wf.Level(1), now)
		}

		if err := stores.ApprovalRequests().Create(ctx, req); err != nil {
			return err
		}

		if req.Status == model.ApprovalStatusApproved {
			notified, err = s.notifyOutcome(ctx, stores, wf, req, now)
			return err
		}
		notified, err = s.notifyApprovers(ctx, stores, wf, req, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submitting %s %s for approval: %w", docType, params.DocumentNumber, err)
	}

	slog.InfoContext(requestLogContext(ctx, req), "approval request submitted",
		"request_number", req.RequestNumber,
		"workflow_id", req.WorkflowID,
		"amount", req.Money().String(),
		"status", req.Status)
	s.wakeIf(ctx, notified)
	return req, nil
}

func (s *approvalRequestService) Get(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	var req *model.ApprovalRequest
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		req, err = stores.ApprovalRequests().GetByID(ctx, id)
		return err
	})
	return req, err
}

func (s *approvalRequestService) GetByNumber(ctx context.Context, number string) (*model.ApprovalRequest, error) {
	var req *model.ApprovalRequest
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		req, err = stores.ApprovalRequests().GetByNumber(ctx, strings.TrimSpace(number))
		return err
	})
	return req, err
}

func (s *approvalRequestService) List(ctx context.Context, filter model.RequestFilter, page model.Pagination) (model.Paginated[model.ApprovalRequest], error) {
	page = page.Normalize(s.opts.MaxPageSize)
	var result model.Paginated[model.ApprovalRequest]
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		result, err = stores.ApprovalRequests().List(ctx, filter, page)
		return err
	})
	return result, err
}

func (s *approvalRequestService) Approve(ctx context.Context, requestID, approverID uuid.UUID, comments *string) (*model.ApprovalRequest, error) {
	var (
		req      *model.ApprovalRequest
		notified bool
	)
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var (
			wf    *model.ApprovalWorkflow
			level *model.ApprovalLevel
			err   error
		)
		req, wf, level, err = s.loadOpen(ctx, stores, requestID)
		if err != nil {
			return err
		}
		if _, ok := eligibleAt(req, level, approverID); !ok {
			return apperr.Forbidden(fmt.Sprintf("user %s is not an approver of request %s at level %d",
				approverID, req.RequestNumber, level.LevelNumber))
		}
		if wf.RequireComments && blank(comments) {
			return apperr.Validation("workflow %s requires a comment on approval", wf.Code)
		}

		now := s.opts.now()
		if err := s.record(ctx, stores, req, level.LevelNumber, approverID, model.ApprovalActionApprove, comments, nil, now); err != nil {
			return err
		}

		if wf.ApprovalType == model.ApprovalTypeAnyApprover {
			s.finalizeApproved(req, approverID, now)
		} else if levelSatisfied(wf, req, level) {
			s.advance(req, wf, approverID, now)
		} else if req.Status == model.ApprovalStatusPending {
			req.Status = model.ApprovalStatusInProgress
		}

		req.Touch(now, &approverID)
		if err := stores.ApprovalRequests().Update(ctx, req); err != nil {
			return err
		}

		switch {
		case req.Status == model.ApprovalStatusApproved:
			notified, err = s.notifyOutcome(ctx, stores, wf, req, now)
		case *req.CurrentLevel != level.LevelNumber:
			notified, err = s.notifyApprovers(ctx, stores, wf, req, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(requestLogContext(ctx, req), "approval recorded",
		"approver_id", approverID,
		"status", req.Status,
		"current_level", req.CurrentLevel)
	s.wakeIf(ctx, notified)
	return req, nil
}

func (s *approvalRequestService) Reject(ctx context.Context, requestID, approverID uuid.UUID, reason string) (*model.ApprovalRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}

	var (
		req      *model.ApprovalRequest
		notified bool
	)
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var (
			wf    *model.ApprovalWorkflow
			level *model.ApprovalLevel
			err   error
		)
		req, wf, level, err = s.loadOpen(ctx, stores, requestID)
		if err != nil {
			return err
		}
		if _, ok := eligibleAt(req, level, approverID); !ok {
			return apperr.Forbidden(fmt.Sprintf("user %s is not an approver of request %s at level %d",
				approverID, req.RequestNumber, level.LevelNumber))
		}

		now := s.opts.now()
		if err := s.record(ctx, stores, req, level.LevelNumber, approverID, model.ApprovalActionReject, &reason, nil, now); err != nil {
			return err
		}

		req.Status = model.ApprovalStatusRejected
		req.RejectedAt = &now
		req.RejectedBy = &approverID
		req.RejectionReason = &reason
		req.CurrentLevel = nil
		req.DueDate = nil
		req.Touch(now, &approverID)
		if err := stores.ApprovalRequests().Update(ctx, req); err != nil {
			return err
		}

		notified, err = s.notifyOutcome(ctx, stores, wf, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(requestLogContext(ctx, req), "approval request rejected", "approver_id", approverID)
	s.wakeIf(ctx, notified)
	return req, nil
}

func (s *approvalRequestService) Delegate(ctx context.Context, requestID, approverID, delegateTo uuid.UUID, comments *string) (*model.ApprovalRequest, error) {
	if delegateTo == uuid.Nil {
		return nil, apperr.Validation("a delegate is required")
	}
	if delegateTo == approverID {
		return nil, apperr.Validation("cannot delegate to yourself")
	}

	var (
		req      *model.ApprovalRequest
		notified bool
	)
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var (
			wf    *model.ApprovalWorkflow
			level *model.ApprovalLevel
			err   error
		)
		req, wf, level, err = s.loadOpen(ctx, stores, requestID)
		if err != nil {
			return err
		}
		if !wf.AllowDelegation {
			return apperr.Validation("workflow %s does not allow delegation", wf.Code)
		}
		if _, ok := eligibleAt(req, level, approverID); !ok {
			return apperr.Forbidden(fmt.Sprintf("user %s is not an approver of request %s at level %d",
				approverID, req.RequestNumber, level.LevelNumber))
		}

		now := s.opts.now()
		if err := s.record(ctx, stores, req, level.LevelNumber, approverID, model.ApprovalActionDelegate, comments, &delegateTo, now); err != nil {
			return err
		}
		req.Touch(now, &approverID)
		if err := stores.ApprovalRequests().Update(ctx, req); err != nil {
			return err
		}

		if wf.NotifyApprover {
			notified = true
			return s.enqueueNotification(ctx, stores, now, model.Notification{
				Kind:        model.NotificationApprovalDelegated,
				RecipientID: delegateTo,
				LevelNumber: level.LevelNumber,
				Message:     fmt.Sprintf("%s delegated approval of %s to you", approverID, req.RequestNumber),
			}, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(requestLogContext(ctx, req), "approval delegated",
		"approver_id", approverID,
		"delegated_to", delegateTo)
	s.wakeIf(ctx, notified)
	return req, nil
}

func (s *approvalRequestService) RequestInfo(ctx context.Context, requestID, approverID uuid.UUID, question string) (*model.ApprovalRequest, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation("a question is required")
	}

	var (
		req      *model.ApprovalRequest
		notified bool
	)
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var (
			wf    *model.ApprovalWorkflow
			level *model.ApprovalLevel
			err   error
		)
		req, wf, level, err = s.loadOpen(ctx, stores, requestID)
		if err != nil {
			return err
		}
		if _, ok := eligibleAt(req, level, approverID); !ok {
			return apperr.Forbidden(fmt.Sprintf("user %s is not an approver of request %s at level %d",
				approverID, req.RequestNumber, level.LevelNumber))
		}

		now := s.opts.now()
		if err := s.record(ctx, stores, req, level.LevelNumber, approverID, model.ApprovalActionRequestInfo, &question, nil, now); err != nil {
			return err
		}
		req.Touch(now, &approverID)
		if err := stores.ApprovalRequests().Update(ctx, req); err != nil {
			return err
		}

		if wf.NotifyRequester {
			notified = true
			return s.enqueueNotification(ctx, stores, now, model.Notification{
				Kind:        model.NotificationInfoRequested,
				RecipientID: req.RequestedBy,
				LevelNumber: level.LevelNumber,
				Message:     question,
			}, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(requestLogContext(ctx, req), "information requested", "approver_id", approverID)
	s.wakeIf(ctx, notified)
	return req, nil
}

func (s *approvalRequestService) Cancel(ctx context.Context, requestID uuid.UUID, actor model.Actor, reason *string) (*model.ApprovalRequest, error) {
	var req *model.ApprovalRequest
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		req, err = stores.ApprovalRequests().GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if !actor.Admin && actor.ID != req.RequestedBy {
			return apperr.Forbidden("only the requester or an administrator can cancel a request")
		}
		if !req.Status.IsOpen() {
			return apperr.Validation("request %s is %s and cannot be cancelled", req.RequestNumber, req.Status)
		}

		now := s.opts.now()
		by := actor.ID
		req.Status = model.ApprovalStatusCancelled
		req.CancelledAt = &now
		req.CancelledBy = &by
		req.CurrentLevel = nil
		req.DueDate = nil
		if !blank(reason) {
			note := strings.TrimSpace(*reason)
			req.Notes = &note
		}
		req.Touch(now, &by)
		return stores.ApprovalRequests().Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(requestLogContext(ctx, req), "approval request cancelled", "actor_id", actor.ID)
	return req, nil
}

func (s *approvalRequestService) PendingForApprover(ctx context.Context, approverID uuid.UUID, page model.Pagination) (model.Paginated[model.ApprovalRequest], error) {
	page = page.Normalize(s.opts.MaxPageSize)
	var result model.Paginated[model.ApprovalRequest]
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		result, err = stores.ApprovalRequests().ListPendingForApprover(ctx, approverID, page)
		return err
	})
	return result, err
}

func (s *approvalRequestService) PendingSummary(ctx context.Context, approverID uuid.UUID) (*model.PendingSummary, error) {
	var pending []model.ApprovalRequest
	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		pending, err = stores.ApprovalRequests().AllPendingForApprover(ctx, approverID)
		return err
	}); err != nil {
		return nil, err
	}
	return summarize(pending, s.opts.now(), s.opts.Approval.ApproachingWindow), nil
}

func (s *approvalRequestService) ListEscalations(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalEscalation, error) {
	var out []model.ApprovalEscalation
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		if _, err := stores.ApprovalRequests().GetByID(ctx, requestID); err != nil {
			return err
		}
		var err error
		out, err = stores.ApprovalRequests().ListEscalations(ctx, requestID)
		return err
	})
	return out, err
}

func (s *approvalRequestService) EscalateOverdue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.opts.now()

	var overdue []model.ApprovalRequest
	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		overdue, err = stores.ApprovalRequests().ListOverdue(ctx, now, limit)
		return err
	}); err != nil {
		return 0, fmt.Errorf("listing overdue approval requests: %w", err)
	}

	escalated := 0
	notified := false
	for i := range overdue {
		ok, sent, err := s.escalate(ctx, overdue[i].ID, now)
		if err != nil {
			slog.ErrorContext(ctx, "failed to escalate approval request",
				"request_id", overdue[i].ID,
				"request_number", overdue[i].RequestNumber,
				"error", err)
			continue
		}
		if ok {
			escalated++
		}
		notified = notified || sent
	}

	if escalated > 0 {
		slog.InfoContext(ctx, "overdue approval requests escalated", "count", escalated)
	}
	s.wakeIf(ctx, notified)
	return escalated, nil
}

func (s *approvalRequestService) escalate(ctx context.Context, requestID uuid.UUID, now time.Time) (bool, bool, error) {
	var escalated, notified bool
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		req, wf, level, err := s.loadOpen(ctx, stores, requestID)
		if errors.Is(err, apperr.ErrValidation) {
			return nil
		}
		if err != nil {
			return err
		}
		// Re-checked under the transaction: the request may have moved on.
		if req.Status == model.ApprovalStatusEscalated || req.DueDate == nil || !req.DueDate.Before(now) {
			return nil
		}

		esc := &model.ApprovalEscalation{
			ID:          uuid.New(),
			RequestID:   req.ID,
			LevelNumber: level.LevelNumber,
			EscalatedTo: level.EscalationTo,
			Reason:      fmt.Sprintf("level %d overdue since %s", level.LevelNumber, req.DueDate.Format(time.RFC3339)),
			CreatedAt:   now,
		}
		if err := stores.ApprovalRequests().CreateEscalation(ctx, esc); err != nil {
			return err
		}

		req.Status = model.ApprovalStatusEscalated
		req.Touch(now, nil)
		if err := stores.ApprovalRequests().Update(ctx, req); err != nil {
			return err
		}
		escalated = true

		if level.EscalationTo != nil {
			notified = true
			return s.enqueueNotification(ctx, stores, now, model.Notification{
				Kind:        model.NotificationApprovalEscalated,
				RecipientID: *level.EscalationTo,
				LevelNumber: level.LevelNumber,
				Message:     fmt.Sprintf("%s escalated to you: %s", wf.Name, esc.Reason),
			}, req)
		}
		return nil
	})
	return escalated, notified, err
}

// loadOpen loads a request that is still awaiting approval together with its
// workflow and current level.
func (s *approvalRequestService) loadOpen(ctx context.Context, stores StoreProvider, requestID uuid.UUID) (
	*model.ApprovalRequest, *model.ApprovalWorkflow, *model.ApprovalLevel, error,
) {
	req, err := stores.ApprovalRequests().GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !req.Status.IsOpen() {
		return nil, nil, nil, apperr.Validation("request %s is %s", req.RequestNumber, req.Status)
	}
	wf, err := stores.ApprovalWorkflows().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	if req.CurrentLevel == nil {
		return nil, nil, nil, apperr.Internal(fmt.Sprintf("open request %s has no current level", req.RequestNumber), nil)
	}
	level := wf.Level(*req.CurrentLevel)
	if level == nil {
		return nil, nil, nil, apperr.Internal(fmt.Sprintf("request %s points at level %d which workflow %s lacks",
			req.RequestNumber, *req.CurrentLevel, wf.Code), nil)
	}
	return req, wf, level, nil
}

func (s *approvalRequestService) record(ctx context.Context, stores StoreProvider, req *model.ApprovalRequest, level int,
	approver uuid.UUID, action model.ApprovalActionType, comments *string, delegatedTo *uuid.UUID, now time.Time,
) error {
	a := model.ApprovalAction{
		ID:          uuid.New(),
		RequestID:   req.ID,
		LevelNumber: level,
		ApproverID:  approver,
		Action:      action,
		Comments:    trimmed(comments),
		DelegatedTo: delegatedTo,
		CreatedAt:   now,
	}
	if err := stores.ApprovalRequests().AddAction(ctx, &a); err != nil {
		return err
	}
	req.Actions = append(req.Actions, a)
	return nil
}

// advance moves req past its satisfied current level, passing over any
// level already satisfied by earlier approvals.
func (s *approvalRequestService) advance(req *model.ApprovalRequest, wf *model.ApprovalWorkflow, by uuid.UUID, now time.Time) {
	for next := *req.CurrentLevel + 1; ; next++ {
		level := wf.Level(next)
		if level == nil {
			s.finalizeApproved(req, by, now)
			return
		}
		n := next
		req.CurrentLevel = &n
		req.DueDate = dueFor(wf, level, now)
		req.Status = model.ApprovalStatusInProgress
		if !level.SkipIfApprovedAbove || !levelSatisfied(wf, req, level) {
			return
		}
	}
}

func (s *approvalRequestService) finalizeApproved(req *model.ApprovalRequest, by uuid.UUID, now time.Time) {
	req.Status = model.ApprovalStatusApproved
	req.ApprovedAt = &now
	req.ApprovedBy = &by
	req.CurrentLevel = nil
	req.DueDate = nil
}

func (s *approvalRequestService) notifyApprovers(ctx context.Context, stores StoreProvider, wf *model.ApprovalWorkflow,
	req *model.ApprovalRequest, now time.Time,
) (bool, error) {
	if !wf.NotifyApprover || req.CurrentLevel == nil {
		return false, nil
	}
	level := wf.Level(*req.CurrentLevel)
	if level == nil {
		return false, nil
	}
	for _, approver := range level.ApproverIDs {
		if err := s.enqueueNotification(ctx, stores, now, model.Notification{
			Kind:        model.NotificationApprovalRequested,
			RecipientID: approver,
			LevelNumber: level.LevelNumber,
			Message:     fmt.Sprintf("%s %s (%s) awaits your approval at %s", req.DocumentType, req.DocumentNumber, req.Money(), level.Name),
		}, req); err != nil {
			return false, err
		}
	}
	return len(level.ApproverIDs) > 0, nil
}

func (s *approvalRequestService) notifyOutcome(ctx context.Context, stores StoreProvider, wf *model.ApprovalWorkflow,
	req *model.ApprovalRequest, now time.Time,
) (bool, error) {
	if !wf.NotifyRequester {
		return false, nil
	}
	msg := fmt.Sprintf("%s %s was %s", req.DocumentType, req.DocumentNumber, strings.ToLower(string(req.Status)))
	if req.RejectionReason != nil {
		msg += ": " + *req.RejectionReason
	}
	err := s.enqueueNotification(ctx, stores, now, model.Notification{
		Kind:        model.NotificationApprovalDecided,
		RecipientID: req.RequestedBy,
		Message:     msg,
	}, req)
	return err == nil, err
}

// enqueueNotification creates a notification.send job in the caller's transaction.
func (s *approvalRequestService) enqueueNotification(ctx context.Context, stores StoreProvider, now time.Time,
	n model.Notification, req *model.ApprovalRequest,
) error {
	n.RequestID = req.ID
	n.RequestNumber = req.RequestNumber
	n.DocumentType = req.DocumentType
	n.DocumentNumber = req.DocumentNumber

	payload, err := json.Marshal(n)
	if err != nil {
		return apperr.Internal("encoding notification", err)
	}

	job := &model.ScheduledJob{
		Audit:             model.NewAudit(now, nil),
		Name:              common.JobName("notify", string(n.Kind), req.RequestNumber, uuid.NewString()),
		JobType:           model.JobTypeOneTime,
		Handler:           notificationHandler,
		Payload:           payload,
		Priority:          model.JobPriorityHigh,
		Status:            model.JobStatusPending,
		ScheduledAt:       &now,
		NextRunAt:         &now,
		MaxRetries:        s.opts.Scheduler.DefaultMaxRetries,
		RetryDelaySeconds: int64(s.opts.Scheduler.DefaultRetryDelay / time.Second),
		TimeoutSeconds:    int64(s.opts.Scheduler.DefaultTimeout / time.Second),
		Tags:              []string{"notification", string(n.Kind)},
	}
	return stores.Jobs().Create(ctx, job)
}

func (s *approvalRequestService) wakeIf(ctx context.Context, notified bool) {
	if !notified || s.opts.Waker == nil {
		return
	}
	if err := s.opts.Waker.Wake(ctx); err != nil {
		slog.WarnContext(ctx, "failed to wake workers", "error", err)
	}
}

// summarize buckets pending requests by due date relative to now.
func summarize(pending []model.ApprovalRequest, now time.Time, window time.Duration) *model.PendingSummary {
	summary := &model.PendingSummary{
		Totals:         []model.Money{},
		ByDocumentType: map[string]int64{},
	}
	totals := map[model.Currency]int64{}
	for _, r := range pending {
		summary.Total++
		switch {
		case r.DueDate == nil:
			summary.OnTime++
		case r.DueDate.Before(now):
			summary.Overdue++
		case r.DueDate.Before(now.Add(window)):
			summary.Approaching++
		default:
			summary.OnTime++
		}
		totals[r.Currency] += r.Amount
		summary.ByDocumentType[r.DocumentType]++
	}
	for c, amount := range totals {
		summary.Totals = append(summary.Totals, model.NewMoney(amount, c))
	}
	sort.Slice(summary.Totals, func(i, j int) bool {
		return summary.Totals[i].Currency < summary.Totals[j].Currency
	})
	return summary
}

// dueFor is the deadline of level when it becomes current at now.
func dueFor(wf *model.ApprovalWorkflow, level *model.ApprovalLevel, now time.Time) *time.Time {
	hours := wf.EscalationHours
	if level != nil && level.DueHours != nil {
		hours = level.DueHours
	}
	if hours == nil {
		return nil
	}
	due := now.Add(time.Duration(*hours) * time.Hour)
	return &due
}

func requestLogContext(ctx context.Context, req *model.ApprovalRequest) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		RequestID:  logger.Ptr(req.ID.String()),
		WorkflowID: logger.Ptr(req.WorkflowID.String()),
	})
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func trimmed(s *string) *string {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
