package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/internal/model"
)

// JobStore defines the contract for scheduled job data access
type JobStore interface {
	Create(ctx context.Context, job *model.ScheduledJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ScheduledJob, error)
	GetActiveByName(ctx context.Context, name string) (*model.ScheduledJob, error)
	Update(ctx context.Context, job *model.ScheduledJob) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter model.JobFilter, page model.Pagination) (model.Paginated[model.ScheduledJob], error)

	// ListDue returns runnable jobs in dispatch order. Locks taken before
	// staleBefore are treated as abandoned.
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]model.ScheduledJob, error)
	AcquireLock(ctx context.Context, id uuid.UUID, workerID string, now, staleBefore time.Time) (bool, error)
	RefreshLock(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error)
	ReleaseLock(ctx context.Context, id uuid.UUID) error
}

// JobExecutionStore defines the contract for job execution data access
type JobExecutionStore interface {
	Create(ctx context.Context, exec *model.JobExecution) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.JobExecution, error)
	Update(ctx context.Context, exec *model.JobExecution) error
	Latest(ctx context.Context, jobID uuid.UUID) (*model.JobExecution, error)
	NextNumber(ctx context.Context, jobID uuid.UUID) (int64, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, page model.Pagination) (model.Paginated[model.JobExecution], error)
	// FailRunning closes executions left Running by a worker that died.
	FailRunning(ctx context.Context, jobID uuid.UUID, message string, now time.Time) (int64, error)
}

// JobScheduleStore defines the contract for job schedule data access
type JobScheduleStore interface {
	Create(ctx context.Context, sched *model.JobSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.JobSchedule, error)
	Update(ctx context.Context, sched *model.JobSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, enabled *bool, page model.Pagination) (model.Paginated[model.JobSchedule], error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.JobSchedule, error)
}

// ApprovalWorkflowStore defines the contract for workflow data access.
// Levels and their approvers are read and written with the workflow.
type ApprovalWorkflowStore interface {
	Create(ctx context.Context, wf *model.ApprovalWorkflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ApprovalWorkflow, error)
	GetByCode(ctx context.Context, code string) (*model.ApprovalWorkflow, error)
	// Update writes wf if its Version still matches the stored row and bumps it.
	Update(ctx context.Context, wf *model.ApprovalWorkflow) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter model.WorkflowFilter, page model.Pagination) (model.Paginated[model.ApprovalWorkflow], error)
	// FindFor picks the active workflow routing documentType at amount.
	FindFor(ctx context.Context, documentType string, amount int64) (*model.ApprovalWorkflow, error)
	CountRequests(ctx context.Context, workflowID uuid.UUID, statuses ...model.ApprovalRequestStatus) (int64, error)
}

// ApprovalRequestStore defines the contract for approval request data access
type ApprovalRequestStore interface {
	Create(ctx context.Context, req *model.ApprovalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	GetByNumber(ctx context.Context, number string) (*model.ApprovalRequest, error)
	Update(ctx context.Context, req *model.ApprovalRequest) error
	List(ctx context.Context, filter model.RequestFilter, page model.Pagination) (model.Paginated[model.ApprovalRequest], error)
	AddAction(ctx context.Context, action *model.ApprovalAction) error

	ListPendingForApprover(ctx context.Context, approverID uuid.UUID, page model.Pagination) (model.Paginated[model.ApprovalRequest], error)
	AllPendingForApprover(ctx context.Context, approverID uuid.UUID) ([]model.ApprovalRequest, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error)

	CreateEscalation(ctx context.Context, esc *model.ApprovalEscalation) error
	ListEscalations(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalEscalation, error)
}
