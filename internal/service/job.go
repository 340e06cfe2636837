package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/common/logger"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/schedule"
)

// maxBackoffShift caps the exponent of the retry back-off.
const maxBackoffShift = 16

type SubmitJobParams struct {
	Name              string
	Handler           string
	Payload           json.RawMessage
	Priority          model.JobPriority
	ScheduledAt       *time.Time
	CreatedBy         *uuid.UUID
	MaxRetries        *int
	RetryDelaySeconds *int64
	TimeoutSeconds    *int64
	Tags              []string
}

// RecurringJobParams describes a cron or interval job. Exactly one of
// CronExpression and IntervalSeconds is used, depending on the call.
type RecurringJobParams struct {
	Name              string
	Handler           string
	CronExpression    string
	IntervalSeconds   int64
	Payload           json.RawMessage
	Priority          model.JobPriority
	CreatedBy         *uuid.UUID
	MaxRetries        *int
	RetryDelaySeconds *int64
	TimeoutSeconds    *int64
}

// RunResult is the outcome of one handler invocation as seen by the counters.
type RunResult struct {
	Success    bool
	Error      *string
	DurationMs int64
}

// RunTicket is handed to a worker that won the lock on a job.
type RunTicket struct {
	Job       *model.ScheduledJob
	Execution *model.JobExecution
	WorkerID  string
}

// RunOutcome is what a worker reports when a handler returns.
type RunOutcome struct {
	Success    bool
	Result     json.RawMessage
	Error      string
	StackTrace string
	TimedOut   bool
	// Interrupted marks a run cut short by worker shutdown. It is not
	// counted as a failure and the job is requeued as it was.
	Interrupted bool
	Duration    time.Duration
}

type JobService interface {
	Submit(ctx context.Context, params SubmitJobParams) (*model.ScheduledJob, error)
	ScheduleCron(ctx context.Context, params RecurringJobParams) (*model.ScheduledJob, error)
	ScheduleInterval(ctx context.Context, params RecurringJobParams) (*model.ScheduledJob, error)
	// EnsureCron returns the live job named params.Name, creating it if absent.
	EnsureCron(ctx context.Context, params RecurringJobParams) (*model.ScheduledJob, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ScheduledJob, error)
	List(ctx context.Context, filter model.JobFilter, page model.Pagination) (model.Paginated[model.ScheduledJob], error)
	ListExecutions(ctx context.Context, jobID uuid.UUID, page model.Pagination) (model.Paginated[model.JobExecution], error)
	Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ScheduledJob, error)
	Retry(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ScheduledJob, error)
	Delete(ctx context.Context, id uuid.UUID) error

	ProcessDueJobs(ctx context.Context, limit int) ([]model.ScheduledJob, error)
	AcquireLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error)
	RefreshLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error)
	ReleaseLock(ctx context.Context, id uuid.UUID) error
	UpdateAfterRun(ctx context.Context, id uuid.UUID, result RunResult) (*model.ScheduledJob, error)

	// Start locks a due job and opens an execution for it. A nil ticket
	// means another worker got there first or the job is no longer due.
	Start(ctx context.Context, id uuid.UUID, workerID string) (*RunTicket, error)
	Finish(ctx context.Context, ticket *RunTicket, outcome RunOutcome) (*model.ScheduledJob, error)
}

type jobService struct {
	txRunner TxRunner
	opts     Options
}

func NewJobService(txRunner TxRunner, opts Options) JobService {
	return &jobService{txRunner: txRunner, opts: opts.withDefaults()}
}

func (s *jobService) Submit(ctx context.Context, params SubmitJobParams) (*model.ScheduledJob, error) {
	job, err := s.newJob(params.Name, params.Handler, params.Payload, params.Priority, params.CreatedBy,
		params.MaxRetries, params.RetryDelaySeconds, params.TimeoutSeconds)
	if err != nil {
		return nil, err
	}
	job.JobType = model.JobTypeOneTime
	job.Tags = params.Tags
	job.Status = model.JobStatusPending
	if params.ScheduledAt != nil {
		at := params.ScheduledAt.UTC()
		job.ScheduledAt = &at
		job.NextRunAt = &at
		job.Status = model.JobStatusScheduled
	}

	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.Jobs().Create(ctx, job)
	}); err != nil {
		return nil, fmt.Errorf("submitting job %q: %w", job.Name, err)
	}

	slog.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"name", job.Name,
		"handler", job.Handler,
		"priority", job.Priority,
		"status", job.Status)
	s.wake(ctx)
	return job, nil
}

func (s *jobService) ScheduleCron(ctx context.Context, params RecurringJobParams) (*model.ScheduledJob, error) {
	job, err := s.newCronJob(params)
	if err != nil {
		return nil, err
	}
	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.Jobs().Create(ctx, job)
	}); err != nil {
		return nil, fmt.Errorf("scheduling cron job %q: %w", job.Name, err)
	}

	slog.InfoContext(ctx, "cron job scheduled",
		"job_id", job.ID,
		"name", job.Name,
		"cron", *job.CronExpression,
		"next_run_at", job.NextRunAt)
	return job, nil
}

func (s *jobService) ScheduleInterval(ctx context.Context, params RecurringJobParams) (*model.ScheduledJob, error) {
	if params.IntervalSeconds <= 0 {
		return nil, apperr.Validation("interval_seconds must be positive")
	}
	job, err := s.newJob(params.Name, params.Handler, params.Payload, params.Priority, params.CreatedBy,
		params.MaxRetries, params.RetryDelaySeconds, params.TimeoutSeconds)
	if err != nil {
		return nil, err
	}

	interval := params.IntervalSeconds
	next := job.CreatedAt.Add(time.Duration(interval) * time.Second)
	job.JobType = model.JobTypeRecurring
	job.IntervalSeconds = &interval
	job.NextRunAt = &next
	job.Status = model.JobStatusScheduled

	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.Jobs().Create(ctx, job)
	}); err != nil {
		return nil, fmt.Errorf("scheduling interval job %q: %w", job.Name, err)
	}

	slog.InfoContext(ctx, "interval job scheduled",
		"job_id", job.ID,
		"name", job.Name,
		"interval_seconds", interval,
		"next_run_at", next)
	return job, nil
}

func (s *jobService) EnsureCron(ctx context.Context, params RecurringJobParams) (*model.ScheduledJob, error) {
	job, err := s.newCronJob(params)
	if err != nil {
		return nil, err
	}

	var result *model.ScheduledJob
	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		existing, err := stores.Jobs().GetActiveByName(ctx, job.Name)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if err := stores.Jobs().Create(ctx, job); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring cron job %q: %w", job.Name, err)
	}
	return result, nil
}

func (s *jobService) Get(ctx context.Context, id uuid.UUID) (*model.ScheduledJob, error) {
	var job *model.ScheduledJob
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		job, err = stores.Jobs().GetByID(ctx, id)
		return err
	})
	return job, err
}

func (s *jobService) List(ctx context.Context, filter model.JobFilter, page model.Pagination) (model.Paginated[model.ScheduledJob], error) {
	page = page.Normalize(s.opts.MaxPageSize)
	var result model.Paginated[model.ScheduledJob]
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		result, err = stores.Jobs().List(ctx, filter, page)
		return err
	})
	return result, err
}

func (s *jobService) ListExecutions(ctx context.Context, jobID uuid.UUID, page model.Pagination) (model.Paginated[model.JobExecution], error) {
	page = page.Normalize(s.opts.MaxPageSize)
	var result model.Paginated[model.JobExecution]
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		if _, err := stores.Jobs().GetByID(ctx, jobID); err != nil {
			return err
		}
		var err error
		result, err = stores.JobExecutions().ListByJob(ctx, jobID, page)
		return err
	})
	return result, err
}

func (s *jobService) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ScheduledJob, error) {
	var job *model.ScheduledJob
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		job, err = stores.Jobs().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == model.JobStatusRunning {
			return apperr.Validation("job %s is running and cannot be cancelled", job.Name)
		}
		if job.Status == model.JobStatusCancelled {
			return nil
		}

		job.Status = model.JobStatusCancelled
		job.LockedBy = nil
		job.LockedAt = nil
		job.Touch(s.opts.now(), actor)
		return stores.Jobs().Update(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "job cancelled", "job_id", job.ID, "name", job.Name)
	return job, nil
}

func (s *jobService) Retry(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.ScheduledJob, error) {
	var job *model.ScheduledJob
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		job, err = stores.Jobs().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == model.JobStatusRunning {
			return apperr.Validation("job %s is running and cannot be retried", job.Name)
		}

		now := s.opts.now()
		job.RetryCount = 0
		job.Status = model.JobStatusPending
		job.ScheduledAt = &now
		job.NextRunAt = &now
		job.LockedBy = nil
		job.LockedAt = nil
		job.Touch(now, actor)
		return stores.Jobs().Update(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "job queued for retry", "job_id", job.ID, "name", job.Name)
	s.wake(ctx)
	return job, nil
}

func (s *jobService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		job, err := stores.Jobs().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == model.JobStatusRunning {
			return apperr.Validation("job %s is running and cannot be deleted", job.Name)
		}
		return stores.Jobs().Delete(ctx, id)
	})
}

func (s *jobService) ProcessDueJobs(ctx context.Context, limit int) ([]model.ScheduledJob, error) {
	if limit <= 0 {
		limit = 10
	}
	now := s.opts.now()
	var due []model.ScheduledJob
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		due, err = stores.Jobs().ListDue(ctx, now, now.Add(-s.opts.Scheduler.LockStaleAfter), limit)
		return err
	})
	return due, err
}

func (s *jobService) AcquireLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	now := s.opts.now()
	var ok bool
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		ok, err = stores.Jobs().AcquireLock(ctx, id, workerID, now, now.Add(-s.opts.Scheduler.LockStaleAfter))
		return err
	})
	return ok, err
}

func (s *jobService) RefreshLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error) {
	now := s.opts.now()
	var ok bool
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		ok, err = stores.Jobs().RefreshLock(ctx, id, workerID, now)
		return err
	})
	return ok, err
}

func (s *jobService) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	return s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.Jobs().ReleaseLock(ctx, id)
	})
}

func (s *jobService) UpdateAfterRun(ctx context.Context, id uuid.UUID, result RunResult) (*model.ScheduledJob, error) {
	var job *model.ScheduledJob
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		job, err = stores.Jobs().GetByID(ctx, id)
		if err != nil {
			return err
		}
		now := s.opts.now()
		job.RecordRun(result.Success, result.Error, result.DurationMs, now)
		if err := s.settle(job, result.Success, now); err != nil {
			return err
		}
		job.Touch(now, nil)
		return stores.Jobs().Update(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobService) Start(ctx context.Context, id uuid.UUID, workerID string) (*RunTicket, error) {
	var ticket *RunTicket
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		now := s.opts.now()
		staleBefore := now.Add(-s.opts.Scheduler.LockStaleAfter)

		job, err := stores.Jobs().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
		if due := job.DueAt(); job.Status != model.JobStatusRunning && due != nil && due.After(now) {
			return nil
		}
		abandoned := job.Status == model.JobStatusRunning

		ok, err := stores.Jobs().AcquireLock(ctx, id, workerID, now, staleBefore)
		if err != nil || !ok {
			return err
		}

		if abandoned {
			n, err := stores.JobExecutions().FailRunning(ctx, id, "abandoned by worker "+derefOr(job.LockedBy, "unknown"), now)
			if err != nil {
				return err
			}
			slog.WarnContext(ctx, "reclaimed abandoned job",
				"job_id", job.ID,
				"previous_worker", derefOr(job.LockedBy, ""),
				"abandoned_executions", n)
		}

		job.Status = model.JobStatusRunning
		job.StartedAt = &now
		job.LockedBy = &workerID
		job.LockedAt = &now
		job.Touch(now, nil)
		if err := stores.Jobs().Update(ctx, job); err != nil {
			return err
		}

		exec := &model.JobExecution{
			ID:          uuid.New(),
			JobID:       job.ID,
			StartedAt:   now,
			Status:      model.ExecutionStatusRunning,
			RetryNumber: job.RetryCount,
			WorkerID:    &workerID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if job.RetryCount > 0 {
			prev, err := stores.JobExecutions().Latest(ctx, job.ID)
			switch {
			case err == nil:
				exec.RetryOfID = &prev.ID
			case !errors.Is(err, apperr.ErrNotFound):
				return err
			}
		}
		if exec.ExecutionNumber, err = stores.JobExecutions().NextNumber(ctx, job.ID); err != nil {
			return err
		}
		if err := stores.JobExecutions().Create(ctx, exec); err != nil {
			return err
		}

		ticket = &RunTicket{Job: job, Execution: exec, WorkerID: workerID}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("starting job %s: %w", id, err)
	}
	return ticket, nil
}

func (s *jobService) Finish(ctx context.Context, ticket *RunTicket, outcome RunOutcome) (*model.ScheduledJob, error) {
	ctx = jobLogContext(ctx, ticket.Job)
	var (
		job      *model.ScheduledJob
		retrying bool
	)
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		now := s.opts.now()

		var err error
		job, err = stores.Jobs().GetByID(ctx, ticket.Job.ID)
		if err != nil {
			return err
		}
		if job.LockedBy == nil || *job.LockedBy != ticket.WorkerID {
			return apperr.Conflict("worker %s no longer holds the lock on job %s", ticket.WorkerID, job.Name)
		}

		durationMs := outcome.Duration.Milliseconds()
		exec := ticket.Execution
		exec.CompletedAt = &now
		exec.DurationMs = &durationMs
		exec.UpdatedAt = now
		var errMsg *string
		switch {
		case outcome.Success:
			exec.Status = model.ExecutionStatusCompleted
			exec.Result = outcome.Result
		case outcome.Interrupted:
			exec.Status = model.ExecutionStatusCancelled
		case outcome.TimedOut:
			exec.Status = model.ExecutionStatusTimeout
		default:
			exec.Status = model.ExecutionStatusFailed
		}
		if !outcome.Success {
			msg := outcome.Error
			if msg == "" {
				msg = "handler failed"
			}
			errMsg = &msg
			exec.ErrorMessage = &msg
			if outcome.StackTrace != "" {
				stack := outcome.StackTrace
				exec.ErrorStackTrace = &stack
			}
		}
		if err := stores.JobExecutions().Update(ctx, exec); err != nil {
			return err
		}

		switch {
		case outcome.Interrupted:
			requeue(job)
		case !outcome.Success && job.RetryCount < job.MaxRetries:
			job.RecordRun(false, errMsg, durationMs, now)
			s.scheduleRetry(job, now)
			retrying = true
		default:
			job.RecordRun(outcome.Success, errMsg, durationMs, now)
			if err := s.settle(job, outcome.Success, now); err != nil {
				return err
			}
		}

		job.LockedBy = nil
		job.LockedAt = nil
		job.Touch(now, nil)
		return stores.Jobs().Update(ctx, job)
	})
	if err != nil {
		return nil, fmt.Errorf("finishing job %s: %w", ticket.Job.ID, err)
	}

	slog.InfoContext(ctx, "job run recorded",
		"job_id", job.ID,
		"execution_id", ticket.Execution.ID,
		"success", outcome.Success,
		"timed_out", outcome.TimedOut,
		"status", job.Status,
		"retry_count", job.RetryCount,
		"duration_ms", outcome.Duration.Milliseconds())
	if retrying {
		s.wake(ctx)
	}
	return job, nil
}

// settle applies the end-of-run state: one-time jobs finish, recurring jobs
// go back to Scheduled for their next slot.
func (s *jobService) settle(job *model.ScheduledJob, success bool, now time.Time) error {
	if !job.JobType.IsRecurring() {
		if success {
			job.Status = model.JobStatusCompleted
		} else {
			job.Status = model.JobStatusFailed
		}
		job.NextRunAt = nil
		return nil
	}

	next, err := nextRecurringRun(job, now)
	if err != nil {
		return err
	}
	job.Status = model.JobStatusScheduled
	job.NextRunAt = &next
	job.RetryCount = 0
	return nil
}

// requeue returns an interrupted job to a runnable state, keeping its due
// time and retry budget.
func requeue(job *model.ScheduledJob) {
	if job.JobType.IsRecurring() {
		job.Status = model.JobStatusScheduled
	} else {
		job.Status = model.JobStatusPending
	}
}

func (s *jobService) scheduleRetry(job *model.ScheduledJob, now time.Time) {
	// A zero delay retries on the next poll.
	delay := time.Duration(job.RetryDelaySeconds) * time.Second
	shift := job.RetryCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	at := now.Add(delay << shift)

	job.RetryCount++
	job.NextRunAt = &at
	if job.JobType.IsRecurring() {
		job.Status = model.JobStatusScheduled
	} else {
		job.Status = model.JobStatusPending
		job.ScheduledAt = &at
	}
}

func nextRecurringRun(job *model.ScheduledJob, now time.Time) (time.Time, error) {
	switch {
	case job.CronExpression != nil:
		return schedule.NextCron(*job.CronExpression, now)
	case job.IntervalSeconds != nil && *job.IntervalSeconds > 0:
		return now.Add(time.Duration(*job.IntervalSeconds) * time.Second), nil
	default:
		return time.Time{}, apperr.Internal(fmt.Sprintf("recurring job %s has neither cron nor interval", job.Name), nil)
	}
}

func (s *jobService) newCronJob(params RecurringJobParams) (*model.ScheduledJob, error) {
	job, err := s.newJob(params.Name, params.Handler, params.Payload, params.Priority, params.CreatedBy,
		params.MaxRetries, params.RetryDelaySeconds, params.TimeoutSeconds)
	if err != nil {
		return nil, err
	}
	expr := strings.TrimSpace(params.CronExpression)
	next, err := schedule.NextCron(expr, job.CreatedAt)
	if err != nil {
		return nil, err
	}
	job.JobType = model.JobTypeCron
	job.CronExpression = &expr
	job.NextRunAt = &next
	job.Status = model.JobStatusScheduled
	return job, nil
}

func (s *jobService) newJob(name, handler string, payload json.RawMessage, priority model.JobPriority,
	createdBy *uuid.UUID, maxRetries *int, retryDelay, timeout *int64,
) (*model.ScheduledJob, error) {
	name = strings.TrimSpace(name)
	handler = strings.TrimSpace(handler)
	if name == "" {
		return nil, apperr.Validation("job name is required")
	}
	if handler == "" {
		return nil, apperr.Validation("job handler is required")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, apperr.Validation("job payload must be valid JSON")
	}
	if priority == "" {
		priority = model.JobPriorityNormal
	}
	if !priority.Valid() {
		return nil, apperr.Validation("unknown job priority %q", priority)
	}

	job := &model.ScheduledJob{
		Audit:             model.NewAudit(s.opts.now(), createdBy),
		Name:              name,
		Handler:           handler,
		Payload:           payload,
		Priority:          priority,
		MaxRetries:        s.opts.Scheduler.DefaultMaxRetries,
		RetryDelaySeconds: int64(s.opts.Scheduler.DefaultRetryDelay / time.Second),
		TimeoutSeconds:    int64(s.opts.Scheduler.DefaultTimeout / time.Second),
	}
	if maxRetries != nil {
		if *maxRetries < 0 {
			return nil, apperr.Validation("max_retries must not be negative")
		}
		job.MaxRetries = *maxRetries
	}
	if retryDelay != nil {
		if *retryDelay < 0 {
			return nil, apperr.Validation("retry_delay_seconds must not be negative")
		}
		job.RetryDelaySeconds = *retryDelay
	}
	if timeout != nil {
		if *timeout <= 0 {
			return nil, apperr.Validation("timeout_seconds must be positive")
		}
		job.TimeoutSeconds = *timeout
	}
	return job, nil
}

func (s *jobService) wake(ctx context.Context) {
	if s.opts.Waker == nil {
		return
	}
	if err := s.opts.Waker.Wake(ctx); err != nil {
		slog.WarnContext(ctx, "failed to wake workers", "error", err)
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// jobLogContext tags ctx with the job's identifiers for every log line below it.
func jobLogContext(ctx context.Context, job *model.ScheduledJob) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		JobID:   logger.Ptr(job.ID.String()),
		Handler: logger.Ptr(job.Handler),
	})
}
