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

	"ergon.app/erp/common"
	"ergon.app/erp/common/apperr"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/schedule"
)

type CreateScheduleParams struct {
	Name            string
	Description     *string
	ScheduleType    model.ScheduleType
	CronExpression  *string
	IntervalSeconds *int64
	SpecificTimes   *string
	Handler         string
	Payload         json.RawMessage
	Priority        model.JobPriority
	Enabled         bool
	CreatedBy       *uuid.UUID
}

type JobScheduleService interface {
	Create(ctx context.Context, params CreateScheduleParams) (*model.JobSchedule, error)
	Get(ctx context.Context, id uuid.UUID) (*model.JobSchedule, error)
	List(ctx context.Context, enabled *bool, page model.Pagination) (model.Paginated[model.JobSchedule], error)
	Enable(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.JobSchedule, error)
	Disable(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.JobSchedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// TriggerDue submits a one-time job for every enabled schedule whose next
	// run has passed and returns how many jobs were created.
	TriggerDue(ctx context.Context, limit int) (int, error)
}

type jobScheduleService struct {
	txRunner TxRunner
	opts     Options
}

func NewJobScheduleService(txRunner TxRunner, opts Options) JobScheduleService {
	return &jobScheduleService{txRunner: txRunner, opts: opts.withDefaults()}
}

func (s *jobScheduleService) Create(ctx context.Context, params CreateScheduleParams) (*model.JobSchedule, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, apperr.Validation("schedule name is required")
	}
	if strings.TrimSpace(params.Handler) == "" {
		return nil, apperr.Validation("schedule handler is required")
	}
	if len(params.Payload) > 0 && !json.Valid(params.Payload) {
		return nil, apperr.Validation("schedule payload must be valid JSON")
	}
	priority := params.Priority
	if priority == "" {
		priority = model.JobPriorityNormal
	}
	if !priority.Valid() {
		return nil, apperr.Validation("unknown job priority %q", priority)
	}

	now := s.opts.now()
	sched := &model.JobSchedule{
		Audit:           model.NewAudit(now, params.CreatedBy),
		Name:            name,
		Description:     params.Description,
		ScheduleType:    params.ScheduleType,
		CronExpression:  params.CronExpression,
		IntervalSeconds: params.IntervalSeconds,
		SpecificTimes:   params.SpecificTimes,
		Handler:         strings.TrimSpace(params.Handler),
		Payload:         params.Payload,
		Priority:        priority,
		Enabled:         params.Enabled,
	}

	spec := schedule.FromJobSchedule(sched)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	next, err := spec.Next(now)
	if err != nil {
		return nil, err
	}
	sched.NextScheduledRun = &next

	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.JobSchedules().Create(ctx, sched)
	}); err != nil {
		return nil, fmt.Errorf("creating schedule %q: %w", name, err)
	}

	slog.InfoContext(ctx, "job schedule created",
		"schedule_id", sched.ID,
		"name", sched.Name,
		"type", sched.ScheduleType,
		"next_run", next)
	return sched, nil
}

func (s *jobScheduleService) Get(ctx context.Context, id uuid.UUID) (*model.JobSchedule, error) {
	var sched *model.JobSchedule
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		sched, err = stores.JobSchedules().GetByID(ctx, id)
		return err
	})
	return sched, err
}

func (s *jobScheduleService) List(ctx context.Context, enabled *bool, page model.Pagination) (model.Paginated[model.JobSchedule], error) {
	page = page.Normalize(s.opts.MaxPageSize)
	var result model.Paginated[model.JobSchedule]
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		result, err = stores.JobSchedules().List(ctx, enabled, page)
		return err
	})
	return result, err
}

func (s *jobScheduleService) Enable(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.JobSchedule, error) {
	return s.setEnabled(ctx, id, true, actor)
}

func (s *jobScheduleService) Disable(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*model.JobSchedule, error) {
	return s.setEnabled(ctx, id, false, actor)
}

func (s *jobScheduleService) setEnabled(ctx context.Context, id uuid.UUID, enabled bool, actor *uuid.UUID) (*model.JobSchedule, error) {
	var sched *model.JobSchedule
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		sched, err = stores.JobSchedules().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sched.Enabled == enabled {
			return nil
		}

		now := s.opts.now()
		sched.Enabled = enabled
		if enabled {
			// Re-enabling never fires the runs missed while disabled.
			next, err := schedule.FromJobSchedule(sched).Next(now)
			if err != nil {
				return err
			}
			sched.NextScheduledRun = &next
		}
		sched.Touch(now, actor)
		return stores.JobSchedules().Update(ctx, sched)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "job schedule toggled", "schedule_id", sched.ID, "enabled", enabled)
	return sched, nil
}

func (s *jobScheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		return stores.JobSchedules().Delete(ctx, id)
	})
}

func (s *jobScheduleService) TriggerDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.opts.now()

	var due []model.JobSchedule
	if err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		due, err = stores.JobSchedules().ListDue(ctx, now, limit)
		return err
	}); err != nil {
		return 0, fmt.Errorf("listing due schedules: %w", err)
	}

	created := 0
	for i := range due {
		sched := &due[i]
		ok, err := s.trigger(ctx, sched, now)
		if err != nil {
			slog.ErrorContext(ctx, "failed to trigger schedule",
				"schedule_id", sched.ID,
				"name", sched.Name,
				"error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// trigger creates the job for one due schedule and advances it. It reports
// false when the previous job from the schedule is still live.
func (s *jobScheduleService) trigger(ctx context.Context, sched *model.JobSchedule, now time.Time) (bool, error) {
	jobName := common.JobName("schedule", sched.Name)
	created := false

	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		next, err := schedule.FromJobSchedule(sched).Next(now)
		if err != nil {
			return err
		}

		_, err = stores.Jobs().GetActiveByName(ctx, jobName)
		switch {
		case err == nil:
			slog.WarnContext(ctx, "previous scheduled job still live, skipping run",
				"schedule_id", sched.ID,
				"job_name", jobName)
		case errors.Is(err, apperr.ErrNotFound):
			job := &model.ScheduledJob{
				Audit:             model.NewAudit(now, sched.CreatedBy),
				Name:              jobName,
				JobType:           model.JobTypeOneTime,
				Handler:           sched.Handler,
				Payload:           sched.Payload,
				Priority:          sched.Priority,
				Status:            model.JobStatusPending,
				ScheduledAt:       &now,
				NextRunAt:         &now,
				MaxRetries:        s.opts.Scheduler.DefaultMaxRetries,
				RetryDelaySeconds: int64(s.opts.Scheduler.DefaultRetryDelay / time.Second),
				TimeoutSeconds:    int64(s.opts.Scheduler.DefaultTimeout / time.Second),
				Tags:              []string{"schedule"},
			}
			if err := stores.Jobs().Create(ctx, job); err != nil {
				return err
			}
			sched.LastJobID = &job.ID
			created = true
		default:
			return err
		}

		sched.LastRun = &now
		sched.NextScheduledRun = &next
		sched.Touch(now, nil)
		return stores.JobSchedules().Update(ctx, sched)
	})
	if err != nil {
		return false, err
	}

	if created {
		slog.InfoContext(ctx, "schedule triggered",
			"schedule_id", sched.ID,
			"job_id", sched.LastJobID,
			"next_run", sched.NextScheduledRun)
	}
	return created, nil
}
