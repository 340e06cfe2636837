package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ergon.app/erp/core/config"
	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
	"ergon.app/erp/internal/telemetry"
)

// Built-in handler keys.
const (
	HandlerEscalateApprovals = "approval.escalate"
	HandlerTriggerSchedules  = "job_schedule.trigger"
	HandlerSendNotification  = "notification.send"
)

// System jobs seeded on worker start.
const (
	escalationJobName = "system:approval-escalation"
	triggerJobName    = "system:job-schedule-trigger"
	systemBatchSize   = 200
)

// RegisterBuiltins adds the handlers every worker process carries.
func RegisterBuiltins(reg *Registry, svcs *service.Services, notifier Notifier) error {
	approvals := svcs.ApprovalRequests()
	schedules := svcs.JobSchedules()

	builtins := map[string]HandlerFunc{
		HandlerEscalateApprovals: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			n, err := approvals.EscalateOverdue(ctx, systemBatchSize)
			if err != nil {
				return nil, fmt.Errorf("escalating overdue approvals: %w", err)
			}
			telemetry.ApprovalsEscalated.Add(float64(n))
			return json.Marshal(map[string]int{"escalated": n})
		},
		HandlerTriggerSchedules: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			n, err := schedules.TriggerDue(ctx, systemBatchSize)
			if err != nil {
				return nil, fmt.Errorf("triggering job schedules: %w", err)
			}
			telemetry.ScheduleJobsCreated.Add(float64(n))
			return json.Marshal(map[string]int{"created": n})
		},
		HandlerSendNotification: NotificationHandler(notifier),
	}

	for name, fn := range builtins {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// NotificationHandler decodes a notification payload and hands it to notifier.
func NotificationHandler(notifier Notifier) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var n model.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, fmt.Errorf("decoding notification: %w", err)
		}
		if n.Kind == "" {
			return nil, errors.New("notification kind is required")
		}
		if n.RecipientID == uuid.Nil {
			return nil, errors.New("notification recipient is required")
		}
		if err := notifier.Notify(ctx, n); err != nil {
			return nil, fmt.Errorf("delivering %s to %s: %w", n.Kind, n.RecipientID, err)
		}
		return json.Marshal(map[string]bool{"delivered": true})
	}
}

// LogNotifier writes notifications to the structured log. It stands in for
// a mail or chat transport.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n model.Notification) error {
	slog.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"recipient_id", n.RecipientID,
		"request_number", n.RequestNumber,
		"document_type", n.DocumentType,
		"document_number", n.DocumentNumber,
		"level", n.LevelNumber,
		"message", n.Message)
	return nil
}

// EnsureSystemJobs makes sure the recurring maintenance jobs exist.
func EnsureSystemJobs(ctx context.Context, jobs service.JobService, cfg config.Config) error {
	system := []service.RecurringJobParams{
		{
			Name:           escalationJobName,
			Handler:        HandlerEscalateApprovals,
			CronExpression: cfg.Approval.EscalationCron,
			Priority:       model.JobPriorityHigh,
		},
		{
			Name:           triggerJobName,
			Handler:        HandlerTriggerSchedules,
			CronExpression: cfg.Scheduler.TriggerCron,
			Priority:       model.JobPriorityHigh,
		},
	}

	for _, params := range system {
		if params.CronExpression == "" {
			slog.InfoContext(ctx, "system job disabled", "name", params.Name)
			continue
		}
		job, err := jobs.EnsureCron(ctx, params)
		if err != nil {
			return fmt.Errorf("ensuring %s: %w", params.Name, err)
		}
		slog.InfoContext(ctx, "system job ready",
			"name", job.Name,
			"cron", params.CronExpression,
			"next_run_at", job.NextRunAt)
	}
	return nil
}
