package worker

import (
	"context"

	"github.com/google/uuid"

	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

// JobRunner is the part of service.JobService the worker drives.
type JobRunner interface {
	ProcessDueJobs(ctx context.Context, limit int) ([]model.ScheduledJob, error)
	Start(ctx context.Context, id uuid.UUID, workerID string) (*service.RunTicket, error)
	Finish(ctx context.Context, ticket *service.RunTicket, outcome service.RunOutcome) (*model.ScheduledJob, error)
	RefreshLock(ctx context.Context, id uuid.UUID, workerID string) (bool, error)
}

// Notifier delivers a notification to its recipient.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}
