package service

import (
	"context"
	"time"

	"ergon.app/erp/core/config"
)

// Waker nudges idle workers after a job becomes runnable.
type Waker interface {
	Wake(ctx context.Context) error
}

type Options struct {
	Scheduler   config.SchedulerConfig
	Approval    config.ApprovalConfig
	MaxPageSize int
	// Clock defaults to time.Now. Tests pin it.
	Clock func() time.Time
	// Waker is optional; workers poll when it is nil.
	Waker Waker
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 200
	}
	if o.Scheduler.LockStaleAfter <= 0 {
		o.Scheduler.LockStaleAfter = 10 * time.Minute
	}
	if o.Scheduler.DefaultRetryDelay <= 0 {
		o.Scheduler.DefaultRetryDelay = 60 * time.Second
	}
	if o.Scheduler.DefaultTimeout <= 0 {
		o.Scheduler.DefaultTimeout = 300 * time.Second
	}
	if o.Scheduler.DefaultMaxRetries < 0 {
		o.Scheduler.DefaultMaxRetries = 0
	}
	if o.Approval.ApproachingWindow <= 0 {
		o.Approval.ApproachingWindow = 24 * time.Hour
	}
	return o
}

func (o Options) now() time.Time {
	return o.Clock().UTC()
}

type Services struct {
	txRunner TxRunner
	opts     Options
}

func NewServices(txRunner TxRunner, opts Options) *Services {
	return &Services{
		txRunner: txRunner,
		opts:     opts.withDefaults(),
	}
}

func (s *Services) Jobs() JobService {
	return NewJobService(s.txRunner, s.opts)
}

func (s *Services) JobSchedules() JobScheduleService {
	return NewJobScheduleService(s.txRunner, s.opts)
}

func (s *Services) ApprovalWorkflows() ApprovalWorkflowService {
	return NewApprovalWorkflowService(s.txRunner, s.opts)
}

func (s *Services) ApprovalRequests() ApprovalRequestService {
	return NewApprovalRequestService(s.txRunner, s.opts)
}
