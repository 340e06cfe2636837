package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

type SubmitJobRequest struct {
	Name              string            `json:"name" binding:"required,max=255"`
	Handler           string            `json:"handler" binding:"required,max=255"`
	Payload           json.RawMessage   `json:"payload,omitempty"`
	Priority          model.JobPriority `json:"priority,omitempty"`
	ScheduledAt       *time.Time        `json:"scheduled_at,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty" binding:"omitempty,min=0"`
	RetryDelaySeconds *int64            `json:"retry_delay_seconds,omitempty" binding:"omitempty,min=0"`
	TimeoutSeconds    *int64            `json:"timeout_seconds,omitempty" binding:"omitempty,min=1"`
	Tags              []string          `json:"tags,omitempty"`
}

func (r SubmitJobRequest) Params(actor *uuid.UUID) service.SubmitJobParams {
	return service.SubmitJobParams{
		Name:              r.Name,
		Handler:           r.Handler,
		Payload:           r.Payload,
		Priority:          r.Priority,
		ScheduledAt:       r.ScheduledAt,
		CreatedBy:         actor,
		MaxRetries:        r.MaxRetries,
		RetryDelaySeconds: r.RetryDelaySeconds,
		TimeoutSeconds:    r.TimeoutSeconds,
		Tags:              r.Tags,
	}
}

type RecurringJobRequest struct {
	Name              string            `json:"name" binding:"required,max=255"`
	Handler           string            `json:"handler" binding:"required,max=255"`
	CronExpression    string            `json:"cron_expression,omitempty"`
	IntervalSeconds   int64             `json:"interval_seconds,omitempty"`
	Payload           json.RawMessage   `json:"payload,omitempty"`
	Priority          model.JobPriority `json:"priority,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty" binding:"omitempty,min=0"`
	RetryDelaySeconds *int64            `json:"retry_delay_seconds,omitempty" binding:"omitempty,min=0"`
	TimeoutSeconds    *int64            `json:"timeout_seconds,omitempty" binding:"omitempty,min=1"`
}

func (r RecurringJobRequest) Params(actor *uuid.UUID) service.RecurringJobParams {
	return service.RecurringJobParams{
		Name:              r.Name,
		Handler:           r.Handler,
		CronExpression:    r.CronExpression,
		IntervalSeconds:   r.IntervalSeconds,
		Payload:           r.Payload,
		Priority:          r.Priority,
		CreatedBy:         actor,
		MaxRetries:        r.MaxRetries,
		RetryDelaySeconds: r.RetryDelaySeconds,
		TimeoutSeconds:    r.TimeoutSeconds,
	}
}

// ListJobsQuery binds GET /jobs query parameters.
type ListJobsQuery struct {
	model.Pagination
	Status  string `form:"status"`
	Handler string `form:"handler"`
}

func (q ListJobsQuery) Filter() model.JobFilter {
	var f model.JobFilter
	if q.Status != "" {
		s := model.ParseJobStatus(q.Status)
		f.Status = &s
	}
	if q.Handler != "" {
		f.Handler = &q.Handler
	}
	return f
}
