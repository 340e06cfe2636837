package dto

import (
	"encoding/json"

	"github.com/google/uuid"

	"ergon.app/erp/internal/model"
	"ergon.app/erp/internal/service"
)

type CreateScheduleRequest struct {
	Name            string             `json:"name" binding:"required,max=255"`
	Description     *string            `json:"description,omitempty"`
	ScheduleType    model.ScheduleType `json:"schedule_type" binding:"required"`
	CronExpression  *string            `json:"cron_expression,omitempty"`
	IntervalSeconds *int64             `json:"interval_seconds,omitempty"`
	SpecificTimes   *string            `json:"specific_times,omitempty"`
	Handler         string             `json:"handler" binding:"required,max=255"`
	Payload         json.RawMessage    `json:"payload,omitempty"`
	Priority        model.JobPriority  `json:"priority,omitempty"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty"`
}

func (r CreateScheduleRequest) Params(actor *uuid.UUID) service.CreateScheduleParams {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return service.CreateScheduleParams{
		Name:            r.Name,
		Description:     r.Description,
		ScheduleType:    r.ScheduleType,
		CronExpression:  r.CronExpression,
		IntervalSeconds: r.IntervalSeconds,
		SpecificTimes:   r.SpecificTimes,
		Handler:         r.Handler,
		Payload:         r.Payload,
		Priority:        r.Priority,
		Enabled:         enabled,
		CreatedBy:       actor,
	}
}

type ListSchedulesQuery struct {
	model.Pagination
	Enabled *bool `form:"enabled"`
}
