package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ScheduleType string

const (
	ScheduleTypeCron          ScheduleType = "Cron"
	ScheduleTypeInterval      ScheduleType = "Interval"
	ScheduleTypeDaily         ScheduleType = "Daily"
	ScheduleTypeWeekly        ScheduleType = "Weekly"
	ScheduleTypeMonthly       ScheduleType = "Monthly"
	ScheduleTypeSpecificTimes ScheduleType = "SpecificTimes"
)

var ScheduleTypeValues = []ScheduleType{
	ScheduleTypeCron, ScheduleTypeInterval, ScheduleTypeDaily,
	ScheduleTypeWeekly, ScheduleTypeMonthly, ScheduleTypeSpecificTimes,
}

func ParseScheduleType(s string) ScheduleType {
	return parseEnum(s, ScheduleTypeValues, ScheduleTypeCron)
}

func (t ScheduleType) Valid() bool { return isVariant(t, ScheduleTypeValues) }

func (t ScheduleType) Value() (driver.Value, error) { return string(t), nil }

func (t *ScheduleType) Scan(src any) error {
	v, err := scanEnum(src, ScheduleTypeValues, ScheduleTypeCron, "ScheduleType")
	*t = v
	return err
}

func (t *ScheduleType) UnmarshalText(b []byte) error {
	*t = ParseScheduleType(string(b))
	return nil
}

// JobSchedule is an operator-managed definition that produces one-time jobs.
type JobSchedule struct {
	Audit

	Name            string          `json:"name"`
	Description     *string         `json:"description,omitempty"`
	ScheduleType    ScheduleType    `json:"schedule_type"`
	CronExpression  *string         `json:"cron_expression,omitempty"`
	IntervalSeconds *int64          `json:"interval_seconds,omitempty"`
	SpecificTimes   *string         `json:"specific_times,omitempty"`
	Handler         string          `json:"handler"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Priority        JobPriority     `json:"priority"`
	Enabled         bool            `json:"enabled"`

	NextScheduledRun *time.Time `json:"next_scheduled_run,omitempty"`
	LastRun          *time.Time `json:"last_run,omitempty"`
	LastJobID        *uuid.UUID `json:"last_job_id,omitempty"`
}
