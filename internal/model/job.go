package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeOneTime   JobType = "OneTime"
	JobTypeRecurring JobType = "Recurring"
	JobTypeCron      JobType = "Cron"
)

var JobTypeValues = []JobType{JobTypeOneTime, JobTypeRecurring, JobTypeCron}

func ParseJobType(s string) JobType { return parseEnum(s, JobTypeValues, JobTypeOneTime) }

func (t JobType) Valid() bool { return isVariant(t, JobTypeValues) }

// IsRecurring reports whether completion reschedules the job instead of ending it.
func (t JobType) IsRecurring() bool {
	return t == JobTypeRecurring || t == JobTypeCron
}

func (t JobType) Value() (driver.Value, error) { return string(t), nil }

func (t *JobType) Scan(src any) error {
	v, err := scanEnum(src, JobTypeValues, JobTypeOneTime, "JobType")
	*t = v
	return err
}

func (t *JobType) UnmarshalText(b []byte) error {
	*t = ParseJobType(string(b))
	return nil
}

type JobPriority string

const (
	JobPriorityCritical JobPriority = "Critical"
	JobPriorityHigh     JobPriority = "High"
	JobPriorityNormal   JobPriority = "Normal"
	JobPriorityLow      JobPriority = "Low"
)

var JobPriorityValues = []JobPriority{JobPriorityCritical, JobPriorityHigh, JobPriorityNormal, JobPriorityLow}

func ParseJobPriority(s string) JobPriority {
	return parseEnum(s, JobPriorityValues, JobPriorityNormal)
}

func (p JobPriority) Valid() bool { return isVariant(p, JobPriorityValues) }

// Rank orders priorities for dispatch; lower runs first.
func (p JobPriority) Rank() int {
	switch p {
	case JobPriorityCritical:
		return 0
	case JobPriorityHigh:
		return 1
	case JobPriorityLow:
		return 3
	default:
		return 2
	}
}

func (p JobPriority) Value() (driver.Value, error) { return string(p), nil }

func (p *JobPriority) Scan(src any) error {
	v, err := scanEnum(src, JobPriorityValues, JobPriorityNormal, "JobPriority")
	*p = v
	return err
}

func (p *JobPriority) UnmarshalText(b []byte) error {
	*p = ParseJobPriority(string(b))
	return nil
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "Pending"
	JobStatusScheduled JobStatus = "Scheduled"
	JobStatusRunning   JobStatus = "Running"
	JobStatusCompleted JobStatus = "Completed"
	JobStatusFailed    JobStatus = "Failed"
	JobStatusCancelled JobStatus = "Cancelled"
)

var JobStatusValues = []JobStatus{
	JobStatusPending, JobStatusScheduled, JobStatusRunning,
	JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
}

func ParseJobStatus(s string) JobStatus { return parseEnum(s, JobStatusValues, JobStatusPending) }

func (s JobStatus) Valid() bool { return isVariant(s, JobStatusValues) }

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *JobStatus) Scan(src any) error {
	v, err := scanEnum(src, JobStatusValues, JobStatusPending, "JobStatus")
	*s = v
	return err
}

func (s *JobStatus) UnmarshalText(b []byte) error {
	*s = ParseJobStatus(string(b))
	return nil
}

// ScheduledJob is a durable request to invoke a registered handler.
type ScheduledJob struct {
	Audit

	Name     string          `json:"name"`
	JobType  JobType         `json:"job_type"`
	Handler  string          `json:"handler"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority JobPriority     `json:"priority"`
	Tags     []string        `json:"tags,omitempty"`

	CronExpression  *string `json:"cron_expression,omitempty"`
	IntervalSeconds *int64  `json:"interval_seconds,omitempty"`

	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Status       JobStatus `json:"status"`
	RunCount     int64     `json:"run_count"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`

	MaxRetries        int   `json:"max_retries"`
	RetryCount        int   `json:"retry_count"`
	RetryDelaySeconds int64 `json:"retry_delay_seconds"`
	TimeoutSeconds    int64 `json:"timeout_seconds"`

	LastError      *string `json:"last_error,omitempty"`
	LastDurationMs *int64  `json:"last_duration_ms,omitempty"`
	AvgDurationMs  *int64  `json:"avg_duration_ms,omitempty"`

	LockedBy *string    `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
}

// DueAt is the instant the job becomes eligible to run; nil means immediately.
func (j *ScheduledJob) DueAt() *time.Time {
	if j.NextRunAt != nil {
		return j.NextRunAt
	}
	return j.ScheduledAt
}

// LockStale reports whether the job's lock is absent or older than staleAfter.
func (j *ScheduledJob) LockStale(now time.Time, staleAfter time.Duration) bool {
	if j.LockedBy == nil || j.LockedAt == nil {
		return true
	}
	return j.LockedAt.Before(now.Add(-staleAfter))
}

// Timeout is the handler deadline, falling back to def when unset.
func (j *ScheduledJob) Timeout(def time.Duration) time.Duration {
	if j.TimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// RecordRun applies a finished run to the counters. run_count always equals
// success_count + failure_count and the average is an integer running mean.
func (j *ScheduledJob) RecordRun(success bool, errMsg *string, durationMs int64, now time.Time) {
	now = now.UTC()
	j.RunCount++
	if success {
		j.SuccessCount++
		j.LastSuccessAt = &now
		j.LastError = nil
	} else {
		j.FailureCount++
		j.LastFailureAt = &now
		j.LastError = errMsg
	}

	var prevAvg int64
	if j.AvgDurationMs != nil {
		prevAvg = *j.AvgDurationMs
	}
	avg := (prevAvg*(j.RunCount-1) + durationMs) / j.RunCount
	j.AvgDurationMs = &avg
	last := durationMs
	j.LastDurationMs = &last
	j.LastRunAt = &now
	j.CompletedAt = &now
}

type JobFilter struct {
	Status  *JobStatus
	Handler *string
}

type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "Running"
	ExecutionStatusCompleted ExecutionStatus = "Completed"
	ExecutionStatusFailed    ExecutionStatus = "Failed"
	ExecutionStatusCancelled ExecutionStatus = "Cancelled"
	ExecutionStatusTimeout   ExecutionStatus = "Timeout"
)

var ExecutionStatusValues = []ExecutionStatus{
	ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed,
	ExecutionStatusCancelled, ExecutionStatusTimeout,
}

func ParseExecutionStatus(s string) ExecutionStatus {
	return parseEnum(s, ExecutionStatusValues, ExecutionStatusRunning)
}

func (s ExecutionStatus) Valid() bool { return isVariant(s, ExecutionStatusValues) }

func (s ExecutionStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *ExecutionStatus) Scan(src any) error {
	v, err := scanEnum(src, ExecutionStatusValues, ExecutionStatusRunning, "ExecutionStatus")
	*s = v
	return err
}

func (s *ExecutionStatus) UnmarshalText(b []byte) error {
	*s = ParseExecutionStatus(string(b))
	return nil
}

// JobExecution records one attempt at running a job.
type JobExecution struct {
	ID              uuid.UUID       `json:"id"`
	JobID           uuid.UUID       `json:"job_id"`
	ExecutionNumber int64           `json:"execution_number"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationMs      *int64          `json:"duration_ms,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	ErrorStackTrace *string         `json:"error_stack_trace,omitempty"`
	RetryOfID       *uuid.UUID      `json:"retry_of_id,omitempty"`
	RetryNumber     int             `json:"retry_number"`
	WorkerID        *string         `json:"worker_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
