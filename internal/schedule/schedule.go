// Package schedule computes run times for cron jobs and job schedules.
//
// Cron expressions use six fields (second minute hour day-of-month month
// day-of-week) and the descriptors @yearly, @monthly, @weekly, @daily,
// @hourly and @every <duration>. Evaluation is always in UTC and the next
// run is strictly after the reference instant.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/internal/model"
)

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates expr and returns its schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, apperr.Validation("cron expression is required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, apperr.Validation("invalid cron expression %q: %v", expr, err)
	}
	return sched, nil
}

// NextCron returns the first instant strictly after after that matches expr.
func NextCron(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after.UTC())
	if next.IsZero() {
		return time.Time{}, apperr.Validation("cron expression %q never fires", expr)
	}
	return next.UTC(), nil
}

// Spec describes when a JobSchedule fires.
type Spec struct {
	Type            model.ScheduleType
	CronExpression  string
	IntervalSeconds int64
	// Times is a comma-separated list of HH:MM instants in UTC.
	Times string
}

// FromJobSchedule extracts the timing fields of s.
func FromJobSchedule(s *model.JobSchedule) Spec {
	spec := Spec{Type: s.ScheduleType}
	if s.CronExpression != nil {
		spec.CronExpression = *s.CronExpression
	}
	if s.IntervalSeconds != nil {
		spec.IntervalSeconds = *s.IntervalSeconds
	}
	if s.SpecificTimes != nil {
		spec.Times = *s.SpecificTimes
	}
	return spec
}

func (s Spec) Validate() error {
	switch s.Type {
	case model.ScheduleTypeCron:
		_, err := ParseCron(s.CronExpression)
		return err
	case model.ScheduleTypeInterval:
		if s.IntervalSeconds <= 0 {
			return apperr.Validation("interval schedule needs a positive interval_seconds")
		}
	case model.ScheduleTypeSpecificTimes:
		_, err := parseTimes(s.Times)
		return err
	case model.ScheduleTypeDaily, model.ScheduleTypeWeekly, model.ScheduleTypeMonthly:
	default:
		return apperr.Validation("unknown schedule type %q", s.Type)
	}
	return nil
}

// Next returns the run following after.
func (s Spec) Next(after time.Time) (time.Time, error) {
	after = after.UTC()
	switch s.Type {
	case model.ScheduleTypeCron:
		return NextCron(s.CronExpression, after)
	case model.ScheduleTypeInterval:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, apperr.Validation("interval schedule needs a positive interval_seconds")
		}
		return after.Add(time.Duration(s.IntervalSeconds) * time.Second), nil
	case model.ScheduleTypeDaily:
		return after.AddDate(0, 0, 1), nil
	case model.ScheduleTypeWeekly:
		return after.AddDate(0, 0, 7), nil
	case model.ScheduleTypeMonthly:
		return after.AddDate(0, 1, 0), nil
	case model.ScheduleTypeSpecificTimes:
		times, err := parseTimes(s.Times)
		if err != nil {
			return time.Time{}, err
		}
		return nextSpecificTime(times, after), nil
	default:
		return time.Time{}, apperr.Validation("unknown schedule type %q", s.Type)
	}
}

type clock struct{ hour, minute int }

func parseTimes(list string) ([]clock, error) {
	var out []clock
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, m, ok := strings.Cut(part, ":")
		if !ok {
			return nil, apperr.Validation("invalid time %q, want HH:MM", part)
		}
		hour, err := strconv.Atoi(h)
		if err != nil || hour < 0 || hour > 23 {
			return nil, apperr.Validation("invalid hour in %q", part)
		}
		minute, err := strconv.Atoi(m)
		if err != nil || minute < 0 || minute > 59 {
			return nil, apperr.Validation("invalid minute in %q", part)
		}
		out = append(out, clock{hour, minute})
	}
	if len(out) == 0 {
		return nil, apperr.Validation("specific_times needs at least one HH:MM entry")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].hour != out[j].hour {
			return out[i].hour < out[j].hour
		}
		return out[i].minute < out[j].minute
	})
	return out, nil
}

func nextSpecificTime(times []clock, after time.Time) time.Time {
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
	for offset := 0; offset < 2; offset++ {
		d := day.AddDate(0, 0, offset)
		for _, c := range times {
			t := d.Add(time.Duration(c.hour)*time.Hour + time.Duration(c.minute)*time.Minute)
			if t.After(after) {
				return t
			}
		}
	}
	// Unreachable with a non-empty list; tomorrow's first slot always qualifies.
	panic(fmt.Sprintf("no specific time after %s", after))
}
