package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/core/db"
	"ergon.app/erp/internal/model"
)

const scheduleColumns = `id, name, description, schedule_type, cron_expression, interval_seconds,
	specific_times, handler, payload, priority, enabled, next_scheduled_run, last_run, last_job_id,
	created_by, updated_by, created_at, updated_at`

type jobScheduleStore struct {
	queries *db.Queries
}

func newJobScheduleStore(queries *db.Queries) JobScheduleStore {
	return &jobScheduleStore{queries: queries}
}

func (s *jobScheduleStore) Create(ctx context.Context, js *model.JobSchedule) error {
	js.EnsureCreated(time.Now())
	_, err := s.queries.Exec(ctx, `INSERT INTO job_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		js.ID, js.Name, stringArg(js.Description), js.ScheduleType, stringArg(js.CronExpression),
		int64Arg(js.IntervalSeconds), stringArg(js.SpecificTimes), js.Handler, rawArg(js.Payload),
		js.Priority, boolArg(js.Enabled), timeArg(js.NextScheduledRun), timeArg(js.LastRun),
		uuidArg(js.LastJobID), uuidArg(js.CreatedBy), uuidArg(js.UpdatedBy),
		formatTime(js.CreatedAt), formatTime(js.UpdatedAt),
	)
	return translate(err, "job schedule", js.Name)
}

func (s *jobScheduleStore) GetByID(ctx context.Context, id uuid.UUID) (*model.JobSchedule, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM job_schedules WHERE id = ?`, id)
	js, err := scanSchedule(row)
	if err != nil {
		return nil, translate(err, "job schedule", id.String())
	}
	return js, nil
}

func (s *jobScheduleStore) Update(ctx context.Context, js *model.JobSchedule) error {
	res, err := s.queries.Exec(ctx, `UPDATE job_schedules SET
		name = ?, description = ?, schedule_type = ?, cron_expression = ?, interval_seconds = ?,
		specific_times = ?, handler = ?, payload = ?, priority = ?, enabled = ?,
		next_scheduled_run = ?, last_run = ?, last_job_id = ?, updated_by = ?, updated_at = ?
		WHERE id = ?`,
		js.Name, stringArg(js.Description), js.ScheduleType, stringArg(js.CronExpression),
		int64Arg(js.IntervalSeconds), stringArg(js.SpecificTimes), js.Handler, rawArg(js.Payload),
		js.Priority, boolArg(js.Enabled), timeArg(js.NextScheduledRun), timeArg(js.LastRun),
		uuidArg(js.LastJobID), uuidArg(js.UpdatedBy), formatTime(js.UpdatedAt), js.ID,
	)
	if err != nil {
		return translate(err, "job schedule", js.Name)
	}
	return expectOne(res, "job schedule", js.ID.String())
}

func (s *jobScheduleStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.queries.Exec(ctx, `DELETE FROM job_schedules WHERE id = ?`, id)
	if err != nil {
		return translate(err, "job schedule", id.String())
	}
	return expectOne(res, "job schedule", id.String())
}

func (s *jobScheduleStore) List(ctx context.Context, enabled *bool, page model.Pagination) (model.Paginated[model.JobSchedule], error) {
	where, args := "", []any{}
	if enabled != nil {
		where = " WHERE enabled = ?"
		args = append(args, boolArg(*enabled))
	}

	result := model.Paginated[model.JobSchedule]{Page: page.Page, PerPage: page.PerPage, Items: []model.JobSchedule{}}
	if err := s.queries.QueryRow(ctx, `SELECT COUNT(*) FROM job_schedules`+where, args...).Scan(&result.TotalCount); err != nil {
		return result, translate(err, "job schedule", "count")
	}

	rows, err := s.queries.Query(ctx, `SELECT `+scheduleColumns+` FROM job_schedules`+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return result, translate(err, "job schedule", "list")
	}
	result.Items, err = collectSchedules(rows)
	return result, err
}

func (s *jobScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]model.JobSchedule, error) {
	rows, err := s.queries.Query(ctx, `SELECT `+scheduleColumns+` FROM job_schedules
		WHERE enabled = 1 AND next_scheduled_run IS NOT NULL AND next_scheduled_run <= ?
		ORDER BY next_scheduled_run, id
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, translate(err, "job schedule", "due")
	}
	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]model.JobSchedule, error) {
	defer rows.Close()

	out := []model.JobSchedule{}
	for rows.Next() {
		js, err := scanSchedule(rows)
		if err != nil {
			return nil, translate(err, "job schedule", "scan")
		}
		out = append(out, *js)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "job schedule", "rows")
	}
	return out, nil
}

func scanSchedule(row rowScanner) (*model.JobSchedule, error) {
	var (
		js                             model.JobSchedule
		desc, cronExpr, times, payload sql.NullString
		nextRun, lastRun               sql.NullString
		createdAt, updatedAt           string
		interval                       sql.NullInt64
		enabled                        int64
		lastJob, createdBy, updatedBy  uuid.NullUUID
	)
	err := row.Scan(&js.ID, &js.Name, &desc, &js.ScheduleType, &cronExpr, &interval, &times, &js.Handler,
		&payload, &js.Priority, &enabled, &nextRun, &lastRun, &lastJob, &createdBy, &updatedBy,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	js.Description = nullString(desc)
	js.CronExpression = nullString(cronExpr)
	js.IntervalSeconds = nullInt64(interval)
	js.SpecificTimes = nullString(times)
	js.Payload = nullRaw(payload)
	js.Enabled = enabled != 0
	js.LastJobID = nullUUID(lastJob)
	js.CreatedBy = nullUUID(createdBy)
	js.UpdatedBy = nullUUID(updatedBy)
	if js.NextScheduledRun, err = parseNullTime(nextRun); err != nil {
		return nil, err
	}
	if js.LastRun, err = parseNullTime(lastRun); err != nil {
		return nil, err
	}
	if js.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if js.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &js, nil
}
