package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/core/db"
	"ergon.app/erp/internal/model"
)

const jobColumns = `id, name, job_type, handler, payload, priority, cron_expression, interval_seconds,
	scheduled_at, started_at, completed_at, next_run_at, last_run_at, last_success_at, last_failure_at,
	status, run_count, success_count, failure_count, max_retries, retry_count, retry_delay_seconds,
	timeout_seconds, last_error, last_duration_ms, avg_duration_ms, tags, created_by, updated_by,
	locked_by, locked_at, created_at, updated_at`

type jobStore struct {
	queries *db.Queries
}

func newJobStore(queries *db.Queries) JobStore {
	return &jobStore{queries: queries}
}

func (s *jobStore) Create(ctx context.Context, job *model.ScheduledJob) error {
	job.EnsureCreated(time.Now())
	tags, err := tagsArg(job.Tags)
	if err != nil {
		return err
	}

	_, err = s.queries.Exec(ctx, `INSERT INTO scheduled_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.JobType, job.Handler, rawArg(job.Payload), job.Priority,
		stringArg(job.CronExpression), int64Arg(job.IntervalSeconds),
		timeArg(job.ScheduledAt), timeArg(job.StartedAt), timeArg(job.CompletedAt), timeArg(job.NextRunAt),
		timeArg(job.LastRunAt), timeArg(job.LastSuccessAt), timeArg(job.LastFailureAt),
		job.Status, job.RunCount, job.SuccessCount, job.FailureCount,
		job.MaxRetries, job.RetryCount, job.RetryDelaySeconds, job.TimeoutSeconds,
		stringArg(job.LastError), int64Arg(job.LastDurationMs), int64Arg(job.AvgDurationMs), tags,
		uuidArg(job.CreatedBy), uuidArg(job.UpdatedBy),
		stringArg(job.LockedBy), timeArg(job.LockedAt),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	return translate(err, "job", job.Name)
}

func (s *jobStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ScheduledJob, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, translate(err, "job", id.String())
	}
	return job, nil
}

func (s *jobStore) GetActiveByName(ctx context.Context, name string) (*model.ScheduledJob, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE name = ? AND status IN ('Pending', 'Scheduled', 'Running')`, name)
	job, err := scanJob(row)
	if err != nil {
		return nil, translate(err, "job", name)
	}
	return job, nil
}

func (s *jobStore) Update(ctx context.Context, job *model.ScheduledJob) error {
	tags, err := tagsArg(job.Tags)
	if err != nil {
		return err
	}

	res, err := s.queries.Exec(ctx, `UPDATE scheduled_jobs SET
		name = ?, job_type = ?, handler = ?, payload = ?, priority = ?, cron_expression = ?, interval_seconds = ?,
		scheduled_at = ?, started_at = ?, completed_at = ?, next_run_at = ?, last_run_at = ?,
		last_success_at = ?, last_failure_at = ?, status = ?, run_count = ?, success_count = ?,
		failure_count = ?, max_retries = ?, retry_count = ?, retry_delay_seconds = ?, timeout_seconds = ?,
		last_error = ?, last_duration_ms = ?, avg_duration_ms = ?, tags = ?, updated_by = ?,
		locked_by = ?, locked_at = ?, updated_at = ?
		WHERE id = ?`,
		job.Name, job.JobType, job.Handler, rawArg(job.Payload), job.Priority,
		stringArg(job.CronExpression), int64Arg(job.IntervalSeconds),
		timeArg(job.ScheduledAt), timeArg(job.StartedAt), timeArg(job.CompletedAt), timeArg(job.NextRunAt),
		timeArg(job.LastRunAt), timeArg(job.LastSuccessAt), timeArg(job.LastFailureAt),
		job.Status, job.RunCount, job.SuccessCount, job.FailureCount,
		job.MaxRetries, job.RetryCount, job.RetryDelaySeconds, job.TimeoutSeconds,
		stringArg(job.LastError), int64Arg(job.LastDurationMs), int64Arg(job.AvgDurationMs), tags,
		uuidArg(job.UpdatedBy), stringArg(job.LockedBy), timeArg(job.LockedAt),
		formatTime(job.UpdatedAt), job.ID,
	)
	if err != nil {
		return translate(err, "job", job.Name)
	}
	return expectOne(res, "job", job.ID.String())
}

func (s *jobStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.queries.Exec(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return translate(err, "job", id.String())
	}
	return expectOne(res, "job", id.String())
}

func (s *jobStore) List(ctx context.Context, filter model.JobFilter, page model.Pagination) (model.Paginated[model.ScheduledJob], error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.Handler != nil {
		conds = append(conds, "handler = ?")
		args = append(args, *filter.Handler)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	result := model.Paginated[model.ScheduledJob]{Page: page.Page, PerPage: page.PerPage, Items: []model.ScheduledJob{}}
	if err := s.queries.QueryRow(ctx, `SELECT COUNT(*) FROM scheduled_jobs`+where, args...).Scan(&result.TotalCount); err != nil {
		return result, translate(err, "job", "count")
	}

	rows, err := s.queries.Query(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs`+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return result, translate(err, "job", "list")
	}
	result.Items, err = collectJobs(rows)
	return result, err
}

var dueJobsQuery = `SELECT ` + jobColumns + ` FROM scheduled_jobs
	WHERE (
		status IN ('Pending', 'Scheduled')
		AND (COALESCE(next_run_at, scheduled_at) IS NULL OR COALESCE(next_run_at, scheduled_at) <= ?)
		AND (locked_by IS NULL OR locked_at IS NULL OR locked_at < ?)
	) OR (
		status = 'Running' AND (locked_at IS NULL OR locked_at < ?)
	)
	ORDER BY ` + priorityRank + `, created_at, id
	LIMIT ?`

const priorityRank = `CASE priority
		WHEN 'Critical' THEN 0
		WHEN 'High' THEN 1
		WHEN 'Normal' THEN 2
		ELSE 3
	END`

func (s *jobStore) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]model.ScheduledJob, error) {
	stale := formatTime(staleBefore)
	rows, err := s.queries.Query(ctx, dueJobsQuery, formatTime(now), stale, stale, limit)
	if err != nil {
		return nil, translate(err, "job", "due")
	}
	return collectJobs(rows)
}

func (s *jobStore) AcquireLock(ctx context.Context, id uuid.UUID, workerID string, now, staleBefore time.Time) (bool, error) {
	res, err := s.queries.Exec(ctx, `UPDATE scheduled_jobs
		SET locked_by = ?, locked_at = ?
		WHERE id = ?
		  AND status NOT IN ('Completed', 'Failed', 'Cancelled')
		  AND (locked_by IS NULL OR locked_at IS NULL OR locked_at < ?)`,
		workerID, formatTime(now), id, formatTime(staleBefore))
	if err != nil {
		return false, translate(err, "job", id.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "job", id.String())
	}
	return n == 1, nil
}

func (s *jobStore) RefreshLock(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error) {
	res, err := s.queries.Exec(ctx, `UPDATE scheduled_jobs SET locked_at = ? WHERE id = ? AND locked_by = ?`,
		formatTime(now), id, workerID)
	if err != nil {
		return false, translate(err, "job", id.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate(err, "job", id.String())
	}
	return n == 1, nil
}

func (s *jobStore) ReleaseLock(ctx context.Context, id uuid.UUID) error {
	_, err := s.queries.Exec(ctx, `UPDATE scheduled_jobs SET locked_by = NULL, locked_at = NULL WHERE id = ?`, id)
	return translate(err, "job", id.String())
}

func collectJobs(rows *sql.Rows) ([]model.ScheduledJob, error) {
	defer rows.Close()

	jobs := []model.ScheduledJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, translate(err, "job", "scan")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "job", "rows")
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*model.ScheduledJob, error) {
	var (
		job                                          model.ScheduledJob
		payload, cronExpr, lastError, tags, lockedBy sql.NullString
		scheduledAt, startedAt, completedAt, nextRun sql.NullString
		lastRun, lastSuccess, lastFailure, lockedAt  sql.NullString
		createdAt, updatedAt                         string
		interval, lastDuration, avgDuration          sql.NullInt64
		createdBy, updatedBy                         uuid.NullUUID
	)

	err := row.Scan(
		&job.ID, &job.Name, &job.JobType, &job.Handler, &payload, &job.Priority, &cronExpr, &interval,
		&scheduledAt, &startedAt, &completedAt, &nextRun, &lastRun, &lastSuccess, &lastFailure,
		&job.Status, &job.RunCount, &job.SuccessCount, &job.FailureCount, &job.MaxRetries, &job.RetryCount,
		&job.RetryDelaySeconds, &job.TimeoutSeconds, &lastError, &lastDuration, &avgDuration, &tags,
		&createdBy, &updatedBy, &lockedBy, &lockedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = nullRaw(payload)
	job.CronExpression = nullString(cronExpr)
	job.IntervalSeconds = nullInt64(interval)
	job.LastError = nullString(lastError)
	job.LastDurationMs = nullInt64(lastDuration)
	job.AvgDurationMs = nullInt64(avgDuration)
	job.LockedBy = nullString(lockedBy)
	job.CreatedBy = nullUUID(createdBy)
	job.UpdatedBy = nullUUID(updatedBy)
	if job.Tags, err = parseTags(tags); err != nil {
		return nil, err
	}

	times := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{scheduledAt, &job.ScheduledAt}, {startedAt, &job.StartedAt}, {completedAt, &job.CompletedAt},
		{nextRun, &job.NextRunAt}, {lastRun, &job.LastRunAt}, {lastSuccess, &job.LastSuccessAt},
		{lastFailure, &job.LastFailureAt}, {lockedAt, &job.LockedAt},
	}
	for _, t := range times {
		if *t.dst, err = parseNullTime(t.src); err != nil {
			return nil, err
		}
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}
