package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/core/db"
	"ergon.app/erp/internal/model"
)

const executionColumns = `id, job_id, execution_number, started_at, completed_at, duration_ms, status,
	result, error_message, error_stack_trace, retry_of_id, retry_number, worker_id, created_at, updated_at`

type jobExecutionStore struct {
	queries *db.Queries
}

func newJobExecutionStore(queries *db.Queries) JobExecutionStore {
	return &jobExecutionStore{queries: queries}
}

func (s *jobExecutionStore) Create(ctx context.Context, e *model.JobExecution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.StartedAt
	}
	if e.UpdatedAt.Before(e.CreatedAt) {
		e.UpdatedAt = e.CreatedAt
	}

	_, err := s.queries.Exec(ctx, `INSERT INTO job_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.ExecutionNumber, formatTime(e.StartedAt), timeArg(e.CompletedAt),
		int64Arg(e.DurationMs), e.Status, rawArg(e.Result), stringArg(e.ErrorMessage),
		stringArg(e.ErrorStackTrace), uuidArg(e.RetryOfID), e.RetryNumber, stringArg(e.WorkerID),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	return translate(err, "job execution", e.ID.String())
}

func (s *jobExecutionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.JobExecution, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err != nil {
		return nil, translate(err, "job execution", id.String())
	}
	return e, nil
}

func (s *jobExecutionStore) Update(ctx context.Context, e *model.JobExecution) error {
	res, err := s.queries.Exec(ctx, `UPDATE job_executions SET
		completed_at = ?, duration_ms = ?, status = ?, result = ?, error_message = ?,
		error_stack_trace = ?, updated_at = ?
		WHERE id = ?`,
		timeArg(e.CompletedAt), int64Arg(e.DurationMs), e.Status, rawArg(e.Result),
		stringArg(e.ErrorMessage), stringArg(e.ErrorStackTrace), formatTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return translate(err, "job execution", e.ID.String())
	}
	return expectOne(res, "job execution", e.ID.String())
}

func (s *jobExecutionStore) Latest(ctx context.Context, jobID uuid.UUID) (*model.JobExecution, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+executionColumns+` FROM job_executions
		WHERE job_id = ? ORDER BY execution_number DESC LIMIT 1`, jobID)
	e, err := scanExecution(row)
	if err != nil {
		return nil, translate(err, "job execution", "latest for "+jobID.String())
	}
	return e, nil
}

func (s *jobExecutionStore) NextNumber(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var n int64
	err := s.queries.QueryRow(ctx, `SELECT COALESCE(MAX(execution_number), 0) + 1 FROM job_executions WHERE job_id = ?`,
		jobID).Scan(&n)
	if err != nil {
		return 0, translate(err, "job execution", "next number")
	}
	return n, nil
}

func (s *jobExecutionStore) ListByJob(ctx context.Context, jobID uuid.UUID, page model.Pagination) (model.Paginated[model.JobExecution], error) {
	result := model.Paginated[model.JobExecution]{Page: page.Page, PerPage: page.PerPage, Items: []model.JobExecution{}}
	if err := s.queries.QueryRow(ctx, `SELECT COUNT(*) FROM job_executions WHERE job_id = ?`, jobID).
		Scan(&result.TotalCount); err != nil {
		return result, translate(err, "job execution", "count")
	}

	rows, err := s.queries.Query(ctx, `SELECT `+executionColumns+` FROM job_executions
		WHERE job_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, jobID, page.PerPage, page.Offset())
	if err != nil {
		return result, translate(err, "job execution", "list")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return result, translate(err, "job execution", "scan")
		}
		result.Items = append(result.Items, *e)
	}
	return result, translate(rows.Err(), "job execution", "rows")
}

func (s *jobExecutionStore) FailRunning(ctx context.Context, jobID uuid.UUID, message string, now time.Time) (int64, error) {
	ts := formatTime(now)
	res, err := s.queries.Exec(ctx, `UPDATE job_executions
		SET status = 'Failed', error_message = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status = 'Running'`, message, ts, ts, jobID)
	if err != nil {
		return 0, translate(err, "job execution", jobID.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate(err, "job execution", jobID.String())
	}
	return n, nil
}

func scanExecution(row rowScanner) (*model.JobExecution, error) {
	var (
		e                                        model.JobExecution
		startedAt, createdAt, updatedAt          string
		completedAt, result, errMsg, stack, wkID sql.NullString
		duration                                 sql.NullInt64
		retryOf                                  uuid.NullUUID
	)
	err := row.Scan(&e.ID, &e.JobID, &e.ExecutionNumber, &startedAt, &completedAt, &duration, &e.Status,
		&result, &errMsg, &stack, &retryOf, &e.RetryNumber, &wkID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.DurationMs = nullInt64(duration)
	e.Result = nullRaw(result)
	e.ErrorMessage = nullString(errMsg)
	e.ErrorStackTrace = nullString(stack)
	e.RetryOfID = nullUUID(retryOf)
	e.WorkerID = nullString(wkID)
	if e.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if e.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
