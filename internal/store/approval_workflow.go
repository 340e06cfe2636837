package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"ergon.app/erp/common/apperr"
	"ergon.app/erp/core/db"
	"ergon.app/erp/internal/model"
)

const workflowColumns = `id, code, name, description, document_type, approval_type, min_amount, max_amount,
	auto_approve_below, escalation_hours, notify_requester, notify_approver, allow_delegation,
	allow_reassignment, require_comments, version, status, created_by, updated_by, created_at, updated_at`

type approvalWorkflowStore struct {
	queries *db.Queries
}

func newApprovalWorkflowStore(queries *db.Queries) ApprovalWorkflowStore {
	return &approvalWorkflowStore{queries: queries}
}

func (s *approvalWorkflowStore) Create(ctx context.Context, wf *model.ApprovalWorkflow) error {
	wf.EnsureCreated(time.Now())
	if wf.Version == 0 {
		wf.Version = 1
	}

	_, err := s.queries.Exec(ctx, `INSERT INTO approval_workflows (`+workflowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Code, wf.Name, stringArg(wf.Description), wf.DocumentType, wf.ApprovalType,
		int64Arg(wf.MinAmount), int64Arg(wf.MaxAmount), int64Arg(wf.AutoApproveBelow), intArg(wf.EscalationHours),
		boolArg(wf.NotifyRequester), boolArg(wf.NotifyApprover), boolArg(wf.AllowDelegation),
		boolArg(wf.AllowReassignment), boolArg(wf.RequireComments), wf.Version, wf.Status,
		uuidArg(wf.CreatedBy), uuidArg(wf.UpdatedBy), formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt),
	)
	if err != nil {
		return translate(err, "approval workflow", wf.Code)
	}
	return s.insertLevels(ctx, wf)
}

func (s *approvalWorkflowStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ApprovalWorkflow, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE id = ?`, id)
	return s.load(ctx, row, id.String())
}

func (s *approvalWorkflowStore) GetByCode(ctx context.Context, code string) (*model.ApprovalWorkflow, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE code = ?`, code)
	return s.load(ctx, row, code)
}

func (s *approvalWorkflowStore) Update(ctx context.Context, wf *model.ApprovalWorkflow) error {
	res, err := s.queries.Exec(ctx, `UPDATE approval_workflows SET
		code = ?, name = ?, description = ?, document_type = ?, approval_type = ?, min_amount = ?,
		max_amount = ?, auto_approve_below = ?, escalation_hours = ?, notify_requester = ?,
		notify_approver = ?, allow_delegation = ?, allow_reassignment = ?, require_comments = ?,
		status = ?, updated_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		wf.Code, wf.Name, stringArg(wf.Description), wf.DocumentType, wf.ApprovalType,
		int64Arg(wf.MinAmount), int64Arg(wf.MaxAmount), int64Arg(wf.AutoApproveBelow), intArg(wf.EscalationHours),
		boolArg(wf.NotifyRequester), boolArg(wf.NotifyApprover), boolArg(wf.AllowDelegation),
		boolArg(wf.AllowReassignment), boolArg(wf.RequireComments), wf.Status,
		uuidArg(wf.UpdatedBy), formatTime(wf.UpdatedAt), wf.ID, wf.Version,
	)
	if err != nil {
		return translate(err, "approval workflow", wf.Code)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, "approval workflow", wf.Code)
	}
	if n == 0 {
		var exists int
		err := s.queries.QueryRow(ctx, `SELECT 1 FROM approval_workflows WHERE id = ?`, wf.ID).Scan(&exists)
		if err != nil {
			return translate(err, "approval workflow", wf.ID.String())
		}
		return apperr.Conflict("approval workflow %s was modified concurrently (version %d is stale)", wf.Code, wf.Version)
	}
	wf.Version++

	if _, err := s.queries.Exec(ctx, `DELETE FROM approval_workflow_levels WHERE workflow_id = ?`, wf.ID); err != nil {
		return translate(err, "approval workflow", wf.Code)
	}
	return s.insertLevels(ctx, wf)
}

func (s *approvalWorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.queries.Exec(ctx, `DELETE FROM approval_workflows WHERE id = ?`, id)
	if err != nil {
		return translate(err, "approval workflow", id.String())
	}
	return expectOne(res, "approval workflow", id.String())
}

func (s *approvalWorkflowStore) List(ctx context.Context, filter model.WorkflowFilter, page model.Pagination) (model.Paginated[model.ApprovalWorkflow], error) {
	var (
		conds []string
		args  []any
	)
	if filter.DocumentType != nil {
		conds = append(conds, "document_type = ?")
		args = append(args, *filter.DocumentType)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *filter.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	result := model.Paginated[model.ApprovalWorkflow]{Page: page.Page, PerPage: page.PerPage, Items: []model.ApprovalWorkflow{}}
	if err := s.queries.QueryRow(ctx, `SELECT COUNT(*) FROM approval_workflows`+where, args...).Scan(&result.TotalCount); err != nil {
		return result, translate(err, "approval workflow", "count")
	}

	rows, err := s.queries.Query(ctx, `SELECT `+workflowColumns+` FROM approval_workflows`+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return result, translate(err, "approval workflow", "list")
	}
	workflows, err := collectWorkflows(rows)
	if err != nil {
		return result, err
	}
	for i := range workflows {
		if err := s.loadLevels(ctx, &workflows[i]); err != nil {
			return result, err
		}
	}
	result.Items = workflows
	return result, nil
}

// FindFor orders candidates by the highest lower bound (unbounded ranks
// lowest), then by creation time.
func (s *approvalWorkflowStore) FindFor(ctx context.Context, documentType string, amount int64) (*model.ApprovalWorkflow, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows
		WHERE status = 'Active' AND document_type = ?
		  AND (min_amount IS NULL OR min_amount <= ?)
		  AND (max_amount IS NULL OR max_amount >= ?)
		ORDER BY CASE WHEN min_amount IS NULL THEN 0 ELSE 1 END DESC, min_amount DESC, created_at ASC, id ASC
		LIMIT 1`, documentType, amount, amount)
	return s.load(ctx, row, documentType)
}

func (s *approvalWorkflowStore) CountRequests(ctx context.Context, workflowID uuid.UUID, statuses ...model.ApprovalRequestStatus) (int64, error) {
	query := `SELECT COUNT(*) FROM approval_requests WHERE workflow_id = ?`
	args := []any{workflowID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}

	var n int64
	if err := s.queries.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, translate(err, "approval request", "count")
	}
	return n, nil
}

func (s *approvalWorkflowStore) load(ctx context.Context, row *sql.Row, key string) (*model.ApprovalWorkflow, error) {
	wf, err := scanWorkflow(row)
	if err != nil {
		return nil, translate(err, "approval workflow", key)
	}
	if err := s.loadLevels(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *approvalWorkflowStore) insertLevels(ctx context.Context, wf *model.ApprovalWorkflow) error {
	for _, l := range wf.Levels {
		_, err := s.queries.Exec(ctx, `INSERT INTO approval_workflow_levels
			(workflow_id, level_number, name, approver_type, min_approvers, skip_if_approved_above, due_hours, escalation_to)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, l.LevelNumber, l.Name, l.ApproverType, l.MinApprovers, boolArg(l.SkipIfApprovedAbove),
			intArg(l.DueHours), uuidArg(l.EscalationTo))
		if err != nil {
			return translate(err, "approval level", wf.Code)
		}
		for pos, approver := range l.ApproverIDs {
			_, err := s.queries.Exec(ctx, `INSERT INTO approval_level_approvers
				(workflow_id, level_number, position, approver_id) VALUES (?, ?, ?, ?)`,
				wf.ID, l.LevelNumber, pos, approver)
			if err != nil {
				return translate(err, "approval level approver", approver.String())
			}
		}
	}
	return nil
}

func (s *approvalWorkflowStore) loadLevels(ctx context.Context, wf *model.ApprovalWorkflow) error {
	rows, err := s.queries.Query(ctx, `SELECT level_number, name, approver_type, min_approvers,
		skip_if_approved_above, due_hours, escalation_to
		FROM approval_workflow_levels WHERE workflow_id = ? ORDER BY level_number`, wf.ID)
	if err != nil {
		return translate(err, "approval level", wf.Code)
	}

	wf.Levels = []model.ApprovalLevel{}
	for rows.Next() {
		var (
			l        model.ApprovalLevel
			skip     int64
			dueHours sql.NullInt64
			escTo    uuid.NullUUID
		)
		if err := rows.Scan(&l.LevelNumber, &l.Name, &l.ApproverType, &l.MinApprovers, &skip, &dueHours, &escTo); err != nil {
			rows.Close()
			return translate(err, "approval level", wf.Code)
		}
		l.SkipIfApprovedAbove = skip != 0
		l.DueHours = nullInt(dueHours)
		l.EscalationTo = nullUUID(escTo)
		l.ApproverIDs = []uuid.UUID{}
		wf.Levels = append(wf.Levels, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return translate(err, "approval level", wf.Code)
	}

	approvers, err := s.queries.Query(ctx, `SELECT level_number, approver_id FROM approval_level_approvers
		WHERE workflow_id = ? ORDER BY level_number, position`, wf.ID)
	if err != nil {
		return translate(err, "approval level approver", wf.Code)
	}
	defer approvers.Close()

	for approvers.Next() {
		var (
			level int
			id    uuid.UUID
		)
		if err := approvers.Scan(&level, &id); err != nil {
			return translate(err, "approval level approver", wf.Code)
		}
		if l := wf.Level(level); l != nil {
			l.ApproverIDs = append(l.ApproverIDs, id)
		}
	}
	return translate(approvers.Err(), "approval level approver", wf.Code)
}

func collectWorkflows(rows *sql.Rows) ([]model.ApprovalWorkflow, error) {
	defer rows.Close()

	out := []model.ApprovalWorkflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, translate(err, "approval workflow", "scan")
		}
		out = append(out, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "approval workflow", "rows")
	}
	return out, nil
}

func scanWorkflow(row rowScanner) (*model.ApprovalWorkflow, error) {
	var (
		wf                                                  model.ApprovalWorkflow
		desc                                                sql.NullString
		minAmount, maxAmount, autoBelow, escHours           sql.NullInt64
		notifyReq, notifyAppr, allowDel, allowReas, reqCmts int64
		createdBy, updatedBy                                uuid.NullUUID
		createdAt, updatedAt                                string
	)
	err := row.Scan(&wf.ID, &wf.Code, &wf.Name, &desc, &wf.DocumentType, &wf.ApprovalType,
		&minAmount, &maxAmount, &autoBelow, &escHours, &notifyReq, &notifyAppr, &allowDel, &allowReas,
		&reqCmts, &wf.Version, &wf.Status, &createdBy, &updatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	wf.Description = nullString(desc)
	wf.MinAmount = nullInt64(minAmount)
	wf.MaxAmount = nullInt64(maxAmount)
	wf.AutoApproveBelow = nullInt64(autoBelow)
	wf.EscalationHours = nullInt(escHours)
	wf.NotifyRequester = notifyReq != 0
	wf.NotifyApprover = notifyAppr != 0
	wf.AllowDelegation = allowDel != 0
	wf.AllowReassignment = allowReas != 0
	wf.RequireComments = reqCmts != 0
	wf.CreatedBy = nullUUID(createdBy)
	wf.UpdatedBy = nullUUID(updatedBy)
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if wf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &wf, nil
}
