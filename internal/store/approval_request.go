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

const requestColumns = `id, request_number, workflow_id, document_type, document_id, document_number,
	requested_by, requested_at, amount, currency, status, current_level, due_date, approved_at,
	approved_by, rejected_at, rejected_by, rejection_reason, cancelled_at, cancelled_by, notes,
	created_by, updated_by, created_at, updated_at`

const actionColumns = `id, request_id, sequence, level_number, approver_id, action, comments, delegated_to, created_at`

// pendingForApprover matches open requests whose current level the approver
// may act on: listed there, delegated to, or named as the escalation target
// once escalated. Approvers who delegated their obligation away are excluded.
const pendingForApprover = `r.status IN ('Pending', 'InProgress', 'Escalated')
	AND r.current_level IS NOT NULL
	AND (
		EXISTS (SELECT 1 FROM approval_level_approvers a
			WHERE a.workflow_id = r.workflow_id AND a.level_number = r.current_level AND a.approver_id = ?)
		OR EXISTS (SELECT 1 FROM approval_actions d
			WHERE d.request_id = r.id AND d.level_number = r.current_level
			  AND d.action = 'Delegate' AND d.delegated_to = ?)
		OR (r.status = 'Escalated' AND EXISTS (SELECT 1 FROM approval_workflow_levels l
			WHERE l.workflow_id = r.workflow_id AND l.level_number = r.current_level AND l.escalation_to = ?))
	)
	AND NOT EXISTS (SELECT 1 FROM approval_actions x
		WHERE x.request_id = r.id AND x.level_number = r.current_level
		  AND x.action = 'Delegate' AND x.approver_id = ?)`

type approvalRequestStore struct {
	queries *db.Queries
}

func newApprovalRequestStore(queries *db.Queries) ApprovalRequestStore {
	return &approvalRequestStore{queries: queries}
}

func (s *approvalRequestStore) Create(ctx context.Context, req *model.ApprovalRequest) error {
	req.EnsureCreated(time.Now())
	_, err := s.queries.Exec(ctx, `INSERT INTO approval_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.RequestNumber, req.WorkflowID, req.DocumentType, req.DocumentID, req.DocumentNumber,
		req.RequestedBy, formatTime(req.RequestedAt), req.Amount, req.Currency, req.Status,
		intArg(req.CurrentLevel), timeArg(req.DueDate), timeArg(req.ApprovedAt), uuidArg(req.ApprovedBy),
		timeArg(req.RejectedAt), uuidArg(req.RejectedBy), stringArg(req.RejectionReason),
		timeArg(req.CancelledAt), uuidArg(req.CancelledBy), stringArg(req.Notes),
		uuidArg(req.CreatedBy), uuidArg(req.UpdatedBy), formatTime(req.CreatedAt), formatTime(req.UpdatedAt),
	)
	if err != nil {
		return translate(err, "approval request", req.RequestNumber)
	}

	for i := range req.Actions {
		req.Actions[i].RequestID = req.ID
		if err := s.AddAction(ctx, &req.Actions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *approvalRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = ?`, id)
	return s.load(ctx, row, id.String())
}

func (s *approvalRequestStore) GetByNumber(ctx context.Context, number string) (*model.ApprovalRequest, error) {
	row := s.queries.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE request_number = ?`, number)
	return s.load(ctx, row, number)
}

// Update writes the request row. Actions are append-only and go through AddAction.
func (s *approvalRequestStore) Update(ctx context.Context, req *model.ApprovalRequest) error {
	res, err := s.queries.Exec(ctx, `UPDATE approval_requests SET
		status = ?, current_level = ?, due_date = ?, approved_at = ?, approved_by = ?, rejected_at = ?,
		rejected_by = ?, rejection_reason = ?, cancelled_at = ?, cancelled_by = ?, notes = ?,
		updated_by = ?, updated_at = ?
		WHERE id = ?`,
		req.Status, intArg(req.CurrentLevel), timeArg(req.DueDate), timeArg(req.ApprovedAt),
		uuidArg(req.ApprovedBy), timeArg(req.RejectedAt), uuidArg(req.RejectedBy),
		stringArg(req.RejectionReason), timeArg(req.CancelledAt), uuidArg(req.CancelledBy),
		stringArg(req.Notes), uuidArg(req.UpdatedBy), formatTime(req.UpdatedAt), req.ID,
	)
	if err != nil {
		return translate(err, "approval request", req.RequestNumber)
	}
	return expectOne(res, "approval request", req.ID.String())
}

func (s *approvalRequestStore) List(ctx context.Context, filter model.RequestFilter, page model.Pagination) (model.Paginated[model.ApprovalRequest], error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		conds = append(conds, "r.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.WorkflowID != nil {
		conds = append(conds, "r.workflow_id = ?")
		args = append(args, *filter.WorkflowID)
	}
	if filter.RequestedBy != nil {
		conds = append(conds, "r.requested_by = ?")
		args = append(args, *filter.RequestedBy)
	}
	if filter.DocumentType != nil {
		conds = append(conds, "r.document_type = ?")
		args = append(args, *filter.DocumentType)
	}
	where := "1 = 1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}
	return s.page(ctx, where, args, page)
}

// AddAction appends action after the request's last one.
func (s *approvalRequestStore) AddAction(ctx context.Context, a *model.ApprovalAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := s.queries.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM approval_actions WHERE request_id = ?`,
		a.RequestID).Scan(&a.Sequence); err != nil {
		return translate(err, "approval action", a.RequestID.String())
	}

	_, err := s.queries.Exec(ctx, `INSERT INTO approval_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.Sequence, a.LevelNumber, a.ApproverID, a.Action,
		stringArg(a.Comments), uuidArg(a.DelegatedTo), formatTime(a.CreatedAt))
	return translate(err, "approval action", a.RequestID.String())
}

func (s *approvalRequestStore) ListPendingForApprover(ctx context.Context, approverID uuid.UUID, page model.Pagination) (model.Paginated[model.ApprovalRequest], error) {
	return s.page(ctx, pendingForApprover, approverArgs(approverID), page)
}

func (s *approvalRequestStore) AllPendingForApprover(ctx context.Context, approverID uuid.UUID) ([]model.ApprovalRequest, error) {
	rows, err := s.queries.Query(ctx, `SELECT `+prefixed(requestColumns, "r")+` FROM approval_requests r
		WHERE `+pendingForApprover+`
		ORDER BY r.created_at DESC, r.id DESC`, approverArgs(approverID)...)
	if err != nil {
		return nil, translate(err, "approval request", "pending")
	}
	return collectRequests(rows)
}

func (s *approvalRequestStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.ApprovalRequest, error) {
	rows, err := s.queries.Query(ctx, `SELECT `+requestColumns+` FROM approval_requests
		WHERE status IN ('Pending', 'InProgress') AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date, id
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, translate(err, "approval request", "overdue")
	}
	return collectRequests(rows)
}

func (s *approvalRequestStore) CreateEscalation(ctx context.Context, esc *model.ApprovalEscalation) error {
	if esc.ID == uuid.Nil {
		esc.ID = uuid.New()
	}
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}
	_, err := s.queries.Exec(ctx, `INSERT INTO approval_escalations
		(id, request_id, level_number, escalated_to, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		esc.ID, esc.RequestID, esc.LevelNumber, uuidArg(esc.EscalatedTo), esc.Reason, formatTime(esc.CreatedAt))
	return translate(err, "approval escalation", esc.RequestID.String())
}

func (s *approvalRequestStore) ListEscalations(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalEscalation, error) {
	rows, err := s.queries.Query(ctx, `SELECT id, request_id, level_number, escalated_to, reason, created_at
		FROM approval_escalations WHERE request_id = ? ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, translate(err, "approval escalation", requestID.String())
	}
	defer rows.Close()

	out := []model.ApprovalEscalation{}
	for rows.Next() {
		var (
			esc       model.ApprovalEscalation
			to        uuid.NullUUID
			createdAt string
		)
		if err := rows.Scan(&esc.ID, &esc.RequestID, &esc.LevelNumber, &to, &esc.Reason, &createdAt); err != nil {
			return nil, translate(err, "approval escalation", requestID.String())
		}
		esc.EscalatedTo = nullUUID(to)
		if esc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, translate(err, "approval escalation", requestID.String())
		}
		out = append(out, esc)
	}
	return out, translate(rows.Err(), "approval escalation", requestID.String())
}

func (s *approvalRequestStore) page(ctx context.Context, where string, args []any, page model.Pagination) (model.Paginated[model.ApprovalRequest], error) {
	result := model.Paginated[model.ApprovalRequest]{Page: page.Page, PerPage: page.PerPage, Items: []model.ApprovalRequest{}}
	if err := s.queries.QueryRow(ctx, `SELECT COUNT(*) FROM approval_requests r WHERE `+where, args...).
		Scan(&result.TotalCount); err != nil {
		return result, translate(err, "approval request", "count")
	}

	rows, err := s.queries.Query(ctx, `SELECT `+prefixed(requestColumns, "r")+` FROM approval_requests r
		WHERE `+where+`
		ORDER BY r.created_at DESC, r.id DESC LIMIT ? OFFSET ?`, append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return result, translate(err, "approval request", "list")
	}
	items, err := collectRequests(rows)
	if err != nil {
		return result, err
	}
	for i := range items {
		if items[i].Actions, err = s.actions(ctx, items[i].ID); err != nil {
			return result, err
		}
	}
	result.Items = items
	return result, nil
}

func (s *approvalRequestStore) load(ctx context.Context, row *sql.Row, key string) (*model.ApprovalRequest, error) {
	req, err := scanRequest(row)
	if err != nil {
		return nil, translate(err, "approval request", key)
	}
	if req.Actions, err = s.actions(ctx, req.ID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *approvalRequestStore) actions(ctx context.Context, requestID uuid.UUID) ([]model.ApprovalAction, error) {
	rows, err := s.queries.Query(ctx, `SELECT `+actionColumns+` FROM approval_actions
		WHERE request_id = ? ORDER BY sequence`, requestID)
	if err != nil {
		return nil, translate(err, "approval action", requestID.String())
	}
	defer rows.Close()

	out := []model.ApprovalAction{}
	for rows.Next() {
		var (
			a           model.ApprovalAction
			comments    sql.NullString
			delegatedTo uuid.NullUUID
			createdAt   string
		)
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Sequence, &a.LevelNumber, &a.ApproverID, &a.Action,
			&comments, &delegatedTo, &createdAt); err != nil {
			return nil, translate(err, "approval action", requestID.String())
		}
		a.Comments = nullString(comments)
		a.DelegatedTo = nullUUID(delegatedTo)
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, translate(err, "approval action", requestID.String())
		}
		out = append(out, a)
	}
	return out, translate(rows.Err(), "approval action", requestID.String())
}

func approverArgs(id uuid.UUID) []any {
	return []any{id, id, id, id}
}

// prefixed qualifies every column in a comma-separated list with alias.
func prefixed(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func collectRequests(rows *sql.Rows) ([]model.ApprovalRequest, error) {
	defer rows.Close()

	out := []model.ApprovalRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, translate(err, "approval request", "scan")
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "approval request", "rows")
	}
	return out, nil
}

func scanRequest(row rowScanner) (*model.ApprovalRequest, error) {
	var (
		r                                            model.ApprovalRequest
		requestedAt, createdAt, updatedAt            string
		dueDate, approvedAt, rejectedAt, cancelledAt sql.NullString
		reason, notes                                sql.NullString
		currentLevel                                 sql.NullInt64
		approvedBy, rejectedBy, cancelledBy          uuid.NullUUID
		createdBy, updatedBy                         uuid.NullUUID
	)
	err := row.Scan(&r.ID, &r.RequestNumber, &r.WorkflowID, &r.DocumentType, &r.DocumentID, &r.DocumentNumber,
		&r.RequestedBy, &requestedAt, &r.Amount, &r.Currency, &r.Status, &currentLevel, &dueDate,
		&approvedAt, &approvedBy, &rejectedAt, &rejectedBy, &reason, &cancelledAt, &cancelledBy, &notes,
		&createdBy, &updatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.CurrentLevel = nullInt(currentLevel)
	r.ApprovedBy = nullUUID(approvedBy)
	r.RejectedBy = nullUUID(rejectedBy)
	r.CancelledBy = nullUUID(cancelledBy)
	r.RejectionReason = nullString(reason)
	r.Notes = nullString(notes)
	r.CreatedBy = nullUUID(createdBy)
	r.UpdatedBy = nullUUID(updatedBy)
	r.Actions = []model.ApprovalAction{}

	times := []struct {
		src sql.NullString
		dst **time.Time
	}{
		{dueDate, &r.DueDate}, {approvedAt, &r.ApprovedAt}, {rejectedAt, &r.RejectedAt}, {cancelledAt, &r.CancelledAt},
	}
	for _, t := range times {
		if *t.dst, err = parseNullTime(t.src); err != nil {
			return nil, err
		}
	}
	if r.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
