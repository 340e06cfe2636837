package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

type ApprovalRequestStatus string

const (
	ApprovalStatusDraft      ApprovalRequestStatus = "Draft"
	ApprovalStatusPending    ApprovalRequestStatus = "Pending"
	ApprovalStatusInProgress ApprovalRequestStatus = "InProgress"
	ApprovalStatusApproved   ApprovalRequestStatus = "Approved"
	ApprovalStatusRejected   ApprovalRequestStatus = "Rejected"
	ApprovalStatusCancelled  ApprovalRequestStatus = "Cancelled"
	ApprovalStatusEscalated  ApprovalRequestStatus = "Escalated"
)

var ApprovalRequestStatusValues = []ApprovalRequestStatus{
	ApprovalStatusDraft, ApprovalStatusPending, ApprovalStatusInProgress,
	ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusCancelled,
	ApprovalStatusEscalated,
}

// OpenApprovalStatuses are the states in which a request awaits an approver.
var OpenApprovalStatuses = []ApprovalRequestStatus{
	ApprovalStatusPending, ApprovalStatusInProgress, ApprovalStatusEscalated,
}

func ParseApprovalRequestStatus(s string) ApprovalRequestStatus {
	return parseEnum(s, ApprovalRequestStatusValues, ApprovalStatusPending)
}

func (s ApprovalRequestStatus) Valid() bool { return isVariant(s, ApprovalRequestStatusValues) }

func (s ApprovalRequestStatus) IsTerminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected || s == ApprovalStatusCancelled
}

func (s ApprovalRequestStatus) IsOpen() bool { return isVariant(s, OpenApprovalStatuses) }

func (s ApprovalRequestStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *ApprovalRequestStatus) Scan(src any) error {
	v, err := scanEnum(src, ApprovalRequestStatusValues, ApprovalStatusPending, "ApprovalRequestStatus")
	*s = v
	return err
}

func (s *ApprovalRequestStatus) UnmarshalText(b []byte) error {
	*s = ParseApprovalRequestStatus(string(b))
	return nil
}

type ApprovalActionType string

const (
	ApprovalActionApprove     ApprovalActionType = "Approve"
	ApprovalActionReject      ApprovalActionType = "Reject"
	ApprovalActionDelegate    ApprovalActionType = "Delegate"
	ApprovalActionRequestInfo ApprovalActionType = "RequestInfo"
)

var ApprovalActionTypeValues = []ApprovalActionType{
	ApprovalActionApprove, ApprovalActionReject, ApprovalActionDelegate, ApprovalActionRequestInfo,
}

func ParseApprovalActionType(s string) ApprovalActionType {
	if s == "Request-Info" || s == "request-info" {
		return ApprovalActionRequestInfo
	}
	return parseEnum(s, ApprovalActionTypeValues, ApprovalActionRequestInfo)
}

func (t ApprovalActionType) Valid() bool { return isVariant(t, ApprovalActionTypeValues) }

func (t ApprovalActionType) Value() (driver.Value, error) { return string(t), nil }

func (t *ApprovalActionType) Scan(src any) error {
	v, err := scanEnum(src, ApprovalActionTypeValues, ApprovalActionRequestInfo, "ApprovalActionType")
	*t = v
	return err
}

func (t *ApprovalActionType) UnmarshalText(b []byte) error {
	*t = ParseApprovalActionType(string(b))
	return nil
}

// ApprovalAction is an append-only entry in a request's history.
type ApprovalAction struct {
	ID          uuid.UUID          `json:"id"`
	RequestID   uuid.UUID          `json:"request_id"`
	Sequence    int                `json:"sequence"`
	LevelNumber int                `json:"level_number"`
	ApproverID  uuid.UUID          `json:"approver_id"`
	Action      ApprovalActionType `json:"action"`
	Comments    *string            `json:"comments,omitempty"`
	DelegatedTo *uuid.UUID         `json:"delegated_to,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

type ApprovalRequest struct {
	Audit

	RequestNumber  string                `json:"request_number"`
	WorkflowID     uuid.UUID             `json:"workflow_id"`
	DocumentType   string                `json:"document_type"`
	DocumentID     uuid.UUID             `json:"document_id"`
	DocumentNumber string                `json:"document_number"`
	RequestedBy    uuid.UUID             `json:"requested_by"`
	RequestedAt    time.Time             `json:"requested_at"`
	Amount         int64                 `json:"amount"`
	Currency       Currency              `json:"currency"`
	Status         ApprovalRequestStatus `json:"status"`
	CurrentLevel   *int                  `json:"current_level"`
	DueDate        *time.Time            `json:"due_date,omitempty"`

	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      *uuid.UUID `json:"rejected_by,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy     *uuid.UUID `json:"cancelled_by,omitempty"`
	Notes           *string    `json:"notes,omitempty"`

	Actions []ApprovalAction `json:"actions"`
}

func (r *ApprovalRequest) Money() Money {
	return Money{Amount: r.Amount, Currency: r.Currency}
}

// ActionsAt returns the request's actions recorded at level n, in order.
func (r *ApprovalRequest) ActionsAt(n int) []ApprovalAction {
	var out []ApprovalAction
	for _, a := range r.Actions {
		if a.LevelNumber == n {
			out = append(out, a)
		}
	}
	return out
}

type RequestFilter struct {
	Status       *ApprovalRequestStatus
	WorkflowID   *uuid.UUID
	RequestedBy  *uuid.UUID
	DocumentType *string
}

type ApprovalEscalation struct {
	ID          uuid.UUID  `json:"id"`
	RequestID   uuid.UUID  `json:"request_id"`
	LevelNumber int        `json:"level_number"`
	EscalatedTo *uuid.UUID `json:"escalated_to,omitempty"`
	Reason      string     `json:"reason"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PendingSummary buckets an approver's open requests by how close they are to their due date.
type PendingSummary struct {
	Total          int64            `json:"total"`
	OnTime         int64            `json:"on_time"`
	Approaching    int64            `json:"approaching"`
	Overdue        int64            `json:"overdue"`
	Totals         []Money          `json:"totals"`
	ByDocumentType map[string]int64 `json:"by_document_type"`
}
