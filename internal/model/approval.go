package model

import (
	"database/sql/driver"
	"strings"

	"github.com/google/uuid"

	"ergon.app/erp/common/apperr"
)

type ApprovalType string

const (
	ApprovalTypeSequential   ApprovalType = "Sequential"
	ApprovalTypeAnyApprover  ApprovalType = "AnyApprover"
	ApprovalTypeAllApprovers ApprovalType = "AllApprovers"
)

var ApprovalTypeValues = []ApprovalType{ApprovalTypeSequential, ApprovalTypeAnyApprover, ApprovalTypeAllApprovers}

func ParseApprovalType(s string) ApprovalType {
	return parseEnum(s, ApprovalTypeValues, ApprovalTypeSequential)
}

func (t ApprovalType) Valid() bool { return isVariant(t, ApprovalTypeValues) }

func (t ApprovalType) Value() (driver.Value, error) { return string(t), nil }

func (t *ApprovalType) Scan(src any) error {
	v, err := scanEnum(src, ApprovalTypeValues, ApprovalTypeSequential, "ApprovalType")
	*t = v
	return err
}

func (t *ApprovalType) UnmarshalText(b []byte) error {
	*t = ParseApprovalType(string(b))
	return nil
}

type ApproverType string

const (
	ApproverTypeSpecificUser ApproverType = "SpecificUser"
	ApproverTypeRole         ApproverType = "Role"
	ApproverTypeDepartment   ApproverType = "Department"
	ApproverTypeSupervisor   ApproverType = "Supervisor"
	ApproverTypeAmountBased  ApproverType = "AmountBased"
)

var ApproverTypeValues = []ApproverType{
	ApproverTypeSpecificUser, ApproverTypeRole, ApproverTypeDepartment,
	ApproverTypeSupervisor, ApproverTypeAmountBased,
}

func ParseApproverType(s string) ApproverType {
	return parseEnum(s, ApproverTypeValues, ApproverTypeSpecificUser)
}

func (t ApproverType) Valid() bool { return isVariant(t, ApproverTypeValues) }

func (t ApproverType) Value() (driver.Value, error) { return string(t), nil }

func (t *ApproverType) Scan(src any) error {
	v, err := scanEnum(src, ApproverTypeValues, ApproverTypeSpecificUser, "ApproverType")
	*t = v
	return err
}

func (t *ApproverType) UnmarshalText(b []byte) error {
	*t = ParseApproverType(string(b))
	return nil
}

// ApprovalLevel is one step of a workflow. Approver ids are resolved to
// users before the workflow is saved, whatever the approver type.
type ApprovalLevel struct {
	LevelNumber         int          `json:"level_number"`
	Name                string       `json:"name"`
	ApproverType        ApproverType `json:"approver_type"`
	ApproverIDs         []uuid.UUID  `json:"approver_ids"`
	MinApprovers        int          `json:"min_approvers"`
	SkipIfApprovedAbove bool         `json:"skip_if_approved_above"`
	DueHours            *int         `json:"due_hours,omitempty"`
	EscalationTo        *uuid.UUID   `json:"escalation_to,omitempty"`
}

// Lists reports whether id is one of the level's configured approvers.
func (l *ApprovalLevel) Lists(id uuid.UUID) bool {
	for _, a := range l.ApproverIDs {
		if a == id {
			return true
		}
	}
	return false
}

type ApprovalWorkflow struct {
	Audit

	Code             string       `json:"code"`
	Name             string       `json:"name"`
	Description      *string      `json:"description,omitempty"`
	DocumentType     string       `json:"document_type"`
	ApprovalType     ApprovalType `json:"approval_type"`
	MinAmount        *int64       `json:"min_amount,omitempty"`
	MaxAmount        *int64       `json:"max_amount,omitempty"`
	AutoApproveBelow *int64       `json:"auto_approve_below,omitempty"`
	EscalationHours  *int         `json:"escalation_hours,omitempty"`

	NotifyRequester   bool `json:"notify_requester"`
	NotifyApprover    bool `json:"notify_approver"`
	AllowDelegation   bool `json:"allow_delegation"`
	AllowReassignment bool `json:"allow_reassignment"`
	RequireComments   bool `json:"require_comments"`

	Levels  []ApprovalLevel `json:"levels"`
	Version int64           `json:"version"`
	Status  Status          `json:"status"`
}

// Validate checks the structural rules a workflow must satisfy before it is stored.
func (w *ApprovalWorkflow) Validate() error {
	if strings.TrimSpace(w.Code) == "" {
		return apperr.Validation("workflow code is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return apperr.Validation("workflow name is required")
	}
	if strings.TrimSpace(w.DocumentType) == "" {
		return apperr.Validation("document type is required")
	}
	if !w.ApprovalType.Valid() {
		return apperr.Validation("unknown approval type %q", w.ApprovalType)
	}
	if w.Status != StatusActive && w.Status != StatusInactive {
		return apperr.Validation("workflow status must be Active or Inactive")
	}
	if w.MinAmount != nil && w.MaxAmount != nil && *w.MinAmount > *w.MaxAmount {
		return apperr.Validation("min_amount %d exceeds max_amount %d", *w.MinAmount, *w.MaxAmount)
	}
	if w.AutoApproveBelow != nil && w.MaxAmount != nil && *w.AutoApproveBelow > *w.MaxAmount {
		return apperr.Validation("auto_approve_below %d exceeds max_amount %d", *w.AutoApproveBelow, *w.MaxAmount)
	}
	if w.EscalationHours != nil && *w.EscalationHours < 0 {
		return apperr.Validation("escalation_hours must not be negative")
	}
	if len(w.Levels) == 0 {
		return apperr.Validation("workflow needs at least one level")
	}

	for i := range w.Levels {
		l := &w.Levels[i]
		if l.LevelNumber != i+1 {
			return apperr.Validation("level numbers must be 1..%d without gaps, found %d at position %d",
				len(w.Levels), l.LevelNumber, i+1)
		}
		if strings.TrimSpace(l.Name) == "" {
			return apperr.Validation("level %d needs a name", l.LevelNumber)
		}
		if len(l.ApproverIDs) == 0 {
			return apperr.Validation("level %d needs at least one approver", l.LevelNumber)
		}
		if l.MinApprovers < 1 {
			return apperr.Validation("level %d: min_approvers must be at least 1", l.LevelNumber)
		}
		if l.MinApprovers > len(l.ApproverIDs) {
			return apperr.Validation("level %d: min_approvers %d exceeds %d approvers",
				l.LevelNumber, l.MinApprovers, len(l.ApproverIDs))
		}
		seen := make(map[uuid.UUID]struct{}, len(l.ApproverIDs))
		for _, id := range l.ApproverIDs {
			if _, dup := seen[id]; dup {
				return apperr.Validation("level %d lists approver %s twice", l.LevelNumber, id)
			}
			seen[id] = struct{}{}
		}
		if l.DueHours != nil && *l.DueHours < 0 {
			return apperr.Validation("level %d: due_hours must not be negative", l.LevelNumber)
		}
	}
	return nil
}

// Level returns the level numbered n, or nil.
func (w *ApprovalWorkflow) Level(n int) *ApprovalLevel {
	if n < 1 || n > len(w.Levels) {
		return nil
	}
	return &w.Levels[n-1]
}

// Covers reports whether amount lies within the workflow's inclusive bounds.
func (w *ApprovalWorkflow) Covers(amount int64) bool {
	if w.MinAmount != nil && amount < *w.MinAmount {
		return false
	}
	if w.MaxAmount != nil && amount > *w.MaxAmount {
		return false
	}
	return true
}

func (w *ApprovalWorkflow) AutoApproves(amount int64) bool {
	return w.AutoApproveBelow != nil && amount < *w.AutoApproveBelow
}

type WorkflowFilter struct {
	DocumentType *string
	Status       *Status
}
