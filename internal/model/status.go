package model

import "database/sql/driver"

// Status is the lifecycle status shared by most business records.
type Status string

const (
	StatusActive    Status = "Active"
	StatusInactive  Status = "Inactive"
	StatusDraft     Status = "Draft"
	StatusPending   Status = "Pending"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

var StatusValues = []Status{
	StatusActive, StatusInactive, StatusDraft, StatusPending,
	StatusApproved, StatusRejected, StatusCompleted, StatusCancelled,
}

func ParseStatus(s string) Status {
	return parseEnum(s, StatusValues, StatusActive)
}

func (s Status) Valid() bool { return isVariant(s, StatusValues) }

func (s Status) Value() (driver.Value, error) { return string(s), nil }

func (s *Status) Scan(src any) error {
	v, err := scanEnum(src, StatusValues, StatusActive, "Status")
	*s = v
	return err
}

func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}
