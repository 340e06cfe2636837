package model

import "github.com/google/uuid"

type NotificationKind string

const (
	NotificationApprovalRequested NotificationKind = "approval_requested"
	NotificationApprovalDecided   NotificationKind = "approval_decided"
	NotificationApprovalEscalated NotificationKind = "approval_escalated"
	NotificationApprovalDelegated NotificationKind = "approval_delegated"
	NotificationInfoRequested     NotificationKind = "info_requested"
)

// Notification is the payload of a notification.send job.
type Notification struct {
	Kind           NotificationKind `json:"kind"`
	RecipientID    uuid.UUID        `json:"recipient_id"`
	RequestID      uuid.UUID        `json:"request_id"`
	RequestNumber  string           `json:"request_number"`
	DocumentType   string           `json:"document_type"`
	DocumentNumber string           `json:"document_number"`
	LevelNumber    int              `json:"level_number,omitempty"`
	Message        string           `json:"message"`
}
