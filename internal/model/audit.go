package model

import (
	"time"

	"github.com/google/uuid"
)

// SystemActorID identifies actions taken by the platform itself, such as auto-approval.
var SystemActorID = uuid.Nil

// Audit is the identity and audit envelope embedded in every persistent record.
type Audit struct {
	ID        uuid.UUID  `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
}

// NewAudit assigns a fresh identity and creation timestamps.
func NewAudit(now time.Time, actor *uuid.UUID) Audit {
	now = now.UTC()
	return Audit{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
}

// EnsureCreated fills identity and timestamps that the caller left empty.
func (a *Audit) EnsureCreated(now time.Time) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now.UTC()
	}
	if a.UpdatedAt.Before(a.CreatedAt) {
		a.UpdatedAt = a.CreatedAt
	}
}

// Touch records a mutation. UpdatedAt never moves before CreatedAt.
func (a *Audit) Touch(now time.Time, actor *uuid.UUID) {
	now = now.UTC()
	if now.Before(a.CreatedAt) {
		now = a.CreatedAt
	}
	a.UpdatedAt = now
	if actor != nil {
		a.UpdatedBy = actor
	}
}

// Actor is the caller of a service operation.
type Actor struct {
	ID    uuid.UUID
	Admin bool
}
