package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the state of a HITL request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest is a decision parked until a human approves or rejects it.
type ApprovalRequest struct {
	ID        uuid.UUID      `json:"id"`
	Identity  Identity       `json:"identity"`
	Summary   string         `json:"summary"`
	Reason    string         `json:"reason"`
	Status    ApprovalStatus `json:"status"`
	DecidedBy string         `json:"decided_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
}
