// internal/model/execution.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one contact's progress through
// one sequence.
type ExecutionStatus string

const (
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionInFlight  ExecutionStatus = "in_flight"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final. At most one non-terminal
// execution may exist per (tenant, sequence, contact).
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Execution is the unit of scheduled work: one (tenant, sequence, contact)
// triple with its position and due time.
type Execution struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	TenantID        int             `db:"tenant_id" json:"tenant_id"`
	SequenceID      int             `db:"sequence_id" json:"sequence_id"`
	SequenceVersion int             `db:"sequence_version" json:"sequence_version"`
	ContactID       int             `db:"contact_id" json:"contact_id"`
	CurrentStepID   string          `db:"current_step_id" json:"current_step_id"`
	Status          ExecutionStatus `db:"status" json:"status"`
	NextDueAt       time.Time       `db:"next_due_at" json:"next_due_at"`
	Attempts        int             `db:"attempts" json:"attempts"`
	LastError       string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// IdempotencyKey is the client-supplied token for the gateway send of the
// current step. It is stable across retries of the same step so the gateway
// can detect an already-delivered message.
func (e *Execution) IdempotencyKey() string {
	return e.ID.String() + ":" + e.CurrentStepID
}
