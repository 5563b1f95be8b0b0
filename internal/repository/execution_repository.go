package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// ExecutionRepositoryInterface is the execution state store. It is the only
// component allowed to write execution status; dispatchers and schedulers go
// through these mutators exclusively.
type ExecutionRepositoryInterface interface {
	Enroll(ctx context.Context, exec *model.Execution) (created bool, err error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Execution, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	Advance(ctx context.Context, id uuid.UUID, nextStepID string, nextDueAt time.Time, status model.ExecutionStatus) error
	Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastError string) error
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	Complete(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Execution, error)
	Status(ctx context.Context, id uuid.UUID) (model.ExecutionStatus, error)
	SequenceStats(ctx context.Context, sequenceID int) (map[string]int, error)
}

type ExecutionRepository struct {
	DB *sql.DB
}

const executionColumns = `id, tenant_id, sequence_id, sequence_version, contact_id,
       current_step_id, status, next_due_at, attempts, last_error, created_at, updated_at`

func scanExecution(row interface{ Scan(...any) error }) (*model.Execution, error) {
	var e model.Execution
	err := row.Scan(
		&e.ID, &e.TenantID, &e.SequenceID, &e.SequenceVersion, &e.ContactID,
		&e.CurrentStepID, &e.Status, &e.NextDueAt, &e.Attempts, &e.LastError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Enroll inserts a new execution. The partial unique index on
// (tenant_id, sequence_id, contact_id) for non-terminal rows enforces the
// one-active-execution invariant; a conflict loads the existing row and
// reports created=false.
func (r *ExecutionRepository) Enroll(ctx context.Context, exec *model.Execution) (bool, error) {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	query := `
        INSERT INTO executions
        (id, tenant_id, sequence_id, sequence_version, contact_id, current_step_id, status, next_due_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at, updated_at
    `
	err := r.DB.QueryRowContext(ctx, query,
		exec.ID, exec.TenantID, exec.SequenceID, exec.SequenceVersion,
		exec.ContactID, exec.CurrentStepID, exec.Status, exec.NextDueAt,
	).Scan(&exec.CreatedAt, &exec.UpdatedAt)
	if err == nil {
		return true, nil
	}

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		existing, getErr := r.getActive(ctx, exec.TenantID, exec.SequenceID, exec.ContactID)
		if getErr != nil {
			return false, getErr
		}
		if existing != nil {
			*exec = *existing
			return false, nil
		}
		return false, &appErrors.ErrDuplicateEnrollment{SequenceID: exec.SequenceID, ContactID: exec.ContactID}
	}
	return false, err
}

func (r *ExecutionRepository) getActive(ctx context.Context, tenantID, sequenceID, contactID int) (*model.Execution, error) {
	query := `
        SELECT ` + executionColumns + `
        FROM executions
        WHERE tenant_id = $1 AND sequence_id = $2 AND contact_id = $3
          AND status NOT IN ('completed', 'failed', 'cancelled')
    `
	exec, err := scanExecution(r.DB.QueryRowContext(ctx, query, tenantID, sequenceID, contactID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// ClaimDue atomically claims up to limit due executions and marks them
// in-flight in a single statement, so concurrent scheduler ticks can never
// double-claim a row. FOR UPDATE SKIP LOCKED keeps competing claimers from
// blocking each other.
func (r *ExecutionRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Execution, error) {
	query := `
        WITH due AS (
            SELECT id FROM executions
            WHERE status IN ('scheduled', 'waiting') AND next_due_at <= $1
            ORDER BY next_due_at
            FOR UPDATE SKIP LOCKED
            LIMIT $2
        )
        UPDATE executions e
        SET status = 'in_flight', updated_at = now()
        FROM due
        WHERE e.id = due.id
        RETURNING e.id, e.tenant_id, e.sequence_id, e.sequence_version, e.contact_id,
                  e.current_step_id, e.status, e.next_due_at, e.attempts, e.last_error,
                  e.created_at, e.updated_at
    `
	rows, err := r.DB.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claimed := []*model.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, exec)
	}
	return claimed, rows.Err()
}

// ReclaimStale returns in-flight executions whose claim predates cutoff to
// scheduled. Such rows were claimed by a worker that crashed before
// recording an outcome; the retried step is covered by its idempotency key.
func (r *ExecutionRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
        UPDATE executions
        SET status = 'scheduled', updated_at = now()
        WHERE status = 'in_flight' AND updated_at < $1
    `
	result, err := r.DB.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Advance moves an execution to its next step and due time, resetting the
// attempt counter. Calling it twice with identical arguments is a no-op: the
// WHERE clause skips rows already at the target position.
func (r *ExecutionRepository) Advance(ctx context.Context, id uuid.UUID, nextStepID string, nextDueAt time.Time, status model.ExecutionStatus) error {
	query := `
        UPDATE executions
        SET current_step_id = $2, status = $3, next_due_at = $4, attempts = 0, last_error = '', updated_at = now()
        WHERE id = $1
          AND status NOT IN ('completed', 'failed', 'cancelled')
          AND NOT (current_step_id = $2 AND status = $3 AND next_due_at = $4)
    `
	_, err := r.DB.ExecContext(ctx, query, id, nextStepID, status, nextDueAt.UTC())
	return err
}

// Reschedule pushes the execution back to scheduled with a new due time,
// used both for rate-limit backpressure (attempts unchanged) and transient
// retries (attempts incremented by the caller).
func (r *ExecutionRepository) Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastError string) error {
	query := `
        UPDATE executions
        SET status = 'scheduled', next_due_at = $2, attempts = $3, last_error = $4, updated_at = now()
        WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
    `
	_, err := r.DB.ExecContext(ctx, query, id, dueAt.UTC(), attempts, lastError)
	return err
}

// Fail terminates the execution with a reason visible to the UI layer.
func (r *ExecutionRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
        UPDATE executions
        SET status = 'failed', last_error = $2, updated_at = now()
        WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
    `
	_, err := r.DB.ExecContext(ctx, query, id, reason)
	return err
}

// Complete marks the execution finished after its last step.
func (r *ExecutionRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE executions
        SET status = 'completed', last_error = '', updated_at = now()
        WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
    `
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

// Cancel withdraws the execution. An in-flight step may still finish; the
// next claim simply never sees the row again.
func (r *ExecutionRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE executions
        SET status = 'cancelled', updated_at = now()
        WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
    `
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

// GetByID fetches an execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	exec, err := scanExecution(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewExecutionNotFound(id.String())
	}
	return exec, err
}

// Status returns just the current status, used by the dispatcher for its
// pre-send cancellation check.
func (r *ExecutionRepository) Status(ctx context.Context, id uuid.UUID) (model.ExecutionStatus, error) {
	var status model.ExecutionStatus
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", appErrors.NewExecutionNotFound(id.String())
	}
	return status, err
}

// SequenceStats returns execution counts by status for the dashboards.
func (r *ExecutionRepository) SequenceStats(ctx context.Context, sequenceID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM executions WHERE sequence_id = $1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		"scheduled": 0, "in_flight": 0, "waiting": 0,
		"completed": 0, "failed": 0, "cancelled": 0, "total": 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

var _ ExecutionRepositoryInterface = (*ExecutionRepository)(nil)
