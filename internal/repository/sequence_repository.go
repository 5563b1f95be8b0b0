package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// SequenceRepositoryInterface persists sequence definitions. Steps are
// frozen into sequence_versions rows; running executions read the version
// they were enrolled against, never the latest.
type SequenceRepositoryInterface interface {
	Create(ctx context.Context, seq *model.Sequence) error
	GetByID(ctx context.Context, id int) (*model.Sequence, error)
	GetVersion(ctx context.Context, id, version int) (*model.Sequence, error)
	UpdateSteps(ctx context.Context, seq *model.Sequence) error
	UpdateStatus(ctx context.Context, id int, status string) error
}

type SequenceRepository struct {
	DB *sql.DB
}

// Create inserts the sequence and its version-1 definition in one
// transaction.
func (r *SequenceRepository) Create(ctx context.Context, seq *model.Sequence) error {
	seq.Version = 1
	if seq.Status == "" {
		seq.Status = model.SequenceDraft
	}
	seq.CreatedAt = time.Now().UTC()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
        INSERT INTO sequences (tenant_id, name, status, version, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	if err := tx.QueryRowContext(ctx, query, seq.TenantID, seq.Name, seq.Status, seq.Version, seq.CreatedAt).Scan(&seq.ID); err != nil {
		return err
	}
	if err := insertVersion(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVersion(ctx context.Context, tx *sql.Tx, seq *model.Sequence) error {
	steps, err := json.Marshal(seq.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	platforms, err := json.Marshal(seq.Platforms)
	if err != nil {
		return fmt.Errorf("failed to marshal platforms: %w", err)
	}
	query := `
        INSERT INTO sequence_versions (sequence_id, version, platforms, steps)
        VALUES ($1, $2, $3, $4)
    `
	_, err = tx.ExecContext(ctx, query, seq.ID, seq.Version, platforms, steps)
	return err
}

// UpdateSteps writes a new frozen version and bumps the sequence pointer.
// Older versions stay untouched for executions still referencing them.
func (r *SequenceRepository) UpdateSteps(ctx context.Context, seq *model.Sequence) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE sequences SET version = version + 1, updated_at = now() WHERE id = $1 RETURNING version`
	if err := tx.QueryRowContext(ctx, query, seq.ID).Scan(&seq.Version); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.NewSequenceNotFound(seq.ID)
		}
		return err
	}
	if err := insertVersion(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateStatus flips draft/active/archived.
func (r *SequenceRepository) UpdateStatus(ctx context.Context, id int, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sequences SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewSequenceNotFound(id)
	}
	return nil
}

// GetByID fetches the sequence with its latest version's steps.
func (r *SequenceRepository) GetByID(ctx context.Context, id int) (*model.Sequence, error) {
	return r.get(ctx, id, 0)
}

// GetVersion fetches the sequence pinned at a specific frozen version.
func (r *SequenceRepository) GetVersion(ctx context.Context, id, version int) (*model.Sequence, error) {
	return r.get(ctx, id, version)
}

func (r *SequenceRepository) get(ctx context.Context, id, version int) (*model.Sequence, error) {
	query := `
        SELECT s.id, s.tenant_id, s.name, s.status, v.version, v.platforms, v.steps, s.created_at, s.updated_at
        FROM sequences s
        JOIN sequence_versions v ON v.sequence_id = s.id
        WHERE s.id = $1 AND v.version = CASE WHEN $2 > 0 THEN $2 ELSE s.version END
    `
	var (
		seq       model.Sequence
		platforms []byte
		steps     []byte
	)
	err := r.DB.QueryRowContext(ctx, query, id, version).Scan(
		&seq.ID, &seq.TenantID, &seq.Name, &seq.Status, &seq.Version,
		&platforms, &steps, &seq.CreatedAt, &seq.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewSequenceNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(platforms, &seq.Platforms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platforms for sequence %d: %w", id, err)
	}
	if err := json.Unmarshal(steps, &seq.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for sequence %d: %w", id, err)
	}
	return &seq, nil
}

var _ SequenceRepositoryInterface = (*SequenceRepository)(nil)
