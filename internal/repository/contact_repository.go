package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// ContactRepositoryInterface defines methods used by enrollment and the
// dispatcher's template resolution.
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Contact, error)
	ListByIDs(ctx context.Context, tenantID int, ids []int) ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, tenant_id, email, first_name, last_name, company, title, linkedin_id, attributes`

func scanContact(row interface{ Scan(...any) error }) (*model.Contact, error) {
	var (
		c     model.Contact
		attrs []byte
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Email, &c.FirstName, &c.LastName, &c.Company, &c.Title, &c.LinkedInID, &attrs)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes for contact %d: %w", c.ID, err)
		}
	}
	return &c, nil
}

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	c, err := scanContact(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	return c, err
}

// ListByIDs fetches a tenant's contacts by id, used for bulk enrollment.
// Ids belonging to other tenants are silently absent from the result.
func (r *ContactRepository) ListByIDs(ctx context.Context, tenantID int, ids []int) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = ANY($2)`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
