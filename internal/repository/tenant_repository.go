package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// TenantRepositoryInterface exposes tenant accounts and the atomic send
// counters. Counter mutations are the only shared state touched by
// concurrent dispatchers, so every increment happens inside SQL.
type TenantRepositoryInterface interface {
	GetTenant(ctx context.Context, tenantID int) (*model.Tenant, error)
	GetAccount(ctx context.Context, tenantID int, platform model.Platform) (*model.TenantAccount, error)
	Usage(ctx context.Context, tenantID int, platform model.Platform, action model.ActionKind, now time.Time) (daily, weekly int, err error)
	ReserveSend(ctx context.Context, tenantID int, platform model.Platform, action model.ActionKind, now time.Time, dailyCeiling, weeklyCeiling int) (bool, error)
	ResetExpiredWindows(ctx context.Context, now time.Time) (int64, error)
}

type TenantRepository struct {
	DB *sql.DB
}

// GetTenant fetches a tenant, or nil when unknown.
func (r *TenantRepository) GetTenant(ctx context.Context, tenantID int) (*model.Tenant, error) {
	query := `SELECT id, name, max_in_flight, created_at FROM tenants WHERE id = $1`
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx, query, tenantID).Scan(&t.ID, &t.Name, &t.MaxInFlight, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetAccount fetches the tenant's account for a platform, or nil when the
// tenant never connected one.
func (r *TenantRepository) GetAccount(ctx context.Context, tenantID int, platform model.Platform) (*model.TenantAccount, error) {
	query := `
        SELECT id, tenant_id, platform, account_ref, status, connected_at, violations
        FROM tenant_accounts
        WHERE tenant_id = $1 AND platform = $2
    `
	var a model.TenantAccount
	err := r.DB.QueryRowContext(ctx, query, tenantID, platform).Scan(
		&a.ID, &a.TenantID, &a.Platform, &a.AccountRef, &a.Status, &a.ConnectedAt, &a.Violations,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Usage reads the consumed sends in the current daily and weekly windows.
// Missing buckets count as zero; buckets are created on first reserve.
func (r *TenantRepository) Usage(ctx context.Context, tenantID int, platform model.Platform, action model.ActionKind, now time.Time) (int, int, error) {
	query := `
        SELECT "window", count FROM send_counters
        WHERE tenant_id = $1 AND platform = $2 AND action = $3
          AND (("window" = 'daily' AND window_start = $4) OR ("window" = 'weekly' AND window_start = $5))
    `
	rows, err := r.DB.QueryContext(ctx, query, tenantID, platform, action,
		model.WindowDaily.Start(now), model.WindowWeekly.Start(now))
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var daily, weekly int
	for rows.Next() {
		var window model.CounterWindow
		var count int
		if err := rows.Scan(&window, &count); err != nil {
			return 0, 0, err
		}
		if window == model.WindowDaily {
			daily = count
		} else {
			weekly = count
		}
	}
	return daily, weekly, rows.Err()
}

const reserveQuery = `
        INSERT INTO send_counters (tenant_id, platform, action, "window", window_start, count)
        VALUES ($1, $2, $3, $4, $5, 1)
        ON CONFLICT (tenant_id, platform, action, "window", window_start)
        DO UPDATE SET count = send_counters.count + 1
        WHERE send_counters.count < $6
        RETURNING count
    `

// ReserveSend atomically consumes one unit of the daily and weekly budgets,
// or neither. This compare-and-increment is the hard gate that keeps
// concurrent dispatchers from ever over-sending, regardless of what the
// advisory ShouldDeny check saw.
func (r *TenantRepository) ReserveSend(ctx context.Context, tenantID int, platform model.Platform, action model.ActionKind, now time.Time, dailyCeiling, weeklyCeiling int) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, reserveQuery,
		tenantID, platform, action, model.WindowDaily, model.WindowDaily.Start(now), dailyCeiling,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return false, nil // daily ceiling hit
	}
	if err != nil {
		return false, err
	}

	err = tx.QueryRowContext(ctx, reserveQuery,
		tenantID, platform, action, model.WindowWeekly, model.WindowWeekly.Start(now), weeklyCeiling,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return false, nil // weekly ceiling hit; rollback releases the daily unit
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit send reservation: %w", err)
	}
	return true, nil
}

// ResetExpiredWindows drops counter buckets whose window has rolled over.
// Run periodically by the worker's sweep job.
func (r *TenantRepository) ResetExpiredWindows(ctx context.Context, now time.Time) (int64, error) {
	query := `
        DELETE FROM send_counters
        WHERE ("window" = 'daily' AND window_start < $1)
           OR ("window" = 'weekly' AND window_start < $2)
    `
	res, err := r.DB.ExecContext(ctx, query, model.WindowDaily.Start(now), model.WindowWeekly.Start(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
