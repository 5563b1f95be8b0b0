// internal/model/tenant.go
package model

import "time"

// Tenant is one isolated customer organization.
type Tenant struct {
	ID          int       `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	MaxInFlight int       `db:"max_in_flight" json:"max_in_flight"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TenantAccount is a tenant's connected account on one platform. Counters
// live in their own rolling-window buckets (see CounterWindow); everything
// here is effectively read-only to dispatchers.
type TenantAccount struct {
	ID          int       `db:"id" json:"id"`
	TenantID    int       `db:"tenant_id" json:"tenant_id"`
	Platform    Platform  `db:"platform" json:"platform"`
	AccountRef  string    `db:"account_ref" json:"account_ref"`
	Status      string    `db:"status" json:"status"` // connected, disconnected
	ConnectedAt time.Time `db:"connected_at" json:"connected_at"`
	Violations  int       `db:"violations" json:"violations"`
}

const (
	AccountConnected    = "connected"
	AccountDisconnected = "disconnected"
)

// Age returns how long the account has been connected.
func (a *TenantAccount) Age(now time.Time) time.Duration {
	return now.Sub(a.ConnectedAt)
}

// CounterWindow names a rolling counter bucket size.
type CounterWindow string

const (
	WindowDaily  CounterWindow = "daily"
	WindowWeekly CounterWindow = "weekly"
)

// WindowStart truncates now to the start of the window containing it.
// Daily windows start at UTC midnight, weekly windows on Monday.
func (w CounterWindow) Start(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if w == WindowWeekly {
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	}
	return day
}

// NextStart returns the start of the window after the one containing now.
func (w CounterWindow) NextStart(now time.Time) time.Time {
	start := w.Start(now)
	if w == WindowWeekly {
		return start.AddDate(0, 0, 7)
	}
	return start.AddDate(0, 0, 1)
}

// SendCounter is one atomic counter bucket: sends of one action kind by one
// tenant account within one rolling window.
type SendCounter struct {
	TenantID    int           `db:"tenant_id" json:"tenant_id"`
	Platform    Platform      `db:"platform" json:"platform"`
	Action      ActionKind    `db:"action" json:"action"`
	Window      CounterWindow `db:"window" json:"window"`
	WindowStart time.Time     `db:"window_start" json:"window_start"`
	Count       int           `db:"count" json:"count"`
}
