// internal/policy/policy.go

// Package policy computes safe per-tenant, per-platform send budgets. All
// functions are pure: account state, usage counters and the clock are passed
// in, which keeps budget math unit-testable without mocking time.
package policy

import (
	"math"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// baseDailyLimits is the fixed per-platform table of daily send ceilings.
// Weekly ceilings are derived as 5x daily.
var baseDailyLimits = map[model.Platform]map[model.ActionKind]int{
	model.PlatformLinkedIn: {
		model.ActionConnect: 20,
		model.ActionMessage: 50,
	},
	model.PlatformEmail: {
		model.ActionMessage: 500,
	},
	model.PlatformChat: {
		model.ActionMessage: 200,
	},
}

const weeklyFactor = 5

// Usage is the tenant's consumed sends in the current rolling windows.
type Usage struct {
	Daily  int
	Weekly int
}

// Budget is derived on demand and never persisted, so it cannot go stale.
type Budget struct {
	DailyLimit      int
	WeeklyLimit     int
	DailyRemaining  int
	WeeklyRemaining int
	CooldownUntil   time.Time
}

// Denied reports whether the action must not be sent right now.
func (b Budget) Denied() bool {
	return b.DailyRemaining <= 0 || b.WeeklyRemaining <= 0
}

// BaseDailyLimit returns the raw platform ceiling before multipliers, or 0
// when the platform does not allow the action at all.
func BaseDailyLimit(platform model.Platform, action model.ActionKind) int {
	return baseDailyLimits[platform][action]
}

// ageMultiplier throttles young accounts hard.
func ageMultiplier(age time.Duration) float64 {
	switch {
	case age < 7*24*time.Hour:
		return 0.2
	case age < 30*24*time.Hour:
		return 0.5
	case age < 90*24*time.Hour:
		return 0.75
	default:
		return 1.0
	}
}

// violationMultiplier reduces the limit per recorded platform violation,
// never below 0.3.
func violationMultiplier(violations int) float64 {
	m := 1.0 - float64(violations)*0.2
	return math.Max(0.3, m)
}

// EffectiveDailyLimit applies the age and violation multipliers to the base
// table, with a floor of 1 whenever the platform allows the action at all.
func EffectiveDailyLimit(account *model.TenantAccount, action model.ActionKind, now time.Time) int {
	base := BaseDailyLimit(account.Platform, action)
	if base <= 0 {
		return 0
	}
	limit := int(math.Floor(float64(base) * ageMultiplier(account.Age(now)) * violationMultiplier(account.Violations)))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// ComputeBudget derives the remaining daily and weekly allowance for one
// action on one tenant account. When the budget is exhausted CooldownUntil
// holds the next rolling-window boundary the caller should reschedule to.
func ComputeBudget(account *model.TenantAccount, action model.ActionKind, usage Usage, now time.Time) Budget {
	daily := EffectiveDailyLimit(account, action, now)
	weekly := daily * weeklyFactor

	b := Budget{
		DailyLimit:      daily,
		WeeklyLimit:     weekly,
		DailyRemaining:  daily - usage.Daily,
		WeeklyRemaining: weekly - usage.Weekly,
	}
	if b.DailyRemaining < 0 {
		b.DailyRemaining = 0
	}
	if b.WeeklyRemaining < 0 {
		b.WeeklyRemaining = 0
	}

	if b.DailyRemaining <= 0 {
		b.CooldownUntil = model.WindowDaily.NextStart(now)
	}
	if b.WeeklyRemaining <= 0 {
		weeklyBoundary := model.WindowWeekly.NextStart(now)
		if weeklyBoundary.After(b.CooldownUntil) {
			b.CooldownUntil = weeklyBoundary
		}
	}
	return b
}

// ShouldDeny reports whether the action is at or above budget. Callers must
// not send and must reschedule to ComputeBudget(...).CooldownUntil.
func ShouldDeny(account *model.TenantAccount, action model.ActionKind, usage Usage, now time.Time) bool {
	return ComputeBudget(account, action, usage, now).Denied()
}
