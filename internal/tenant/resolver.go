// internal/tenant/resolver.go

// Package tenant is the isolation boundary: every dispatcher call resolves
// through here to a tenant-scoped account and cap. There is no cross-tenant
// shared state.
package tenant

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// Resolver looks up tenant accounts and caps, caching lookups briefly so a
// busy tick does not hammer the database once per claimed execution.
type Resolver struct {
	repo  repository.TenantRepositoryInterface
	cache *gocache.Cache
}

// NewResolver builds a resolver with the given cache TTL.
func NewResolver(repo repository.TenantRepositoryInterface, ttl time.Duration) *Resolver {
	return &Resolver{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// ResolveAccount returns the tenant's connected account for a platform. A
// missing or disconnected account is a ConfigurationError: a setup defect,
// terminal for the execution.
func (r *Resolver) ResolveAccount(ctx context.Context, tenantID int, platform model.Platform) (*model.TenantAccount, error) {
	key := fmt.Sprintf("account:%d:%s", tenantID, platform)
	if v, found := r.cache.Get(key); found {
		return v.(*model.TenantAccount), nil
	}

	account, err := r.repo.GetAccount(ctx, tenantID, platform)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &appErrors.ConfigurationError{
			Reason: fmt.Sprintf("tenant %d has no %s account", tenantID, platform),
		}
	}
	if account.Status != model.AccountConnected {
		return nil, &appErrors.ConfigurationError{
			Reason: fmt.Sprintf("tenant %d %s account is %s", tenantID, platform, account.Status),
		}
	}

	r.cache.Set(key, account, gocache.DefaultExpiration)
	return account, nil
}

// MaxInFlight returns the tenant-level hard cap on concurrent dispatches,
// enforced independently of platform rate limits.
func (r *Resolver) MaxInFlight(ctx context.Context, tenantID int) (int, error) {
	key := fmt.Sprintf("cap:%d", tenantID)
	if v, found := r.cache.Get(key); found {
		return v.(int), nil
	}

	t, err := r.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, &appErrors.ConfigurationError{Reason: fmt.Sprintf("tenant %d not found", tenantID)}
	}

	r.cache.Set(key, t.MaxInFlight, gocache.DefaultExpiration)
	return t.MaxInFlight, nil
}
