package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// Executor is the dispatcher as the scheduler sees it.
type Executor interface {
	Execute(ctx context.Context, exec *model.Execution) (Result, error)
}

// Scheduler polls the execution store for due work on a fixed interval and
// fans it out to dispatchers under a bounded worker pool. Per-tenant
// in-flight caps hold even during backlog catch-up after a restart, so no
// burst can exceed the rate limit policy's assumptions.
type Scheduler struct {
	Executions      repository.ExecutionRepositoryInterface
	Dispatcher      Executor
	Resolver        AccountResolver
	Interval        time.Duration
	BatchSize       int
	PoolSize        int64
	TenantInFlight  int64
	MaxAttempts     int
	StaleClaimAfter time.Duration
	Now             func() time.Time
}

// DefaultStaleClaimAfter is how long a claim may sit in_flight before it is
// considered orphaned by a crashed worker and put back on the schedule.
const DefaultStaleClaimAfter = 10 * time.Minute

func (s *Scheduler) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxSendAttempts
}

func (s *Scheduler) staleClaimAfter() time.Duration {
	if s.StaleClaimAfter > 0 {
		return s.StaleClaimAfter
	}
	return DefaultStaleClaimAfter
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run drives Tick on the configured interval until the context is done.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("scheduler running")
	for {
		if err := s.Tick(ctx, s.now()); err != nil {
			log.Error().Err(err).Msg("scheduler tick failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
		}
	}
}

// Tick claims one batch of due executions and dispatches them. Per-execution
// errors are recorded in the store and logged, never returned: one bad
// execution must not stall the batch. The returned error covers claim
// failures only.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	// A worker that died mid-dispatch leaves its claims in_flight; put any
	// claim older than the lease back on the schedule so the step retries
	// under its idempotency key. A reclaim failure must not stall the tick.
	if reclaimed, err := s.Executions.ReclaimStale(ctx, now.Add(-s.staleClaimAfter())); err != nil {
		log.Error().Err(err).Msg("failed to reclaim stale claims")
	} else if reclaimed > 0 {
		log.Warn().Int64("reclaimed", reclaimed).Msg("reclaimed stale in-flight executions")
	}

	claimed, err := s.Executions.ClaimDue(ctx, now, batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due executions: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}
	log.Debug().Int("claimed", len(claimed)).Time("now", now).Msg("scheduler tick")

	poolSize := s.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	pool := semaphore.NewWeighted(poolSize)
	tenantSems := s.tenantSemaphores(ctx, claimed)

	var wg sync.WaitGroup
	for _, exec := range interleaveByTenant(claimed) {
		tenantSem := tenantSems[exec.TenantID]
		if err := pool.Acquire(ctx, 1); err != nil {
			break // context cancelled; claimed rows are reclaimed next tick
		}
		if err := tenantSem.Acquire(ctx, 1); err != nil {
			pool.Release(1)
			break
		}

		wg.Add(1)
		go func(exec *model.Execution) {
			defer wg.Done()
			defer pool.Release(1)
			defer tenantSem.Release(1)
			s.dispatch(ctx, exec)
		}(exec)
	}
	wg.Wait()
	return nil
}

// dispatch runs one execution. A dispatcher panic or store error must never
// leave the claim in_flight: either way the execution is rescheduled with
// backoff, or failed once its attempts are spent, and the batch keeps going.
func (s *Scheduler) dispatch(ctx context.Context, exec *model.Execution) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("execution_id", exec.ID.String()).
				Interface("panic", r).
				Msg("dispatcher panicked, rescheduling execution")
			s.recordDispatchError(ctx, exec, fmt.Sprintf("panic: %v", r))
		}
	}()

	result, err := s.Dispatcher.Execute(ctx, exec)
	if err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("dispatcher store error, rescheduling execution")
		s.recordDispatchError(ctx, exec, err.Error())
		return
	}
	log.Debug().
		Str("execution_id", exec.ID.String()).
		Str("disposition", string(result.Disposition)).
		Str("detail", result.Detail).
		Msg("execution dispatched")
}

// recordDispatchError puts a claimed execution back on the schedule after a
// panic or dispatcher store error, counting the attempt against the same cap
// as transient gateway failures so a deterministic crash cannot retry
// forever.
func (s *Scheduler) recordDispatchError(ctx context.Context, exec *model.Execution, reason string) {
	attempts := exec.Attempts + 1
	if attempts >= s.maxAttempts() {
		if err := s.Executions.Fail(ctx, exec.ID, "TransientGatewayError: attempts exhausted"); err != nil {
			log.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("failed to record dispatch failure")
		}
		return
	}
	dueAt := s.now().Add(backoffDelay(attempts))
	if err := s.Executions.Reschedule(ctx, exec.ID, dueAt, attempts, reason); err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID.String()).Msg("failed to reschedule after dispatch error")
	}
}

// tenantSemaphores builds one in-flight cap per tenant in the batch, from
// the tenant's configured hard cap bounded by the scheduler default.
func (s *Scheduler) tenantSemaphores(ctx context.Context, batch []*model.Execution) map[int]*semaphore.Weighted {
	defaultCap := s.TenantInFlight
	if defaultCap <= 0 {
		defaultCap = 3
	}
	sems := make(map[int]*semaphore.Weighted)
	for _, exec := range batch {
		if _, ok := sems[exec.TenantID]; ok {
			continue
		}
		limit := defaultCap
		if s.Resolver != nil {
			if hard, err := s.Resolver.MaxInFlight(ctx, exec.TenantID); err == nil && hard > 0 && int64(hard) < limit {
				limit = int64(hard)
			}
		}
		sems[exec.TenantID] = semaphore.NewWeighted(limit)
	}
	return sems
}

// interleaveByTenant reorders a claimed batch round-robin across tenants so
// one backlogged tenant cannot starve the others of scheduler capacity.
// Relative order within a tenant is preserved.
func interleaveByTenant(batch []*model.Execution) []*model.Execution {
	byTenant := make(map[int][]*model.Execution)
	order := []int{}
	for _, exec := range batch {
		if _, ok := byTenant[exec.TenantID]; !ok {
			order = append(order, exec.TenantID)
		}
		byTenant[exec.TenantID] = append(byTenant[exec.TenantID], exec)
	}

	out := make([]*model.Execution, 0, len(batch))
	for round := 0; len(out) < len(batch); round++ {
		for _, tenantID := range order {
			if round < len(byTenant[tenantID]) {
				out = append(out, byTenant[tenantID][round])
			}
		}
	}
	return out
}
