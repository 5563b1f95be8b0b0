package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

// fakeExecutionRepo is an in-memory execution store with the same claim
// semantics as the Postgres implementation: claims are atomic under a lock.
type fakeExecutionRepo struct {
	mu    sync.Mutex
	execs map[uuid.UUID]*model.Execution
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{execs: make(map[uuid.UUID]*model.Execution)}
}

func (f *fakeExecutionRepo) add(exec *model.Execution) *model.Execution {
	f.mu.Lock()
	defer f.mu.Unlock()
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	cp := *exec
	f.execs[exec.ID] = &cp
	return exec
}

func (f *fakeExecutionRepo) get(id uuid.UUID) model.Execution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.execs[id]
}

func (f *fakeExecutionRepo) Enroll(ctx context.Context, exec *model.Execution) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if e.TenantID == exec.TenantID && e.SequenceID == exec.SequenceID &&
			e.ContactID == exec.ContactID && !e.Status.Terminal() {
			*exec = *e
			return false, nil
		}
	}
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	exec.CreatedAt = time.Now().UTC()
	exec.UpdatedAt = exec.CreatedAt
	cp := *exec
	f.execs[exec.ID] = &cp
	return true, nil
}

func (f *fakeExecutionRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claimed := []*model.Execution{}
	for _, e := range f.execs {
		if len(claimed) >= limit {
			break
		}
		if (e.Status == model.ExecutionScheduled || e.Status == model.ExecutionWaiting) && !e.NextDueAt.After(now) {
			e.Status = model.ExecutionInFlight
			e.UpdatedAt = now
			cp := *e
			claimed = append(claimed, &cp)
		}
	}
	return claimed, nil
}

func (f *fakeExecutionRepo) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reclaimed int64
	for _, e := range f.execs {
		if e.Status == model.ExecutionInFlight && e.UpdatedAt.Before(cutoff) {
			e.Status = model.ExecutionScheduled
			e.UpdatedAt = cutoff
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (f *fakeExecutionRepo) Advance(ctx context.Context, id uuid.UUID, nextStepID string, nextDueAt time.Time, status model.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok || e.Status.Terminal() {
		return nil
	}
	if e.CurrentStepID == nextStepID && e.Status == status && e.NextDueAt.Equal(nextDueAt) {
		return nil // idempotent
	}
	e.CurrentStepID = nextStepID
	e.Status = status
	e.NextDueAt = nextDueAt
	e.Attempts = 0
	e.LastError = ""
	return nil
}

func (f *fakeExecutionRepo) Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok || e.Status.Terminal() {
		return nil
	}
	e.Status = model.ExecutionScheduled
	e.NextDueAt = dueAt
	e.Attempts = attempts
	e.LastError = lastError
	return nil
}

func (f *fakeExecutionRepo) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.execs[id]; ok && !e.Status.Terminal() {
		e.Status = model.ExecutionFailed
		e.LastError = reason
	}
	return nil
}

func (f *fakeExecutionRepo) Complete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.execs[id]; ok && !e.Status.Terminal() {
		e.Status = model.ExecutionCompleted
		e.LastError = ""
	}
	return nil
}

func (f *fakeExecutionRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.execs[id]; ok && !e.Status.Terminal() {
		e.Status = model.ExecutionCancelled
	}
	return nil
}

func (f *fakeExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return nil, appErrors.NewExecutionNotFound(id.String())
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExecutionRepo) Status(ctx context.Context, id uuid.UUID) (model.ExecutionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return "", appErrors.NewExecutionNotFound(id.String())
	}
	return e.Status, nil
}

func (f *fakeExecutionRepo) SequenceStats(ctx context.Context, sequenceID int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := map[string]int{}
	for _, e := range f.execs {
		if e.SequenceID == sequenceID {
			stats[string(e.Status)]++
			stats["total"]++
		}
	}
	return stats, nil
}

// fakeSequenceRepo serves frozen definitions from memory.
type fakeSequenceRepo struct {
	seqs map[int]*model.Sequence
}

func (f *fakeSequenceRepo) Create(ctx context.Context, seq *model.Sequence) error {
	if f.seqs == nil {
		f.seqs = map[int]*model.Sequence{}
	}
	seq.ID = len(f.seqs) + 1
	seq.Version = 1
	f.seqs[seq.ID] = seq
	return nil
}

func (f *fakeSequenceRepo) GetByID(ctx context.Context, id int) (*model.Sequence, error) {
	seq, ok := f.seqs[id]
	if !ok {
		return nil, appErrors.NewSequenceNotFound(id)
	}
	return seq, nil
}

func (f *fakeSequenceRepo) GetVersion(ctx context.Context, id, version int) (*model.Sequence, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeSequenceRepo) UpdateSteps(ctx context.Context, seq *model.Sequence) error {
	seq.Version++
	f.seqs[seq.ID] = seq
	return nil
}

func (f *fakeSequenceRepo) UpdateStatus(ctx context.Context, id int, status string) error {
	seq, ok := f.seqs[id]
	if !ok {
		return appErrors.NewSequenceNotFound(id)
	}
	seq.Status = status
	return nil
}

// fakeContactRepo serves contacts from memory.
type fakeContactRepo struct {
	contacts map[int]*model.Contact
}

func (f *fakeContactRepo) GetByID(ctx context.Context, id int) (*model.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeContactRepo) ListByIDs(ctx context.Context, tenantID int, ids []int) ([]model.Contact, error) {
	out := []model.Contact{}
	for _, id := range ids {
		if c, ok := f.contacts[id]; ok && c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

// fakeTenantRepo implements atomic counter reservation under a lock, which
// is what the rate-limit conservation tests lean on.
type fakeTenantRepo struct {
	mu       sync.Mutex
	tenants  map[int]*model.Tenant
	accounts map[string]*model.TenantAccount
	counters map[string]int
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{
		tenants:  map[int]*model.Tenant{},
		accounts: map[string]*model.TenantAccount{},
		counters: map[string]int{},
	}
}

func accountKey(tenantID int, platform model.Platform) string {
	return fmt.Sprintf("%d:%s", tenantID, platform)
}

func counterKey(tenantID int, platform model.Platform, action model.ActionKind, window model.CounterWindow, now time.Time) string {
	return fmt.Sprintf("%d:%s:%s:%s:%s", tenantID, platform, action, window, window.Start(now).Format(time.RFC3339))
}

func (f *fakeTenantRepo) GetTenant(ctx context.Context, tenantID int) (*model.Tenant, error) {
	return f.tenants[tenantID], nil
}

func (f *fakeTenantRepo) GetAccount(ctx context.Context, tenantID int, platform model.Platform) (*model.TenantAccount, error) {
	return f.accounts[accountKey(tenantID, platform)], nil
}

func (f *fakeTenantRepo) Usage(ctx context.Context, tenantID int, platform model.Platform, action model.ActionKind, now time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	daily := f.counters[counterKey(tenantID, platform, action, model.WindowDaily, now)]
	weekly := f.counters[counterKey(tenantID, platform, action, model.WindowWeekly, now)]
	return daily, weekly, nil
}

func (f *fakeTenantRepo) ReserveSend(ctx context.Context, tenantID int, platform model.Platform, action model.ActionKind, now time.Time, dailyCeiling, weeklyCeiling int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dk := counterKey(tenantID, platform, action, model.WindowDaily, now)
	wk := counterKey(tenantID, platform, action, model.WindowWeekly, now)
	if f.counters[dk] >= dailyCeiling || f.counters[wk] >= weeklyCeiling {
		return false, nil
	}
	f.counters[dk]++
	f.counters[wk]++
	return true, nil
}

func (f *fakeTenantRepo) ResetExpiredWindows(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// fakeResolver is the isolation boundary without the cache.
type fakeResolver struct {
	repo *fakeTenantRepo
}

func (r *fakeResolver) ResolveAccount(ctx context.Context, tenantID int, platform model.Platform) (*model.TenantAccount, error) {
	account, _ := r.repo.GetAccount(ctx, tenantID, platform)
	if account == nil {
		return nil, &appErrors.ConfigurationError{Reason: fmt.Sprintf("tenant %d has no %s account", tenantID, platform)}
	}
	return account, nil
}

func (r *fakeResolver) MaxInFlight(ctx context.Context, tenantID int) (int, error) {
	if t, _ := r.repo.GetTenant(ctx, tenantID); t != nil {
		return t.MaxInFlight, nil
	}
	return 0, &appErrors.ConfigurationError{Reason: "tenant not found"}
}

// fakeGateway records calls and delegates to configurable funcs.
type fakeGateway struct {
	mu         sync.Mutex
	sendFn     func(req gateway.SendRequest) (gateway.SendResult, error)
	signalFn   func(platform model.Platform, accountRef, recipientRef string) (gateway.Signal, error)
	sends      []gateway.SendRequest
	signalGets int
}

func (g *fakeGateway) Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error) {
	g.mu.Lock()
	g.sends = append(g.sends, req)
	g.mu.Unlock()
	if g.sendFn != nil {
		return g.sendFn(req)
	}
	return gateway.SendResult{ID: "msg-" + req.IdempotencyKey, Status: "sent"}, nil
}

func (g *fakeGateway) GetSignal(ctx context.Context, platform model.Platform, accountRef, recipientRef string) (gateway.Signal, error) {
	g.mu.Lock()
	g.signalGets++
	g.mu.Unlock()
	if g.signalFn != nil {
		return g.signalFn(platform, accountRef, recipientRef)
	}
	return gateway.Signal{}, nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

// fakePublisher collects events.
type fakePublisher struct {
	mu     sync.Mutex
	events []queue.ExecutionEvent
}

func (p *fakePublisher) Publish(event queue.ExecutionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) typesSeen() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := []queue.EventType{}
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
