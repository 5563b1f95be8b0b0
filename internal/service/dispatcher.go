package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/policy"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/sequence"
)

// AccountResolver is the tenant isolation boundary as the dispatcher and
// scheduler see it.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, tenantID int, platform model.Platform) (*model.TenantAccount, error)
	MaxInFlight(ctx context.Context, tenantID int) (int, error)
}

// Disposition summarizes what Execute did with a claimed execution.
type Disposition string

const (
	DispositionAdvanced    Disposition = "advanced"
	DispositionCompleted   Disposition = "completed"
	DispositionRescheduled Disposition = "rescheduled"
	DispositionRateLimited Disposition = "rate_limited"
	DispositionFailed      Disposition = "failed"
	DispositionCancelled   Disposition = "cancelled"
)

// Result is the dispatcher's answer for one claimed execution.
type Result struct {
	Disposition Disposition
	Detail      string
}

// Dispatcher executes one claimed step: personalizes content, applies the
// rate limit policy, calls the gateway and advances or halts the sequence.
// It never lets an error escape its boundary; every outcome is translated
// into a store mutation. The returned error reports store/infrastructure
// failures only.
type Dispatcher struct {
	Executions  repository.ExecutionRepositoryInterface
	Sequences   repository.SequenceRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Tenants     repository.TenantRepositoryInterface
	Resolver    AccountResolver
	Gateway     gateway.Client
	Events      queue.Publisher
	MaxAttempts int
	Now         func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return DefaultMaxSendAttempts
}

func (d *Dispatcher) publish(t queue.EventType, exec *model.Execution, reason string) {
	if d.Events != nil {
		d.Events.Publish(queue.Event(t, exec, reason))
	}
}

// Execute runs the execution's current step.
func (d *Dispatcher) Execute(ctx context.Context, exec *model.Execution) (Result, error) {
	// Cancellation may have landed between due time and claim, or right
	// after the claim. Re-check before any external call.
	status, err := d.Executions.Status(ctx, exec.ID)
	if err != nil {
		return Result{}, err
	}
	if status == model.ExecutionCancelled {
		d.publish(queue.EventCancelled, exec, "")
		return Result{Disposition: DispositionCancelled}, nil
	}

	seq, err := d.Sequences.GetVersion(ctx, exec.SequenceID, exec.SequenceVersion)
	if err != nil {
		return Result{}, err
	}

	step, ok := seq.StepByID(exec.CurrentStepID)
	if !ok {
		return d.fail(ctx, exec, fmt.Sprintf("ConfigurationError: step %q not in sequence %d v%d",
			exec.CurrentStepID, exec.SequenceID, exec.SequenceVersion))
	}

	switch step.Kind {
	case model.StepWait:
		return d.executeWait(ctx, exec, seq, step)
	case model.StepBranch:
		return d.executeBranch(ctx, exec, seq, step)
	case model.StepSend:
		return d.executeSend(ctx, exec, seq, step)
	default:
		return d.fail(ctx, exec, fmt.Sprintf("ConfigurationError: step %q has unknown kind %q", step.ID, step.Kind))
	}
}

// advanceTo schedules the next step. A step's delay gates the step itself
// and is applied exactly once, here: the next step becomes due at
// now + next.Delay(). Executions parked on a wait step show as waiting;
// that distinction is presentational, claiming treats both alike.
func (d *Dispatcher) advanceTo(ctx context.Context, exec *model.Execution, next model.Step, dueAt time.Time) (Result, error) {
	status := model.ExecutionScheduled
	if next.Kind == model.StepWait {
		status = model.ExecutionWaiting
	}
	if err := d.Executions.Advance(ctx, exec.ID, next.ID, dueAt, status); err != nil {
		return Result{}, err
	}
	return Result{Disposition: DispositionAdvanced, Detail: next.ID}, nil
}

// executeWait makes no external call: a wait is purely a scheduling delay,
// never a parked goroutine. By the time a wait step is claimed its delay
// has already elapsed, so the hop to the next step is immediate.
func (d *Dispatcher) executeWait(ctx context.Context, exec *model.Execution, seq *model.Sequence, step model.Step) (Result, error) {
	next, ok := seq.StepAfter(step.ID)
	if !ok {
		return d.complete(ctx, exec)
	}
	return d.advanceTo(ctx, exec, next, d.now().Add(next.Delay()))
}

// executeBranch queries the gateway signal in a bounded single attempt and
// advances along the condition table with zero delay.
func (d *Dispatcher) executeBranch(ctx context.Context, exec *model.Execution, seq *model.Sequence, step model.Step) (Result, error) {
	platform := step.Channel
	if platform == "" && len(seq.Platforms) > 0 {
		platform = seq.Platforms[0]
	}
	account, err := d.Resolver.ResolveAccount(ctx, exec.TenantID, platform)
	if err != nil {
		return d.classifyAndRecord(ctx, exec, "get_signal", err)
	}
	contact, err := d.Contacts.GetByID(ctx, exec.ContactID)
	if err != nil {
		return Result{}, err
	}
	if contact == nil {
		return d.fail(ctx, exec, fmt.Sprintf("ConfigurationError: contact %d not found", exec.ContactID))
	}

	signal, err := d.Gateway.GetSignal(ctx, account.Platform, account.AccountRef, contact.RecipientRef(account.Platform))
	if err != nil {
		return d.classifyAndRecord(ctx, exec, "get_signal", err)
	}

	nextID, more := sequence.NextStep(seq, step, signal.Outcome())
	if !more {
		return d.complete(ctx, exec)
	}
	next, ok := seq.StepByID(nextID)
	if !ok {
		return d.fail(ctx, exec, fmt.Sprintf("ConfigurationError: branch target %q not in sequence", nextID))
	}
	// Branch steps resolve immediately once their precondition (typically a
	// prior wait) has elapsed: zero delay on the hop.
	return d.advanceTo(ctx, exec, next, d.now())
}

func (d *Dispatcher) executeSend(ctx context.Context, exec *model.Execution, seq *model.Sequence, step model.Step) (Result, error) {
	now := d.now()

	contact, err := d.Contacts.GetByID(ctx, exec.ContactID)
	if err != nil {
		return Result{}, err
	}
	if contact == nil {
		return d.fail(ctx, exec, fmt.Sprintf("ConfigurationError: contact %d not found", exec.ContactID))
	}

	account, err := d.Resolver.ResolveAccount(ctx, exec.TenantID, step.Channel)
	if err != nil {
		return d.classifyAndRecord(ctx, exec, "send", err)
	}

	// skip-if: "if they already replied, jump to step X".
	if step.SkipIf != "" {
		signal, err := d.Gateway.GetSignal(ctx, account.Platform, account.AccountRef, contact.RecipientRef(account.Platform))
		if err != nil {
			return d.classifyAndRecord(ctx, exec, "send", err)
		}
		if signalObserved(signal, step.SkipIf) {
			if step.OnSkip == "" || step.OnSkip == sequence.EndStepID {
				return d.complete(ctx, exec)
			}
			target, ok := seq.StepByID(step.OnSkip)
			if !ok {
				return d.fail(ctx, exec, fmt.Sprintf("ConfigurationError: skip target %q not in sequence", step.OnSkip))
			}
			return d.advanceTo(ctx, exec, target, now)
		}
	}

	action := step.ActionOrDefault()
	daily, weekly, err := d.Tenants.Usage(ctx, exec.TenantID, account.Platform, action, now)
	if err != nil {
		return Result{}, err
	}
	budget := policy.ComputeBudget(account, action, policy.Usage{Daily: daily, Weekly: weekly}, now)
	if budget.Denied() {
		return d.rateLimited(ctx, exec, budget.CooldownUntil)
	}

	// The advisory check above can race with other dispatchers; this atomic
	// compare-and-increment is the gate that actually guarantees the budget
	// is never exceeded.
	reserved, err := d.Tenants.ReserveSend(ctx, exec.TenantID, account.Platform, action, now, budget.DailyLimit, budget.WeeklyLimit)
	if err != nil {
		return Result{}, err
	}
	if !reserved {
		return d.rateLimited(ctx, exec, budget.CooldownUntil)
	}

	content := sequence.Resolve(step.Template, contact)
	result, err := d.Gateway.Send(ctx, gateway.SendRequest{
		Platform:       account.Platform,
		AccountRef:     account.AccountRef,
		RecipientRef:   contact.RecipientRef(account.Platform),
		Content:        content,
		IdempotencyKey: exec.IdempotencyKey(),
	})
	if err != nil {
		return d.classifyAndRecord(ctx, exec, "send", err)
	}

	if result.AlreadySent() {
		log.Info().
			Str("execution_id", exec.ID.String()).
			Str("step_id", step.ID).
			Msg("gateway reports message already sent, treating as success")
	}
	d.publish(queue.EventSent, exec, "")

	next, ok := seq.StepAfter(step.ID)
	if !ok {
		return d.complete(ctx, exec)
	}
	return d.advanceTo(ctx, exec, next, now.Add(next.Delay()))
}

// classifyAndRecord maps a gateway or configuration error onto the store:
// rate limiting reschedules without burning an attempt, transient errors
// back off up to the attempt cap, everything else is terminal.
func (d *Dispatcher) classifyAndRecord(ctx context.Context, exec *model.Execution, op string, cause error) (Result, error) {
	switch {
	case appErrors.IsRateLimited(cause):
		var rl *appErrors.RateLimitedError
		errors.As(cause, &rl)
		return d.rateLimited(ctx, exec, rl.RetryAt)

	case appErrors.IsTransient(cause):
		attempts := exec.Attempts + 1
		if attempts >= d.maxAttempts() {
			return d.fail(ctx, exec, "TransientGatewayError: attempts exhausted")
		}
		dueAt := d.now().Add(backoffDelay(attempts))
		if err := d.Executions.Reschedule(ctx, exec.ID, dueAt, attempts, cause.Error()); err != nil {
			return Result{}, err
		}
		log.Warn().
			Str("execution_id", exec.ID.String()).
			Int("attempts", attempts).
			Time("retry_at", dueAt).
			Err(cause).
			Msg("transient gateway error, rescheduled with backoff")
		return Result{Disposition: DispositionRescheduled, Detail: cause.Error()}, nil

	case appErrors.IsConfiguration(cause):
		// A setup defect, not a runtime condition. Log loudly.
		log.Error().
			Str("execution_id", exec.ID.String()).
			Int("tenant_id", exec.TenantID).
			Err(cause).
			Msg("configuration error, failing execution")
		return d.fail(ctx, exec, "ConfigurationError: "+cause.Error())

	default:
		return d.fail(ctx, exec, fmt.Sprintf("PermanentGatewayError: %s failed: %v", op, cause))
	}
}

// rateLimited is backpressure, never a failure: the execution goes back to
// scheduled at the next window boundary with its attempt counter untouched.
func (d *Dispatcher) rateLimited(ctx context.Context, exec *model.Execution, retryAt time.Time) (Result, error) {
	if retryAt.IsZero() || !retryAt.After(d.now()) {
		retryAt = model.WindowDaily.NextStart(d.now())
	}
	if err := d.Executions.Reschedule(ctx, exec.ID, retryAt, exec.Attempts, exec.LastError); err != nil {
		return Result{}, err
	}
	log.Debug().
		Str("execution_id", exec.ID.String()).
		Time("retry_at", retryAt).
		Msg("send denied by rate limit policy, rescheduled")
	return Result{Disposition: DispositionRateLimited}, nil
}

func (d *Dispatcher) complete(ctx context.Context, exec *model.Execution) (Result, error) {
	if err := d.Executions.Complete(ctx, exec.ID); err != nil {
		return Result{}, err
	}
	d.publish(queue.EventCompleted, exec, "")
	return Result{Disposition: DispositionCompleted}, nil
}

func (d *Dispatcher) fail(ctx context.Context, exec *model.Execution, reason string) (Result, error) {
	if err := d.Executions.Fail(ctx, exec.ID, reason); err != nil {
		return Result{}, err
	}
	d.publish(queue.EventFailed, exec, reason)
	return Result{Disposition: DispositionFailed, Detail: reason}, nil
}

func signalObserved(s gateway.Signal, outcome model.Outcome) bool {
	switch model.ParseOutcome(string(outcome)) {
	case model.OutcomeAccepted:
		return s.Accepted
	case model.OutcomeReplied:
		return s.Replied
	case model.OutcomeOpened:
		return s.Opened
	case model.OutcomeClicked:
		return s.Clicked
	}
	return false
}
