// internal/service/sequence_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/sequence"
)

// SequenceService is the write-side API surface for sequence definitions and
// enrollments. The scheduler/dispatcher pair never goes through it.
type SequenceService struct {
	Sequences  repository.SequenceRepositoryInterface
	Executions repository.ExecutionRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Events     queue.Publisher
	Now        func() time.Time
}

func (s *SequenceService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SequenceService) publish(t queue.EventType, exec *model.Execution, reason string) {
	if s.Events != nil {
		s.Events.Publish(queue.Event(t, exec, reason))
	}
}

// CreateSequence stores a new draft definition as version 1.
func (s *SequenceService) CreateSequence(ctx context.Context, seq *model.Sequence) error {
	if seq.Name == "" {
		return fmt.Errorf("sequence name cannot be empty")
	}
	if seq.TenantID == 0 {
		return fmt.Errorf("sequence must belong to a tenant")
	}
	seq.Status = model.SequenceDraft
	return s.Sequences.Create(ctx, seq)
}

// UpdateSteps freezes the edited definition as a new version. Executions
// already running keep the version they enrolled against.
func (s *SequenceService) UpdateSteps(ctx context.Context, id int, platforms []model.Platform, steps []model.Step) (*model.Sequence, error) {
	seq, err := s.Sequences.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	seq.Platforms = platforms
	seq.Steps = steps
	if err := s.Sequences.UpdateSteps(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// Activate validates the definition and opens it for enrollment. Validation
// here is the last line of defense: after activation the version is frozen.
func (s *SequenceService) Activate(ctx context.Context, id int) error {
	seq, err := s.Sequences.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if seq.Status == model.SequenceActive {
		return nil
	}
	if err := sequence.Validate(seq); err != nil {
		return fmt.Errorf("sequence %d failed validation: %w", id, err)
	}
	return s.Sequences.UpdateStatus(ctx, id, model.SequenceActive)
}

// GetSequence fetches a definition at its latest version.
func (s *SequenceService) GetSequence(ctx context.Context, id int) (*model.Sequence, error) {
	return s.Sequences.GetByID(ctx, id)
}

// SequenceDetails is the read-only dashboard view.
type SequenceDetails struct {
	*model.Sequence
	Stats map[string]int `json:"stats"`
}

// GetSequenceDetails returns the definition with aggregate execution counts.
func (s *SequenceService) GetSequenceDetails(ctx context.Context, id int) (*SequenceDetails, error) {
	seq, err := s.Sequences.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.Executions.SequenceStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SequenceDetails{Sequence: seq, Stats: stats}, nil
}

// EnrollResult reports a bulk enrollment.
type EnrollResult struct {
	SequenceID   int      `json:"sequence_id"`
	Enrolled     int      `json:"enrolled"`
	Skipped      int      `json:"skipped"`
	ExecutionIDs []string `json:"execution_ids"`
}

// EnrollContacts creates one execution per contact, due at the first step's
// delay. A contact with a live execution in this sequence is skipped: the
// store's uniqueness invariant makes enrollment idempotent.
func (s *SequenceService) EnrollContacts(ctx context.Context, sequenceID int, contactIDs []int) (*EnrollResult, error) {
	seq, err := s.Sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Status != model.SequenceActive {
		return nil, fmt.Errorf("sequence %d cannot enroll contacts in status %q", sequenceID, seq.Status)
	}
	first, ok := seq.FirstStep()
	if !ok {
		return nil, fmt.Errorf("sequence %d has no steps", sequenceID)
	}

	contacts, err := s.Contacts.ListByIDs(ctx, seq.TenantID, contactIDs)
	if err != nil {
		return nil, err
	}

	result := &EnrollResult{SequenceID: sequenceID, ExecutionIDs: []string{}}
	dueAt := s.now().Add(first.Delay())
	for _, contact := range contacts {
		exec := &model.Execution{
			TenantID:        seq.TenantID,
			SequenceID:      seq.ID,
			SequenceVersion: seq.Version,
			ContactID:       contact.ID,
			CurrentStepID:   first.ID,
			Status:          model.ExecutionScheduled,
			NextDueAt:       dueAt,
		}
		created, err := s.Executions.Enroll(ctx, exec)
		if err != nil {
			log.Warn().Err(err).Int("contact_id", contact.ID).Int("sequence_id", sequenceID).Msg("failed to enroll contact")
			continue
		}
		if !created {
			result.Skipped++
			continue
		}
		s.publish(queue.EventEnrolled, exec, "")
		result.Enrolled++
		result.ExecutionIDs = append(result.ExecutionIDs, exec.ID.String())
	}
	return result, nil
}

// RenderPreview personalizes one send step's template for a contact without
// sending anything. An override template, when given, is rendered instead of
// the stored one so drafts can be tried out before an UpdateSteps.
func (s *SequenceService) RenderPreview(ctx context.Context, sequenceID int, stepID string, contactID int, overrideTemplate *string) (string, error) {
	seq, err := s.Sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return "", err
	}
	step, ok := seq.StepByID(stepID)
	if !ok {
		return "", fmt.Errorf("step %q not in sequence %d", stepID, sequenceID)
	}
	if step.Kind != model.StepSend {
		return "", fmt.Errorf("step %q is not a send step", stepID)
	}
	contact, err := s.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}
	if contact == nil || contact.TenantID != seq.TenantID {
		return "", fmt.Errorf("contact %d not found for tenant %d", contactID, seq.TenantID)
	}
	template := step.Template
	if overrideTemplate != nil {
		template = *overrideTemplate
	}
	return sequence.Resolve(template, contact), nil
}

// CancelExecution withdraws a contact from a sequence. A step already in
// flight completes; the next claim never sees the execution again.
func (s *SequenceService) CancelExecution(ctx context.Context, id uuid.UUID) error {
	exec, err := s.Executions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Executions.Cancel(ctx, id); err != nil {
		return err
	}
	s.publish(queue.EventCancelled, exec, "")
	return nil
}

// GetExecution fetches one execution for the status views.
func (s *SequenceService) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	return s.Executions.GetByID(ctx, id)
}
