// internal/model/sequence.go
package model

import "time"

// StepKind discriminates the three step variants of a sequence.
type StepKind string

const (
	StepSend   StepKind = "send"
	StepWait   StepKind = "wait"
	StepBranch StepKind = "branch"
)

// Platform is an outreach channel a tenant account can send on.
type Platform string

const (
	PlatformLinkedIn Platform = "linkedin"
	PlatformEmail    Platform = "email"
	PlatformChat     Platform = "chat"
)

// ActionKind is the rate-limited action class a send step consumes.
// LinkedIn distinguishes connection requests from messages; every other
// platform only has messages.
type ActionKind string

const (
	ActionConnect ActionKind = "connection_request"
	ActionMessage ActionKind = "message"
)

// Outcome is the closed set of signals a branch step can observe.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeReplied  Outcome = "replied"
	OutcomeOpened   Outcome = "opened"
	OutcomeClicked  Outcome = "clicked"
	OutcomeNone     Outcome = "none"
)

// ParseOutcome normalizes a raw signal string. Anything outside the closed
// set collapses to OutcomeNone.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomeAccepted, OutcomeReplied, OutcomeOpened, OutcomeClicked:
		return Outcome(s)
	}
	return OutcomeNone
}

// BranchRule maps one observed outcome to the step that should run next.
type BranchRule struct {
	Outcome    Outcome `json:"outcome"`
	NextStepID string  `json:"next_step_id"`
}

// Step is a single unit of a sequence. Delay is relative to the previous
// step completing and gates when this step becomes due.
type Step struct {
	ID           string       `json:"id"`
	Kind         StepKind     `json:"kind"`
	Channel      Platform     `json:"channel,omitempty"`
	Action       ActionKind   `json:"action,omitempty"`
	DelaySeconds int64        `json:"delay_seconds,omitempty"`
	Template     string       `json:"template,omitempty"`
	Branches     []BranchRule `json:"branches,omitempty"`
	SkipIf       Outcome      `json:"skip_if,omitempty"`
	OnSkip       string       `json:"on_skip,omitempty"`
}

// Delay returns the step delay as a duration.
func (s Step) Delay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

// ActionOrDefault maps an unset action to the plain message class.
func (s Step) ActionOrDefault() ActionKind {
	if s.Action == "" {
		return ActionMessage
	}
	return s.Action
}

// Sequence is a declarative outreach campaign definition. Once activated a
// version is frozen; edits create a new version and running executions keep
// the version they started with.
type Sequence struct {
	ID        int        `db:"id" json:"id"`
	TenantID  int        `db:"tenant_id" json:"tenant_id"`
	Name      string     `db:"name" json:"name"`
	Status    string     `db:"status" json:"status"` // draft, active, archived
	Version   int        `db:"version" json:"version"`
	Platforms []Platform `db:"platforms" json:"platforms"`
	Steps     []Step     `db:"steps" json:"steps"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

const (
	SequenceDraft    = "draft"
	SequenceActive   = "active"
	SequenceArchived = "archived"
)

// StepByID returns the step with the given id, or false when absent.
func (s *Sequence) StepByID(id string) (Step, bool) {
	for _, st := range s.Steps {
		if st.ID == id {
			return st, true
		}
	}
	return Step{}, false
}

// StepAfter returns the step that follows the given id in definition order,
// or false when the id is the last step or unknown.
func (s *Sequence) StepAfter(id string) (Step, bool) {
	for i, st := range s.Steps {
		if st.ID == id && i+1 < len(s.Steps) {
			return s.Steps[i+1], true
		}
	}
	return Step{}, false
}

// FirstStep returns the initial step of the sequence.
func (s *Sequence) FirstStep() (Step, bool) {
	if len(s.Steps) == 0 {
		return Step{}, false
	}
	return s.Steps[0], true
}

// AllowsPlatform reports whether the sequence's platform set contains p.
func (s *Sequence) AllowsPlatform(p Platform) bool {
	for _, pl := range s.Platforms {
		if pl == p {
			return true
		}
	}
	return false
}
