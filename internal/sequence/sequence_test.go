package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/model"
)

func TestResolveSubstitutesContactFields(t *testing.T) {
	contact := &model.Contact{
		FirstName: "Alice",
		LastName:  "Smith",
		Company:   "Acme",
		Attributes: map[string]string{
			"favorite_tool": "hammers",
		},
	}

	got := Resolve("Hi {{first_name}} {{last_name}}, how is {{company}} liking {{favorite_tool}}?", contact)
	assert.Equal(t, "Hi Alice Smith, how is Acme liking hammers?", got)
}

func TestResolveLeavesUnresolvedPlaceholdersVerbatim(t *testing.T) {
	contact := &model.Contact{FirstName: "Alice"}

	// Missing or empty fields must never block a send.
	got := Resolve("Hi {{first_name}}, greetings from {{sender_name}} at {{company}}", contact)
	assert.Equal(t, "Hi Alice, greetings from {{sender_name}} at {{company}}", got)
}

func TestResolveCustomAttributesDoNotShadowBuiltins(t *testing.T) {
	contact := &model.Contact{
		FirstName:  "Alice",
		Attributes: map[string]string{"first_name": "Mallory"},
	}
	assert.Equal(t, "Alice", Resolve("{{first_name}}", contact))
}

func linkedInSeq() *model.Sequence {
	return &model.Sequence{
		ID:        1,
		Name:      "connect and follow up",
		Platforms: []model.Platform{model.PlatformLinkedIn},
		Steps: []model.Step{
			{ID: "connect", Kind: model.StepSend, Channel: model.PlatformLinkedIn, Action: model.ActionConnect, Template: "Hi {{first_name}}"},
			{ID: "wait_2d", Kind: model.StepWait, DelaySeconds: 2 * 24 * 3600},
			{ID: "check_accepted", Kind: model.StepBranch, Branches: []model.BranchRule{
				{Outcome: model.OutcomeAccepted, NextStepID: "follow_up"},
				{Outcome: model.OutcomeReplied, NextStepID: "end"},
			}},
			{ID: "follow_up", Kind: model.StepSend, Channel: model.PlatformLinkedIn, Template: "Thanks {{first_name}}!"},
		},
	}
}

func TestNextStepMatchesConditionTable(t *testing.T) {
	seq := linkedInSeq()
	branch, ok := seq.StepByID("check_accepted")
	require.True(t, ok)

	next, more := NextStep(seq, branch, model.OutcomeAccepted)
	assert.True(t, more)
	assert.Equal(t, "follow_up", next)
}

func TestNextStepRepliedJumpsToEnd(t *testing.T) {
	seq := linkedInSeq()
	branch, _ := seq.StepByID("check_accepted")

	// replied -> "end" completes the execution, skipping the follow-up.
	_, more := NextStep(seq, branch, model.OutcomeReplied)
	assert.False(t, more)
}

func TestNextStepDefaultContinuation(t *testing.T) {
	seq := linkedInSeq()
	branch, _ := seq.StepByID("check_accepted")

	next, more := NextStep(seq, branch, model.OutcomeNone)
	assert.True(t, more)
	assert.Equal(t, "follow_up", next)
}

func TestNextStepUnknownOutcomeTreatedAsNone(t *testing.T) {
	seq := linkedInSeq()
	branch, _ := seq.StepByID("check_accepted")

	next, more := NextStep(seq, branch, model.Outcome("bounced"))
	assert.True(t, more)
	assert.Equal(t, "follow_up", next)
}

func TestNextStepEndOfSequence(t *testing.T) {
	seq := linkedInSeq()
	last, _ := seq.StepByID("follow_up")

	_, more := NextStep(seq, last, model.OutcomeNone)
	assert.False(t, more)
}

func TestValidateAcceptsWellFormedSequence(t *testing.T) {
	assert.NoError(t, Validate(linkedInSeq()))
}

func TestValidateRejectsDefects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *model.Sequence)
	}{
		{"no steps", func(s *model.Sequence) { s.Steps = nil }},
		{"no platforms", func(s *model.Sequence) { s.Platforms = nil }},
		{"duplicate step id", func(s *model.Sequence) { s.Steps[1].ID = "connect" }},
		{"reserved step id", func(s *model.Sequence) { s.Steps[1].ID = "end" }},
		{"send without channel", func(s *model.Sequence) { s.Steps[0].Channel = "" }},
		{"send outside platform set", func(s *model.Sequence) { s.Steps[0].Channel = model.PlatformEmail }},
		{"send without template", func(s *model.Sequence) { s.Steps[0].Template = "" }},
		{"wait without delay", func(s *model.Sequence) { s.Steps[1].DelaySeconds = 0 }},
		{"branch without rules", func(s *model.Sequence) { s.Steps[2].Branches = nil }},
		{"branch with unknown outcome", func(s *model.Sequence) {
			s.Steps[2].Branches[0].Outcome = model.Outcome("bounced")
		}},
		{"branch with unknown target", func(s *model.Sequence) {
			s.Steps[2].Branches[0].NextStepID = "nope"
		}},
		{"unknown kind", func(s *model.Sequence) { s.Steps[0].Kind = model.StepKind("poke") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq := linkedInSeq()
			tc.mutate(seq)
			assert.Error(t, Validate(seq))
		})
	}
}
